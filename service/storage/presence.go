package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	errs "XiaoChat/tools/errs"
)

// presence key: xiaochat:presence:<device>
// hash: conn_id -> gateway_id；TTL 控制在线有效期，同设备多连接共存
func presenceKey(deviceID string) string { return "xiaochat:presence:" + deviceID }

// Presence 设备在线表
type Presence struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPresence(rdb *redis.Client, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Presence{rdb: rdb, ttl: ttl}
}

// Online 标记连接在线并续期
func (p *Presence) Online(ctx context.Context, deviceID, connID, gatewayID string) error {
	key := presenceKey(deviceID)
	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, key, connID, gatewayID)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.WrapMsg(err, "presence online", "device", deviceID)
	}
	return nil
}

// Offline 摘除连接；设备最后一条连接下线后整个 key 自然过期
func (p *Presence) Offline(ctx context.Context, deviceID, connID string) error {
	if err := p.rdb.HDel(ctx, presenceKey(deviceID), connID).Err(); err != nil {
		return errs.WrapMsg(err, "presence offline", "device", deviceID)
	}
	return nil
}

// Lookup 查设备在线的连接集合（conn_id -> gateway_id）
func (p *Presence) Lookup(ctx context.Context, deviceID string) (map[string]string, error) {
	res, err := p.rdb.HGetAll(ctx, presenceKey(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "presence lookup", "device", deviceID)
	}
	return res, nil
}
