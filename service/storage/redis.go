package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	errs "XiaoChat/tools/errs"
)

// RedisConf Redis 连接配置
type RedisConf struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedis 建连并探活
func NewRedis(c RedisConf) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "redis ping", "addr", c.Addr)
	}
	return rdb, nil
}
