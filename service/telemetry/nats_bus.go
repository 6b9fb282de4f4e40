package telemetry

import (
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"XiaoChat/logger"
	"XiaoChat/service/chat"
	errs "XiaoChat/tools/errs"
)

// BusConfig NATS 事件总线配置
type BusConfig struct {
	Servers       []string
	Name          string
	SubjectPrefix string // 缺省 xiaochat.events
	ReconnectWait time.Duration
	Timeout       time.Duration
}

func (c *BusConfig) norm() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "xiaochat.events"
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.Name == "" {
		c.Name = "xiaochat-gateway"
	}
}

// Bus 把网关运行事件发到 NATS，主题按事件种类分层：
// <prefix>.conn.open / <prefix>.queue.drop ...
// 发布失败只记日志，绝不反压到会话路径。
type Bus struct {
	cfg BusConfig
	nc  *nats.Conn
}

func NewBus(cfg BusConfig) (*Bus, error) {
	cfg.norm()
	if len(cfg.Servers) == 0 {
		return nil, errs.New("nats servers missing")
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "connect nats")
	}
	return &Bus{cfg: cfg, nc: nc}, nil
}

func (b *Bus) Emit(ev chat.Event) {
	raw := encodeEvent(ev)
	if raw == nil {
		return
	}
	subject := b.cfg.SubjectPrefix + "." + ev.Kind
	if err := b.nc.Publish(subject, raw); err != nil {
		logger.Warnf("[telemetry] publish failed subject=%s err=%v", subject, err)
	}
}

// Subscribe 订阅事件流（运维工具、测试用）
func (b *Bus) Subscribe(kind string, fn func(ev chat.Event)) (*nats.Subscription, error) {
	subject := b.cfg.SubjectPrefix + "." + kind
	return b.nc.Subscribe(subject, func(m *nats.Msg) {
		var ev chat.Event
		if err := decodeEvent(m.Data, &ev); err != nil {
			logger.Warnf("[telemetry] bad event payload subject=%s err=%v", subject, err)
			return
		}
		fn(ev)
	})
}

func (b *Bus) Close() {
	if b.nc != nil {
		_ = b.nc.Drain()
	}
}
