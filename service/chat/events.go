package chat

import "time"

// 遥测事件种类
const (
	EventConnOpen     = "conn.open"
	EventConnClose    = "conn.close"
	EventConnExpired  = "conn.expired"
	EventSessionDrop  = "queue.drop"
	EventSessionAband = "session.abandoned"
	EventTimeout      = "session.timeout"
	EventRoomJoin     = "room.join"
	EventRoomLeave    = "room.leave"
)

// Event 上报给观测方的事件；核心不落日志/指标，只负责发出
type Event struct {
	Kind   string `json:"kind"`
	ConnID string `json:"conn_id,omitempty"`
	Device string `json:"device_id,omitempty"`
	Room   string `json:"room,omitempty"`
	Detail string `json:"detail,omitempty"`
	Count  uint64 `json:"count,omitempty"`
	Ts     int64  `json:"ts"`
}

// EventSink 观测方接口；实现方自行决定落地方式（日志、NATS 等）
type EventSink interface {
	Emit(e Event)
}

// NopSink 缺省空实现
type NopSink struct{}

func (NopSink) Emit(Event) {}

func newEvent(kind, connID string) Event {
	return Event{Kind: kind, ConnID: connID, Ts: time.Now().UnixMilli()}
}
