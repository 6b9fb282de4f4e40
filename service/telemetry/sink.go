package telemetry

import (
	"encoding/json"

	"XiaoChat/logger"
	"XiaoChat/service/chat"
)

// LogSink 把运行事件打进结构化日志
type LogSink struct{}

func (LogSink) Emit(ev chat.Event) {
	logger.Infof("[event] kind=%s conn_id=%s device=%s room=%s detail=%s",
		ev.Kind, ev.ConnID, ev.Device, ev.Room, ev.Detail)
}

// MultiSink 事件广播给多个下游
type MultiSink []chat.EventSink

func (m MultiSink) Emit(ev chat.Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

func encodeEvent(ev chat.Event) []byte {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	return raw
}

func decodeEvent(raw []byte, ev *chat.Event) error {
	return json.Unmarshal(raw, ev)
}
