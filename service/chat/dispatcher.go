package chat

import (
	errs "XiaoChat/tools/errs"

	"XiaoChat/logger"
)

// Handler 按帧类型注册的处理器
type Handler interface {
	Type() FrameType
	Handle(ctx *ChatContext, f *Frame, c *ClientConn) error
}

// ChatContext 处理器上下文；携带服务端引用与当前会话
type ChatContext struct {
	S    *Server
	Sess *Session
}

// Reply 给当前连接回帧（走出站队列）
func (ctx *ChatContext) Reply(c *ClientConn, f *Frame) RecipientStatus {
	return ctx.S.Router().SendFrame(c.ConnID, f)
}

type Dispatcher struct {
	handlers map[FrameType]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[FrameType]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

func (d *Dispatcher) Dispatch(ctx *ChatContext, f *Frame, c *ClientConn) error {
	h, ok := d.handlers[f.Type]
	if !ok {
		return errs.ErrProtocol.WrapMsg("no handler for type", "type", string(f.Type))
	}
	return h.Handle(ctx, f, c)
}

func (d *Dispatcher) GetHandler(t FrameType) Handler {
	h, ok := d.handlers[t]
	if !ok {
		logger.Infof("no handler for type=%v", t)
		return nil
	}
	return h
}
