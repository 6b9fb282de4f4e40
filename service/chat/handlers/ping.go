package handlers

import "XiaoChat/service/chat"

// PingHandler 应用层心跳；刷新活跃时间并回 pong
type PingHandler struct{}

func (PingHandler) Type() chat.FrameType { return chat.FramePing }

func (PingHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, c *chat.ClientConn) error {
	if err := ctx.S.ConnMgr().RefreshActivity(c.ConnID); err != nil {
		return err
	}
	ctx.Reply(c, &chat.Frame{Type: chat.FramePong, TraceID: f.TraceID})
	return nil
}
