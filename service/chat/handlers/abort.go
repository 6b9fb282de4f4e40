package handlers

import (
	"XiaoChat/logger"
	"XiaoChat/service/chat"
)

// AbortHandler 设备打断当前应答；任何非关闭态都允许
type AbortHandler struct{}

func (AbortHandler) Type() chat.FrameType { return chat.FrameAbort }

func (AbortHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, c *chat.ClientConn) error {
	if err := ctx.Sess.Cancel("client abort"); err != nil {
		return err
	}
	logger.Infof("[abort] conn_id=%s session=%s", c.ConnID, ctx.Sess.ID)
	ctx.Reply(c, chat.BuildTTSStop())
	return nil
}
