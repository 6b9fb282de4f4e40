package handlers

import (
	"XiaoChat/logger"
	"XiaoChat/service/chat"
)

// HelloHandler 客户端握手后的第一条业务帧；协商音频参数并回 session_id
type HelloHandler struct{}

func (HelloHandler) Type() chat.FrameType { return chat.FrameHello }

func (HelloHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, c *chat.ClientConn) error {
	ctx.Sess.ApplyHello(f.ResponseMode, f.AudioParams)

	logger.Infof("[hello] conn_id=%s mode=%s session=%s",
		c.ConnID, ctx.Sess.ResponseMode(), ctx.Sess.ID)

	ctx.Reply(c, chat.BuildHelloAck(ctx.Sess.ID, ctx.Sess.AudioParams()))
	return nil
}
