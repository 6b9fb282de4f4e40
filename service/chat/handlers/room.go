package handlers

import (
	errs "XiaoChat/tools/errs"

	"XiaoChat/logger"
	"XiaoChat/service/chat"
)

// JoinHandler 加入房间
type JoinHandler struct{}

func (JoinHandler) Type() chat.FrameType { return chat.FrameJoin }

func (JoinHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, c *chat.ClientConn) error {
	if f.Room == "" {
		return errs.ErrArgs.WrapMsg("join requires room")
	}
	ctx.S.Rooms().Join(f.Room, c.ConnID)
	logger.Infof("[room] join room=%s conn_id=%s", f.Room, c.ConnID)
	return nil
}

// LeaveHandler 离开房间
type LeaveHandler struct{}

func (LeaveHandler) Type() chat.FrameType { return chat.FrameLeave }

func (LeaveHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, c *chat.ClientConn) error {
	if f.Room == "" {
		return errs.ErrArgs.WrapMsg("leave requires room")
	}
	ctx.S.Rooms().Leave(f.Room, c.ConnID)
	logger.Infof("[room] leave room=%s conn_id=%s", f.Room, c.ConnID)
	return nil
}
