package handlers

import (
	"XiaoChat/logger"
	"XiaoChat/service/chat"
	"XiaoChat/tools/safe"
)

// ChatHandler 文本消息。带 to/room 的走路由转发，
// 否则交给大模型流水线作为一轮问答处理。
type ChatHandler struct{}

func (ChatHandler) Type() chat.FrameType { return chat.FrameChat }

func (ChatHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, c *chat.ClientConn) error {
	res, err := ctx.S.Router().Dispatch(c.ConnID, f)
	if err != nil {
		return err
	}

	if f.To != "" || f.Room != "" {
		for _, r := range res.Results {
			if r.Status != chat.RecipientQueued {
				logger.Infof("[chat] delivery degraded from=%s to=%s status=%s",
					c.ConnID, r.ConnID, r.Status)
			}
		}
		return nil
	}

	query := f.Text
	if query == "" {
		return nil
	}
	sess := ctx.Sess
	srv := ctx.S
	safe.SafeGo(func() {
		if perr := srv.Pipeline().HandleChat(sess, c, query); perr != nil {
			logger.Infof("[chat] pipeline err conn_id=%s err=%v", c.ConnID, perr)
			srv.Router().SendFrame(c.ConnID, chat.BuildErrorFrame(perr))
		}
	})
	return nil
}
