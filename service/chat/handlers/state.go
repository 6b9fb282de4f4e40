package handlers

import (
	"XiaoChat/logger"
	"XiaoChat/service/chat"
)

// StateHandler 设备上报状态（listening / speaking / wake_word_detected ...）
type StateHandler struct{}

func (StateHandler) Type() chat.FrameType { return chat.FrameState }

func (StateHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, c *chat.ClientConn) error {
	switch f.State {
	case chat.DeviceIdle, chat.DeviceListen, chat.DeviceSpeaking,
		chat.DeviceTesting, chat.DeviceUpgrade:
		ctx.Sess.SetDeviceState(f.State)
	case chat.DeviceWakeWord:
		// 唤醒词需要回执，设备据此开始推音频
		ctx.Sess.SetDeviceState(chat.DeviceListen)
		ctx.Reply(c, chat.BuildStateAck(f.State))
	default:
		logger.Infof("[state] unknown state=%q conn_id=%s", f.State, c.ConnID)
	}
	return nil
}
