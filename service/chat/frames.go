package chat

import (
	errs "XiaoChat/tools/errs"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// 文本帧类型
type FrameType string

const (
	FrameHello    FrameType = "hello"
	FrameState    FrameType = "state"
	FrameChat     FrameType = "chat"
	FrameAbort    FrameType = "abort"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
	FrameStateAck FrameType = "state_ack"
	FrameSTT      FrameType = "stt"
	FrameTTS      FrameType = "tts"
	FrameError    FrameType = "error"
	FrameResend   FrameType = "resend"
	FrameJoin     FrameType = "join"
	FrameLeave    FrameType = "leave"
)

// 二进制帧类型（4 字节头：type(1) reserved(1) payloadSize(2)，大端）
const (
	BinAudio byte = 0
	BinJSON  byte = 1

	binHeaderSize = 4
	maxBinPayload = 0xFFFF
)

// 设备端状态（state 帧）
const (
	DeviceIdle     = "idle"
	DeviceListen   = "listening"
	DeviceSpeaking = "speaking"
	DeviceWakeWord = "wake_word_detected"
	DeviceTesting  = "testing"
	DeviceUpgrade  = "upgrading"
)

type AudioParams struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

func DefaultAudioParams() AudioParams {
	return AudioParams{Format: "opus", SampleRate: 16000, Channels: 1}
}

// Frame 统一的文本帧信封；客户端与服务端共用一个结构
type Frame struct {
	Type    FrameType `json:"type"`
	Seq     uint64    `json:"seq,omitempty"`
	TraceID string    `json:"trace_id,omitempty"`
	Ts      int64     `json:"ts,omitempty"`

	// hello
	ResponseMode string       `json:"response_mode,omitempty"`
	AudioParams  *AudioParams `json:"audio_params,omitempty"`
	SessionID    string       `json:"session_id,omitempty"`

	// state / state_ack / tts
	State string `json:"state,omitempty"`

	// chat / stt / tts sentence
	Text string `json:"text,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Room string `json:"room,omitempty"`

	// tts start
	SampleRate int `json:"sample_rate,omitempty"`

	// error / resend
	Code      int    `json:"code,omitempty"`
	Msg       string `json:"msg,omitempty"`
	ExpectSeq uint64 `json:"expect_seq,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errs.ErrProtocol.WrapMsg("unmarshal frame failed", "err", err)
	}
	if f.Type == "" {
		return nil, errs.ErrProtocol.WrapMsg("frame type missing")
	}
	return f, nil
}

func EncodeFrame(f *Frame) []byte {
	if f.Ts == 0 {
		f.Ts = time.Now().UnixMilli()
	}
	data, err := json.Marshal(f)
	if err != nil {
		// Frame 只有可序列化字段，到这里属于编程错误
		return []byte(fmt.Sprintf(`{"type":"error","code":%d,"msg":"encode failed"}`, errs.ServerInternalError))
	}
	return data
}

// IsControl 控制帧不参与序号校验
func (f *Frame) IsControl() bool {
	switch f.Type {
	case FrameHello, FrameState, FrameAbort, FramePing, FramePong, FrameJoin, FrameLeave:
		return true
	}
	return false
}

// ParseBinary 解析二进制帧；返回帧类型与负载
func ParseBinary(raw []byte) (byte, []byte, error) {
	if len(raw) < binHeaderSize {
		return 0, nil, errs.ErrProtocol.WrapMsg("binary frame too short", "len", len(raw))
	}
	msgType := raw[0]
	payloadSize := int(binary.BigEndian.Uint16(raw[2:4]))
	if len(raw) != payloadSize+binHeaderSize {
		return 0, nil, errs.ErrProtocol.WrapMsg("binary length mismatch",
			"expect", payloadSize+binHeaderSize, "got", len(raw))
	}
	return msgType, raw[binHeaderSize:], nil
}

// BuildBinary 构造二进制帧；payload 超过上限返回 nil
func BuildBinary(msgType byte, payload []byte) []byte {
	if len(payload) > maxBinPayload {
		return nil
	}
	out := make([]byte, binHeaderSize+len(payload))
	out[0] = msgType
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[binHeaderSize:], payload)
	return out
}

// ---- 构造若干服务端回执 ----

func BuildHelloAck(sessionID string, params AudioParams) *Frame {
	return &Frame{
		Type:        FrameHello,
		SessionID:   sessionID,
		AudioParams: &params,
		Ts:          time.Now().UnixMilli(),
	}
}

func BuildStateAck(state string) *Frame {
	return &Frame{Type: FrameStateAck, State: state}
}

func BuildSTT(text string) *Frame {
	return &Frame{Type: FrameSTT, Text: text}
}

func BuildTTSStart(sampleRate int) *Frame {
	return &Frame{Type: FrameTTS, State: "start", SampleRate: sampleRate}
}

func BuildTTSSentenceStart(text string) *Frame {
	return &Frame{Type: FrameTTS, State: "sentence_start", Text: text}
}

func BuildTTSSentenceEnd() *Frame {
	return &Frame{Type: FrameTTS, State: "sentence_end"}
}

func BuildTTSStop() *Frame {
	return &Frame{Type: FrameTTS, State: "stop"}
}

func BuildErrorFrame(err error) *Frame {
	return &Frame{Type: FrameError, Code: errs.CodeOf(err), Msg: err.Error()}
}

// BuildResend 序号不连续时要求客户端从 expect 重发
func BuildResend(expect uint64) *Frame {
	return &Frame{Type: FrameResend, ExpectSeq: expect, Code: errs.OutOfOrderError}
}
