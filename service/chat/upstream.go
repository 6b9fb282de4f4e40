package chat

import "context"

// Responder 上游应答方（LLM）
type Responder interface {
	// Reply 阻塞式应答
	Reply(ctx context.Context, conversationID, user, query string) (string, error)
	// StreamReply 流式应答；fn 返回错误即中止
	StreamReply(ctx context.Context, conversationID, user, query string, fn func(chunk string) error) error
}

// Transcriber 语音转文本（ASR）
type Transcriber interface {
	SpeechToText(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer 文本转语音（TTS）
type Synthesizer interface {
	TextToSpeech(ctx context.Context, text string) ([]byte, error)
}

// Transcript 一轮完整的问答记录
type Transcript struct {
	ConversationID string `json:"conversation_id"`
	ConnID         string `json:"conn_id"`
	DeviceID       string `json:"device_id"`
	Query          string `json:"query"`
	Reply          string `json:"reply"`
	Ts             int64  `json:"ts"`
}

// TranscriptSink 转写归档方；实现方决定落地（Kafka 等），失败不影响会话
type TranscriptSink interface {
	Archive(t Transcript)
}

// NopTranscripts 缺省空归档
type NopTranscripts struct{}

func (NopTranscripts) Archive(Transcript) {}
