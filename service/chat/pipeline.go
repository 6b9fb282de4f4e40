package chat

import (
	"XiaoChat/logger"
	errs "XiaoChat/tools/errs"
	"context"
	"strings"
	"time"
)

// Pipeline 一轮问答的编排：音频/文本入站 → 上游应答 → 流式回写。
// 会话状态机约束节奏：上游在途时 AwaitingResponse，回写阶段 Streaming。
// 取消是协作式的：每个挂起点检查连接存活与会话 context。
type Pipeline struct {
	router  *Router
	asr     Transcriber
	tts     Synthesizer
	llm     Responder
	archive TranscriptSink

	serviceTimeout time.Duration
}

func NewPipeline(router *Router, asr Transcriber, tts Synthesizer, llm Responder,
	archive TranscriptSink, serviceTimeout time.Duration) *Pipeline {
	if archive == nil {
		archive = NopTranscripts{}
	}
	return &Pipeline{
		router:         router,
		asr:            asr,
		tts:            tts,
		llm:            llm,
		archive:        archive,
		serviceTimeout: serviceTimeout,
	}
}

// HandleAudio 一段完整话音：ASR → stt 回执 → LLM → tts 流程回写
func (p *Pipeline) HandleAudio(sess *Session, c *ClientConn, payload []byte) error {
	if len(payload) == 0 {
		// 空负载是句子边界标记
		return nil
	}
	if p.asr == nil || p.tts == nil {
		return errs.ErrServerInternal.WrapMsg("speech services not configured")
	}
	if err := sess.Begin(false); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(sess.Context(), p.serviceTimeout)
	text, err := p.asr.SpeechToText(ctx, payload)
	cancel()
	if err != nil {
		_ = sess.Cancel("asr failed")
		return errs.WrapMsg(err, "asr")
	}
	if !c.Alive() {
		_ = sess.Cancel("conn gone")
		return errs.ErrTransportClosed.WrapMsg("after asr", "conn_id", c.ConnID)
	}
	p.router.SendFrame(c.ConnID, BuildSTT(text))

	reply, err := p.replyBlocking(sess, c, text)
	if err != nil {
		_ = sess.Cancel("llm failed")
		return err
	}

	if err := sess.ResponseReady(); err != nil {
		// 等待期间被取消/超时，丢弃这轮应答
		return err
	}
	if err := p.streamTTS(sess, c, reply); err != nil {
		_ = sess.Cancel("tts failed")
		return err
	}
	if err := sess.Complete(); err != nil {
		return err
	}

	p.archive.Archive(Transcript{
		ConversationID: sess.ConversationID,
		ConnID:         c.ConnID,
		DeviceID:       c.DeviceID,
		Query:          text,
		Reply:          reply,
		Ts:             time.Now().UnixMilli(),
	})
	return nil
}

// HandleChat 文本问答；流式回写 chat 分片
func (p *Pipeline) HandleChat(sess *Session, c *ClientConn, query string) error {
	if err := sess.Begin(false); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(sess.Context(), p.serviceTimeout)
	defer cancel()

	var full strings.Builder
	started := false
	err := p.llm.StreamReply(ctx, sess.ConversationID, c.DeviceID, query, func(chunk string) error {
		if !c.Alive() {
			return errs.ErrTransportClosed.WrapMsg("mid stream", "conn_id", c.ConnID)
		}
		if !started {
			if err := sess.ResponseReady(); err != nil {
				return err
			}
			p.router.SendFrame(c.ConnID, &Frame{Type: FrameChat, State: "start"})
			started = true
		}
		full.WriteString(chunk)
		st := p.router.SendFrame(c.ConnID, &Frame{Type: FrameChat, Text: chunk})
		if st == RecipientFailed {
			return errs.ErrTransportClosed.WrapMsg("chunk send", "conn_id", c.ConnID)
		}
		return nil
	})
	if err != nil {
		_ = sess.Cancel("llm stream failed")
		return errs.WrapMsg(err, "llm stream")
	}
	if !started {
		// 上游一个分片都没给，仍要走完整状态周期
		if err := sess.ResponseReady(); err != nil {
			return err
		}
	}
	p.router.SendFrame(c.ConnID, &Frame{Type: FrameChat, State: "stop"})
	if err := sess.Complete(); err != nil {
		return err
	}

	p.archive.Archive(Transcript{
		ConversationID: sess.ConversationID,
		ConnID:         c.ConnID,
		DeviceID:       c.DeviceID,
		Query:          query,
		Reply:          full.String(),
		Ts:             time.Now().UnixMilli(),
	})
	return nil
}

func (p *Pipeline) replyBlocking(sess *Session, c *ClientConn, query string) (string, error) {
	ctx, cancel := context.WithTimeout(sess.Context(), p.serviceTimeout)
	defer cancel()
	reply, err := p.llm.Reply(ctx, sess.ConversationID, c.DeviceID, query)
	if err != nil {
		return "", errs.WrapMsg(err, "llm")
	}
	logger.Debugf("[pipeline] llm reply conv=%s len=%d", sess.ConversationID, len(reply))
	return reply, nil
}

// streamTTS 按 tts 协议回写：start → sentence_start → 音频分片 → sentence_end → stop
func (p *Pipeline) streamTTS(sess *Session, c *ClientConn, text string) error {
	params := sess.AudioParams()
	p.router.SendFrame(c.ConnID, BuildTTSStart(params.SampleRate))
	p.router.SendFrame(c.ConnID, BuildTTSSentenceStart(text))

	ctx, cancel := context.WithTimeout(sess.Context(), p.serviceTimeout)
	audio, err := p.tts.TextToSpeech(ctx, text)
	cancel()
	if err != nil {
		return errs.WrapMsg(err, "tts")
	}

	// 二进制帧负载上限 64KB，超长音频切片发送
	for off := 0; off < len(audio); off += maxBinPayload {
		if !c.Alive() {
			return errs.ErrTransportClosed.WrapMsg("mid audio", "conn_id", c.ConnID)
		}
		end := off + maxBinPayload
		if end > len(audio) {
			end = len(audio)
		}
		frame := BuildBinary(BinAudio, audio[off:end])
		c.SendQ.Enqueue(Outbound{Binary: true, Data: frame})
	}

	p.router.SendFrame(c.ConnID, BuildTTSSentenceEnd())
	p.router.SendFrame(c.ConnID, BuildTTSStop())
	return nil
}
