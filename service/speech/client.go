package speech

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"XiaoChat/logger"
	errs "XiaoChat/tools/errs"
)

// ReconnectConf 上游断线重连策略；线性退避，次数用尽放弃
type ReconnectConf struct {
	MaxAttempts int
	Delay       time.Duration
}

func (c *ReconnectConf) norm() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Delay <= 0 {
		c.Delay = time.Second
	}
}

// wsClient 单连接、单在途请求的上游 websocket 客户端。
// ASR/TTS 上游都是一问一答，互斥锁天然串行化。
type wsClient struct {
	uri  string
	name string
	rc   ReconnectConf

	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSClient(name, uri string, rc ReconnectConf) *wsClient {
	rc.norm()
	return &wsClient{uri: uri, name: name, rc: rc}
}

// ensureLocked 建立连接；调用方持锁
func (w *wsClient) ensureLocked(ctx context.Context) error {
	if w.conn != nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= w.rc.MaxAttempts; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.uri, nil)
		if err == nil {
			w.conn = conn
			logger.Infof("[%s] connected uri=%s", w.name, w.uri)
			return nil
		}
		lastErr = err
		logger.Warnf("[%s] dial attempt %d/%d failed: %v", w.name, attempt, w.rc.MaxAttempts, err)
		if attempt == w.rc.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(ctx.Err())
		case <-time.After(w.rc.Delay * time.Duration(attempt)):
		}
	}
	return errs.WrapMsg(lastErr, "upstream dial exhausted", "name", w.name)
}

func (w *wsClient) dropLocked() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}

// roundTrip 发一条消息并等一条应答；连接坏了重连重发一次
func (w *wsClient) roundTrip(ctx context.Context, msgType int, payload []byte) (int, []byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for try := 0; try < 2; try++ {
		if err := w.ensureLocked(ctx); err != nil {
			return 0, nil, err
		}
		if dl, ok := ctx.Deadline(); ok {
			_ = w.conn.SetWriteDeadline(dl)
			_ = w.conn.SetReadDeadline(dl)
		}
		if err := w.conn.WriteMessage(msgType, payload); err != nil {
			logger.Warnf("[%s] write failed, reconnecting: %v", w.name, err)
			w.dropLocked()
			continue
		}
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			logger.Warnf("[%s] read failed, reconnecting: %v", w.name, err)
			w.dropLocked()
			continue
		}
		return mt, data, nil
	}
	return 0, nil, errs.ErrServerInternal.WrapMsg("upstream exchange failed", "name", w.name)
}

func (w *wsClient) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dropLocked()
}

// Recognizer 语音识别上游；音频进文本出
type Recognizer struct {
	ws *wsClient
}

func NewRecognizer(uri string, rc ReconnectConf) *Recognizer {
	return &Recognizer{ws: newWSClient("asr", uri, rc)}
}

type sttResult struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (r *Recognizer) SpeechToText(ctx context.Context, audio []byte) (string, error) {
	_, data, err := r.ws.roundTrip(ctx, websocket.BinaryMessage, audio)
	if err != nil {
		return "", err
	}
	var res sttResult
	if uerr := json.Unmarshal(data, &res); uerr != nil {
		return "", errs.WrapMsg(uerr, "asr decode result")
	}
	return res.Text, nil
}

func (r *Recognizer) Close() { r.ws.close() }

// Speaker 语音合成上游；文本进音频出
type Speaker struct {
	ws *wsClient
}

func NewSpeaker(uri string, rc ReconnectConf) *Speaker {
	return &Speaker{ws: newWSClient("tts", uri, rc)}
}

type ttsRequest struct {
	Text string `json:"text"`
}

func (s *Speaker) TextToSpeech(ctx context.Context, text string) ([]byte, error) {
	req, err := json.Marshal(ttsRequest{Text: text})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	mt, data, err := s.ws.roundTrip(ctx, websocket.TextMessage, req)
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, errs.ErrProtocol.WrapMsg("tts expects binary audio", "got_type", mt)
	}
	return data, nil
}

func (s *Speaker) Close() { s.ws.close() }
