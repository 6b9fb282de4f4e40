package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRecognizerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			mt, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			require.Equal(t, websocket.BinaryMessage, mt)
			resp, _ := json.Marshal(sttResult{Type: "stt", Text: "识别结果 " + string(rune('0'+len(data)))})
			_ = conn.WriteMessage(websocket.TextMessage, resp)
		}
	}))
	defer srv.Close()

	rec := NewRecognizer(wsURL(srv), ReconnectConf{MaxAttempts: 2, Delay: 10 * time.Millisecond})
	defer rec.Close()

	text, err := rec.SpeechToText(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, "识别结果 3", text)

	// 同一连接复用
	text, err = rec.SpeechToText(context.Background(), []byte{1})
	require.NoError(t, err)
	require.Equal(t, "识别结果 1", text)
}

func TestSpeakerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			var req ttsRequest
			require.NoError(t, json.Unmarshal(data, &req))
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte(req.Text))
		}
	}))
	defer srv.Close()

	sp := NewSpeaker(wsURL(srv), ReconnectConf{MaxAttempts: 2, Delay: 10 * time.Millisecond})
	defer sp.Close()

	audio, err := sp.TextToSpeech(context.Background(), "你好")
	require.NoError(t, err)
	require.Equal(t, []byte("你好"), audio)
}

func TestDialExhaustsAttempts(t *testing.T) {
	rec := NewRecognizer("ws://127.0.0.1:1", ReconnectConf{MaxAttempts: 2, Delay: time.Millisecond})
	defer rec.Close()

	start := time.Now()
	_, err := rec.SpeechToText(context.Background(), []byte{1})
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestReconnectAfterServerRestart(t *testing.T) {
	var drops int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		// 第一条连接直接断开，迫使客户端重连重发
		if drops == 0 {
			drops++
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			_, _, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			resp, _ := json.Marshal(sttResult{Text: "ok"})
			_ = conn.WriteMessage(websocket.TextMessage, resp)
		}
	}))
	defer srv.Close()

	rec := NewRecognizer(wsURL(srv), ReconnectConf{MaxAttempts: 3, Delay: 10 * time.Millisecond})
	defer rec.Close()

	text, err := rec.SpeechToText(context.Background(), []byte{9})
	require.NoError(t, err)
	require.Equal(t, "ok", text)
}
