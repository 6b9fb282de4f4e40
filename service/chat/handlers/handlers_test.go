package handlers

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"XiaoChat/service/chat"
)

type nopTransport struct{}

func (nopTransport) WriteText([]byte, time.Duration) error   { return nil }
func (nopTransport) WriteBinary([]byte, time.Duration) error { return nil }
func (nopTransport) Close() error                            { return nil }
func (nopTransport) RemoteAddr() net.Addr                    { return nil }

func newHandlerEnv(t *testing.T) (*chat.Server, *chat.ClientConn, *chat.Session) {
	t.Helper()
	srv := chat.NewServer(chat.ServerConf{
		GatewayID:  "gw-test",
		SweepEvery: time.Hour,
	}, nil, nil, nil, nil, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	c, err := srv.ConnMgr().Register("conn-1", "dev-1", nopTransport{})
	require.NoError(t, err)
	sess, err := srv.Sessions().Create("conn-1")
	require.NoError(t, err)
	return srv, c, sess
}

func nextFrame(t *testing.T, c *chat.ClientConn) *chat.Frame {
	t.Helper()
	item, err := c.SendQ.Dequeue(context.Background())
	require.NoError(t, err)
	f := &chat.Frame{}
	require.NoError(t, json.Unmarshal(item.Data, f))
	return f
}

func TestHelloNegotiatesAndAcks(t *testing.T) {
	srv, c, sess := newHandlerEnv(t)
	ctx := &chat.ChatContext{S: srv, Sess: sess}

	err := HelloHandler{}.Handle(ctx, &chat.Frame{
		Type:         chat.FrameHello,
		ResponseMode: "realtime",
		AudioParams:  &chat.AudioParams{Format: "opus", SampleRate: 24000, Channels: 1},
	}, c)
	require.NoError(t, err)
	require.Equal(t, "realtime", sess.ResponseMode())

	ack := nextFrame(t, c)
	require.Equal(t, chat.FrameHello, ack.Type)
	require.Equal(t, sess.ID, ack.SessionID)
	require.Equal(t, 24000, ack.AudioParams.SampleRate)
}

func TestWakeWordGetsStateAck(t *testing.T) {
	srv, c, sess := newHandlerEnv(t)
	ctx := &chat.ChatContext{S: srv, Sess: sess}

	err := StateHandler{}.Handle(ctx, &chat.Frame{Type: chat.FrameState, State: chat.DeviceWakeWord}, c)
	require.NoError(t, err)
	require.Equal(t, chat.DeviceListen, sess.DeviceState())

	ack := nextFrame(t, c)
	require.Equal(t, chat.FrameStateAck, ack.Type)
	require.Equal(t, chat.DeviceWakeWord, ack.State)
}

func TestPlainStateNoAck(t *testing.T) {
	srv, c, sess := newHandlerEnv(t)
	ctx := &chat.ChatContext{S: srv, Sess: sess}

	err := StateHandler{}.Handle(ctx, &chat.Frame{Type: chat.FrameState, State: chat.DeviceSpeaking}, c)
	require.NoError(t, err)
	require.Equal(t, chat.DeviceSpeaking, sess.DeviceState())
	require.Equal(t, 0, c.SendQ.Len())
}

func TestAbortCancelsExchange(t *testing.T) {
	srv, c, sess := newHandlerEnv(t)
	ctx := &chat.ChatContext{S: srv, Sess: sess}

	require.NoError(t, sess.Begin(false))
	err := AbortHandler{}.Handle(ctx, &chat.Frame{Type: chat.FrameAbort}, c)
	require.NoError(t, err)
	require.Equal(t, chat.StateIdle, sess.State())

	stop := nextFrame(t, c)
	require.Equal(t, chat.FrameTTS, stop.Type)
	require.Equal(t, "stop", stop.State)
}

func TestPingPong(t *testing.T) {
	srv, c, sess := newHandlerEnv(t)
	ctx := &chat.ChatContext{S: srv, Sess: sess}

	err := PingHandler{}.Handle(ctx, &chat.Frame{Type: chat.FramePing, TraceID: "tr-1"}, c)
	require.NoError(t, err)

	pong := nextFrame(t, c)
	require.Equal(t, chat.FramePong, pong.Type)
	require.Equal(t, "tr-1", pong.TraceID)
}

func TestJoinLeaveRoom(t *testing.T) {
	srv, c, sess := newHandlerEnv(t)
	ctx := &chat.ChatContext{S: srv, Sess: sess}

	require.Error(t, JoinHandler{}.Handle(ctx, &chat.Frame{Type: chat.FrameJoin}, c))

	require.NoError(t, JoinHandler{}.Handle(ctx, &chat.Frame{Type: chat.FrameJoin, Room: "lobby"}, c))
	require.Contains(t, srv.Rooms().Members("lobby"), "conn-1")

	require.NoError(t, LeaveHandler{}.Handle(ctx, &chat.Frame{Type: chat.FrameLeave, Room: "lobby"}, c))
	require.Empty(t, srv.Rooms().Members("lobby"))
}

func TestChatRelayBetweenConns(t *testing.T) {
	srv, _, sess := newHandlerEnv(t)
	ctx := &chat.ChatContext{S: srv, Sess: sess}

	a, _ := srv.ConnMgr().Lookup("conn-1")
	b, err := srv.ConnMgr().Register("conn-2", "dev-2", nopTransport{})
	require.NoError(t, err)
	_, err = srv.Sessions().Create("conn-2")
	require.NoError(t, err)

	err = ChatHandler{}.Handle(ctx, &chat.Frame{Type: chat.FrameChat, Seq: 1, To: "conn-2", Text: "hi"}, a)
	require.NoError(t, err)

	relay := nextFrame(t, b)
	require.Equal(t, "hi", relay.Text)
	require.Equal(t, "conn-1", relay.From)
}
