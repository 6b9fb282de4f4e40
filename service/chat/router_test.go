package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	errs "XiaoChat/tools/errs"
)

type routerEnv struct {
	mgr      *ConnManager
	rooms    *RoomRegistry
	sessions *SessionManager
	router   *Router
}

func newRouterEnv(t *testing.T, conf ManagerConf) *routerEnv {
	t.Helper()
	if conf.SweepEvery == 0 {
		conf.SweepEvery = time.Hour
	}
	env := &routerEnv{
		mgr:      NewConnManager(conf, "gw-test", nil),
		rooms:    NewRoomRegistry(nil),
		sessions: NewSessionManager(time.Minute, nil),
	}
	fan := NewFanout(2, 16)
	env.router = NewRouter(env.mgr, env.rooms, fan, env.sessions)
	t.Cleanup(func() {
		env.mgr.Close()
		fan.Close()
	})
	return env
}

func (e *routerEnv) connect(t *testing.T, connID string) *ClientConn {
	t.Helper()
	c, err := e.mgr.Register(connID, "dev-"+connID, &fakeTransport{})
	require.NoError(t, err)
	_, err = e.sessions.Create(connID)
	require.NoError(t, err)
	return c
}

func dequeueFrame(t *testing.T, c *ClientConn) *Frame {
	t.Helper()
	require.Greater(t, c.SendQ.Len(), 0, "expected a queued frame")
	item, err := c.SendQ.Dequeue(context.Background())
	require.NoError(t, err)
	f := &Frame{}
	require.NoError(t, json.Unmarshal(item.Data, f))
	return f
}

func TestSeqMustBeContiguous(t *testing.T) {
	env := newRouterEnv(t, ManagerConf{})
	env.connect(t, "a")

	_, err := env.router.Dispatch("a", &Frame{Type: FrameChat, Seq: 1, Text: "hi"})
	require.NoError(t, err)

	// 跳号拒绝且不推进
	_, err = env.router.Dispatch("a", &Frame{Type: FrameChat, Seq: 3, Text: "skip"})
	require.True(t, errs.ErrOutOfOrder.Is(err))
	require.Equal(t, uint64(2), env.router.ExpectedSeq("a"))

	// 重复序号同样拒绝
	_, err = env.router.Dispatch("a", &Frame{Type: FrameChat, Seq: 1, Text: "dup"})
	require.True(t, errs.ErrOutOfOrder.Is(err))

	_, err = env.router.Dispatch("a", &Frame{Type: FrameChat, Seq: 2, Text: "ok"})
	require.NoError(t, err)
}

func TestControlFramesSkipSeqCheck(t *testing.T) {
	env := newRouterEnv(t, ManagerConf{})
	env.connect(t, "a")

	// 控制帧不带序号也不占序号
	_, err := env.router.Dispatch("a", &Frame{Type: FramePing})
	require.NoError(t, err)
	_, err = env.router.Dispatch("a", &Frame{Type: FrameAbort, Seq: 77})
	require.NoError(t, err)

	require.Equal(t, uint64(1), env.router.ExpectedSeq("a"))
}

func TestForgetSeqResets(t *testing.T) {
	env := newRouterEnv(t, ManagerConf{})
	env.connect(t, "a")

	_, err := env.router.Dispatch("a", &Frame{Type: FrameChat, Seq: 1})
	require.NoError(t, err)

	env.router.ForgetSeq("a")
	require.Equal(t, uint64(1), env.router.ExpectedSeq("a"))
}

func TestDirectDelivery(t *testing.T) {
	env := newRouterEnv(t, ManagerConf{})
	env.connect(t, "a")
	b := env.connect(t, "b")

	res, err := env.router.Dispatch("a", &Frame{Type: FrameChat, Seq: 1, To: "b", Text: "hello"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	require.Equal(t, RecipientQueued, res.Results[0].Status)

	got := dequeueFrame(t, b)
	require.Equal(t, "hello", got.Text)
	require.Equal(t, "a", got.From)
}

func TestDispatchUnknownSource(t *testing.T) {
	env := newRouterEnv(t, ManagerConf{})
	_, err := env.router.Dispatch("ghost", &Frame{Type: FrameChat, Seq: 1})
	require.True(t, errs.ErrConnNotFound.Is(err))
}

func TestDispatchAfterSessionGone(t *testing.T) {
	env := newRouterEnv(t, ManagerConf{})
	env.connect(t, "a")
	env.sessions.Remove("a")

	_, err := env.router.Dispatch("a", &Frame{Type: FrameChat, Seq: 1})
	require.True(t, errs.ErrSessionClosed.Is(err))
}

func TestDeliveryToDeadRecipient(t *testing.T) {
	env := newRouterEnv(t, ManagerConf{})
	env.connect(t, "a")
	env.connect(t, "b")
	env.mgr.Unregister("b")

	res, err := env.router.Dispatch("a", &Frame{Type: FrameChat, Seq: 1, To: "b"})
	require.NoError(t, err)
	require.Equal(t, RecipientFailed, res.Results[0].Status)
}

func TestBroadcastPerRecipientIsolation(t *testing.T) {
	env := newRouterEnv(t, ManagerConf{SendQueueSize: 1})
	env.connect(t, "a")
	healthy := env.connect(t, "b")
	full := env.connect(t, "c")
	env.connect(t, "d")
	env.mgr.Unregister("d")

	for _, id := range []string{"a", "b", "c", "d"} {
		env.rooms.Join("lobby", id)
	}
	// c 的队列灌满
	full.SendQ.Enqueue(Outbound{Data: []byte("stale")})

	res, err := env.router.Dispatch("a", &Frame{Type: FrameChat, Seq: 1, Room: "lobby", Text: "all"})
	require.NoError(t, err)

	byConn := map[string]RecipientStatus{}
	for _, r := range res.Results {
		byConn[r.ConnID] = r.Status
	}
	// 发送者也是成员，一样收到自己的广播
	require.Equal(t, RecipientQueued, byConn["b"])
	require.Equal(t, RecipientDropped, byConn["c"])
	require.Equal(t, RecipientFailed, byConn["d"])

	got := dequeueFrame(t, healthy)
	require.Equal(t, "all", got.Text)
	require.Equal(t, "a", got.From)
}

func TestBroadcastDropOldestKeepsNewest(t *testing.T) {
	env := newRouterEnv(t, ManagerConf{SendQueueSize: 1, DropPolicy: DropOldest})
	env.connect(t, "a")
	b := env.connect(t, "b")
	env.rooms.Join("lobby", "b")

	b.SendQ.Enqueue(Outbound{Data: []byte("stale")})

	res, err := env.router.Dispatch("a", &Frame{Type: FrameChat, Seq: 1, Room: "lobby", Text: "fresh"})
	require.NoError(t, err)
	// 旧消息被挤掉，新消息算投递成功
	require.Equal(t, RecipientQueued, res.Results[0].Status)

	got := dequeueFrame(t, b)
	require.Equal(t, "fresh", got.Text)
}

func TestSendFrameToDeadConn(t *testing.T) {
	env := newRouterEnv(t, ManagerConf{})
	require.Equal(t, RecipientFailed, env.router.SendFrame("nobody", BuildTTSStop()))
}
