package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	errs "XiaoChat/tools/errs"
)

func newTestManager(t *testing.T, conf ManagerConf, sink EventSink) *ConnManager {
	t.Helper()
	if conf.SweepEvery == 0 {
		conf.SweepEvery = time.Hour // 单测里手动触发清理
	}
	m := NewConnManager(conf, "gw-test", sink)
	t.Cleanup(m.Close)
	return m
}

func TestRegisterDuplicateID(t *testing.T) {
	m := newTestManager(t, ManagerConf{}, nil)

	_, err := m.Register("c1", "dev-a", &fakeTransport{})
	require.NoError(t, err)

	_, err = m.Register("c1", "dev-b", &fakeTransport{})
	require.True(t, errs.ErrDuplicateConn.Is(err))
	require.Equal(t, 1, m.Count())
}

func TestUnregisterIdempotent(t *testing.T) {
	m := newTestManager(t, ManagerConf{}, nil)
	tp := &fakeTransport{}
	c, err := m.Register("c1", "dev-a", tp)
	require.NoError(t, err)

	m.Unregister("c1")
	require.False(t, c.Alive())
	require.True(t, tp.isClosed())
	require.Equal(t, 0, m.Count())

	// 传输层的关闭信号可能来两次
	m.Unregister("c1")
	m.Unregister("never-existed")
	require.Equal(t, 0, m.Count())
}

func TestUnregisterClosesQueue(t *testing.T) {
	m := newTestManager(t, ManagerConf{}, nil)
	c, _ := m.Register("c1", "dev-a", &fakeTransport{})

	m.Unregister("c1")
	require.Equal(t, QueueClosed, c.SendQ.Enqueue(Outbound{Data: []byte("late")}))
}

func TestEvictOldestPerDevice(t *testing.T) {
	m := newTestManager(t, ManagerConf{MaxPerDevice: 1, EvictOldest: true}, nil)

	old, err := m.Register("c1", "dev-a", &fakeTransport{})
	require.NoError(t, err)
	_, err = m.Register("c2", "dev-a", &fakeTransport{})
	require.NoError(t, err)

	require.False(t, old.Alive())
	_, ok := m.Lookup("c1")
	require.False(t, ok)
	_, ok = m.Lookup("c2")
	require.True(t, ok)
	require.Len(t, m.ListByDevice("dev-a"), 1)
}

func TestDeviceLimitWithoutEviction(t *testing.T) {
	m := newTestManager(t, ManagerConf{MaxPerDevice: 1, EvictOldest: false}, nil)

	_, err := m.Register("c1", "dev-a", &fakeTransport{})
	require.NoError(t, err)
	_, err = m.Register("c2", "dev-a", &fakeTransport{})
	require.Error(t, err)
}

func TestSweepExpiresIdleConns(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	sink := &recordSink{}
	m := newTestManager(t, ManagerConf{SessionTTL: time.Minute, Clock: clock}, sink)

	c, _ := m.Register("c1", "dev-a", &fakeTransport{})

	m.sweepOnce(now.Add(30 * time.Second))
	require.Equal(t, 1, m.Count())

	m.sweepOnce(now.Add(2 * time.Minute))
	require.Equal(t, 0, m.Count())
	require.False(t, c.Alive())
	require.Len(t, sink.byKind(EventConnExpired), 1)
}

func TestRefreshActivityExtendsTTL(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	m := newTestManager(t, ManagerConf{SessionTTL: time.Minute, Clock: clock}, nil)

	_, err := m.Register("c1", "dev-a", &fakeTransport{})
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	require.NoError(t, m.RefreshActivity("c1"))

	// 原 TTL 已过，但活动续期后仍在线
	m.sweepOnce(now.Add(30 * time.Second))
	require.Equal(t, 1, m.Count())

	require.Error(t, m.RefreshActivity("ghost"))
}

func TestQueueDropEmitsEvent(t *testing.T) {
	sink := &recordSink{}
	m := newTestManager(t, ManagerConf{SendQueueSize: 1}, sink)

	c, _ := m.Register("c1", "dev-a", &fakeTransport{})
	c.SendQ.Enqueue(Outbound{Data: []byte("a")})
	st := c.SendQ.Enqueue(Outbound{Data: []byte("b")})

	require.Equal(t, DroppedNew, st)
	require.Equal(t, uint64(1), m.TotalDrops())

	drops := sink.byKind(EventSessionDrop)
	require.Len(t, drops, 1)
	require.Equal(t, "c1", drops[0].ConnID)
}
