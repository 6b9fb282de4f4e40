package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	errs "XiaoChat/tools/errs"
)

func newTestSession(t *testing.T, respTimeout time.Duration, onTimeout func(*Session)) *Session {
	t.Helper()
	if respTimeout == 0 {
		respTimeout = time.Minute
	}
	s := NewSession("sess-1", "conn-1", "conv-1", respTimeout, nil, onTimeout)
	t.Cleanup(s.Close)
	return s
}

func TestSessionExchangeCycle(t *testing.T) {
	s := newTestSession(t, 0, nil)
	require.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Begin(false))
	require.Equal(t, StateAwaiting, s.State())

	require.NoError(t, s.ResponseReady())
	require.Equal(t, StateStreaming, s.State())

	require.NoError(t, s.Complete())
	require.Equal(t, StateIdle, s.State())
}

func TestSessionRejectsConcurrentExchange(t *testing.T) {
	s := newTestSession(t, 0, nil)
	require.NoError(t, s.Begin(false))

	err := s.Begin(false)
	require.True(t, errs.ErrInvalidTransition.Is(err))
	require.Equal(t, StateAwaiting, s.State())

	// 应答周期内取消帧被接受并回到空闲
	require.NoError(t, s.Begin(true))
	require.Equal(t, StateIdle, s.State())
}

func TestSessionInvalidTransitions(t *testing.T) {
	s := newTestSession(t, 0, nil)

	require.True(t, errs.ErrInvalidTransition.Is(s.ResponseReady()))
	require.True(t, errs.ErrInvalidTransition.Is(s.Complete()))

	require.NoError(t, s.Begin(false))
	require.True(t, errs.ErrInvalidTransition.Is(s.Complete()))
}

func TestSessionCancelFromAnyState(t *testing.T) {
	s := newTestSession(t, 0, nil)

	require.NoError(t, s.Cancel("idle cancel"))
	require.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Begin(false))
	require.NoError(t, s.Cancel("awaiting cancel"))
	require.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Begin(false))
	require.NoError(t, s.ResponseReady())
	require.NoError(t, s.Cancel("streaming cancel"))
	require.Equal(t, StateIdle, s.State())
}

func TestSessionCloseIsTerminal(t *testing.T) {
	s := NewSession("sess-1", "conn-1", "conv-1", time.Minute, nil, nil)
	s.Close()
	require.Equal(t, StateClosed, s.State())

	require.True(t, errs.ErrSessionClosed.Is(s.Begin(false)))
	require.True(t, errs.ErrSessionClosed.Is(s.Cancel("late")))

	// 幂等
	s.Close()
	require.Equal(t, StateClosed, s.State())

	select {
	case <-s.Context().Done():
	default:
		t.Fatal("session context should be cancelled after close")
	}
}

func TestSessionResponseTimeout(t *testing.T) {
	fired := make(chan struct{}, 1)
	s := newTestSession(t, 30*time.Millisecond, func(*Session) {
		fired <- struct{}{}
	})

	require.NoError(t, s.Begin(false))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timeout notifier not called")
	}
	require.Eventually(t, func() bool { return s.State() == StateIdle },
		time.Second, 5*time.Millisecond)

	// 超时后会话仍可用
	require.NoError(t, s.Begin(false))
}

func TestSessionHelloNegotiation(t *testing.T) {
	s := newTestSession(t, 0, nil)
	require.Equal(t, "auto", s.ResponseMode())
	require.Equal(t, DefaultAudioParams(), s.AudioParams())

	s.ApplyHello("realtime", &AudioParams{Format: "pcm", SampleRate: 24000, Channels: 2})
	require.Equal(t, "realtime", s.ResponseMode())
	require.Equal(t, 24000, s.AudioParams().SampleRate)

	// 空字段不覆盖已协商值
	s.ApplyHello("", nil)
	require.Equal(t, "realtime", s.ResponseMode())
}

func TestSessionManagerLifecycle(t *testing.T) {
	sm := NewSessionManager(time.Minute, nil)

	s1, err := sm.Create("conn-1")
	require.NoError(t, err)
	_, err = sm.Create("conn-1")
	require.True(t, errs.ErrDuplicateConn.Is(err))

	got, ok := sm.Get("conn-1")
	require.True(t, ok)
	require.Same(t, s1, got)
	require.Equal(t, 1, sm.Count())

	sm.Remove("conn-1")
	require.Equal(t, StateClosed, s1.State())
	require.Equal(t, 0, sm.Count())

	// 幂等
	sm.Remove("conn-1")
}
