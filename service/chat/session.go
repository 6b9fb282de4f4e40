package chat

import (
	errs "XiaoChat/tools/errs"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// SessionState 会话状态
type SessionState int32

const (
	StateIdle SessionState = iota
	StateAwaiting
	StateStreaming
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaiting:
		return "awaiting_response"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type sessionOp int

const (
	opBegin sessionOp = iota
	opResponseReady
	opComplete
	opCancel
	opClose
)

type sessionCmd struct {
	op     sessionOp
	cancel bool // 入站消息是否为取消控制帧
	reason string
	reply  chan error
}

// Session 每连接一个的会话状态机。
// 状态迁移全部经由 commands 通道进单协程执行，Session 逻辑内部不持锁；
// 同一 Session 不会有两个迁移并发执行。
type Session struct {
	ID             string
	ConnID         string
	ConversationID string

	state    atomic.Int32 // 供观察者读取；仅 run 协程写入
	commands chan sessionCmd

	ctx    context.Context
	cancel context.CancelFunc

	respTimeout time.Duration
	lastActive  atomic.Int64

	// hello 协商结果；读写都在连接的读协程，简单互斥即可
	mu           sync.Mutex
	responseMode string
	audioParams  AudioParams
	deviceState  string

	onTimeout func(s *Session)
	events    EventSink

	done chan struct{}
}

func NewSession(id, connID, conversationID string, respTimeout time.Duration, events EventSink, onTimeout func(*Session)) *Session {
	if events == nil {
		events = NopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:             id,
		ConnID:         connID,
		ConversationID: conversationID,
		commands:       make(chan sessionCmd),
		ctx:            ctx,
		cancel:         cancel,
		respTimeout:    respTimeout,
		responseMode:   "auto",
		audioParams:    DefaultAudioParams(),
		deviceState:    DeviceIdle,
		onTimeout:      onTimeout,
		events:         events,
		done:           make(chan struct{}),
	}
	s.Touch()
	go s.run()
	return s
}

// Context 会话级 context；断开时取消，所有挂起点跟随退出
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixMilli())
}

func (s *Session) LastActive() time.Time {
	return time.UnixMilli(s.lastActive.Load())
}

// ---- hello 协商与设备状态 ----

func (s *Session) ApplyHello(mode string, params *AudioParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode != "" {
		s.responseMode = mode
	}
	if params != nil {
		s.audioParams = *params
	}
}

func (s *Session) ResponseMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseMode
}

func (s *Session) AudioParams() AudioParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioParams
}

func (s *Session) SetDeviceState(st string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceState = st
}

func (s *Session) DeviceState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceState
}

// ---- 状态迁移（同步请求/应答） ----

// Begin Idle→AwaitingResponse；已在应答周期中时，仅取消控制帧被接受
func (s *Session) Begin(isCancel bool) error {
	return s.do(sessionCmd{op: opBegin, cancel: isCancel})
}

// ResponseReady AwaitingResponse→Streaming
func (s *Session) ResponseReady() error {
	return s.do(sessionCmd{op: opResponseReady})
}

// Complete Streaming→Idle
func (s *Session) Complete() error {
	return s.do(sessionCmd{op: opComplete})
}

// Cancel 任意非终态→Idle；用于 abort 控制帧
func (s *Session) Cancel(reason string) error {
	return s.do(sessionCmd{op: opCancel, reason: reason})
}

// Close 进入终态并取消在途操作；幂等
func (s *Session) Close() {
	_ = s.do(sessionCmd{op: opClose})
	s.cancel()
	<-s.done
}

func (s *Session) do(cmd sessionCmd) error {
	cmd.reply = make(chan error, 1)
	select {
	case s.commands <- cmd:
	case <-s.ctx.Done():
		return errs.ErrSessionClosed.WrapMsg("session gone", "session_id", s.ID)
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.ctx.Done():
		return errs.ErrSessionClosed.WrapMsg("session gone", "session_id", s.ID)
	}
}

// ---- 状态机主循环 ----

func (s *Session) run() {
	defer close(s.done)

	// 应答超时定时器；进入 Awaiting/Streaming 时武装
	timer := time.NewTimer(s.respTimeout)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	arm := func() {
		if armed && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.respTimeout)
		armed = true
	}
	disarm := func() {
		if armed && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		armed = false
	}

	for {
		select {
		case <-s.ctx.Done():
			disarm()
			s.state.Store(int32(StateClosed))
			return

		case <-timer.C:
			armed = false
			st := SessionState(s.state.Load())
			if st == StateAwaiting || st == StateStreaming {
				// 超时不致命：回到 Idle 并上报，客户端仍在线时另行通知
				s.state.Store(int32(StateIdle))
				ev := newEvent(EventTimeout, s.ConnID)
				ev.Detail = st.String()
				s.events.Emit(ev)
				if s.onTimeout != nil {
					s.onTimeout(s)
				}
			}

		case cmd := <-s.commands:
			st := SessionState(s.state.Load())
			var err error
			switch cmd.op {
			case opBegin:
				switch {
				case st == StateClosed:
					err = errs.ErrSessionClosed.WrapMsg("begin on closed session")
				case st == StateIdle:
					s.state.Store(int32(StateAwaiting))
					s.Touch()
					arm()
				case cmd.cancel:
					// 应答周期内只接受取消
					s.state.Store(int32(StateIdle))
					disarm()
				default:
					err = errs.ErrInvalidTransition.WrapMsg("busy", "state", st.String())
				}
			case opResponseReady:
				if st != StateAwaiting {
					err = errs.ErrInvalidTransition.WrapMsg("response ready", "state", st.String())
				} else {
					s.state.Store(int32(StateStreaming))
					s.Touch()
					arm()
				}
			case opComplete:
				if st != StateStreaming {
					err = errs.ErrInvalidTransition.WrapMsg("complete", "state", st.String())
				} else {
					s.state.Store(int32(StateIdle))
					s.Touch()
					disarm()
				}
			case opCancel:
				if st == StateClosed {
					err = errs.ErrSessionClosed.WrapMsg("cancel on closed session")
				} else {
					s.state.Store(int32(StateIdle))
					disarm()
				}
			case opClose:
				s.state.Store(int32(StateClosed))
				disarm()
			}
			cmd.reply <- err
			if cmd.op == opClose {
				return
			}
		}
	}
}
