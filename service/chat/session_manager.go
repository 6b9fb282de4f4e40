package chat

import (
	errs "XiaoChat/tools/errs"
	"XiaoChat/tools/ids"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionManager 维护 connID -> Session 的索引。
// 不变式：每条连接至多一个会话；会话不会比它的连接活得更久。
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	respTimeout time.Duration
	events      EventSink
	onTimeout   func(s *Session)
}

func NewSessionManager(respTimeout time.Duration, events EventSink) *SessionManager {
	if events == nil {
		events = NopSink{}
	}
	return &SessionManager{
		sessions:    make(map[string]*Session),
		respTimeout: respTimeout,
		events:      events,
	}
}

// SetTimeoutNotifier 超时回退到 Idle 后的通知回调（给路由层发取消回执用）
func (sm *SessionManager) SetTimeoutNotifier(fn func(s *Session)) {
	sm.onTimeout = fn
}

// Create 为连接建立会话；同一连接重复建立会话属于协议错误
func (sm *SessionManager) Create(connID string) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, exists := sm.sessions[connID]; exists {
		return nil, errs.ErrDuplicateConn.WrapMsg("session exists", "conn_id", connID)
	}
	s := NewSession(ids.GenerateString(), connID, uuid.NewString(), sm.respTimeout, sm.events, sm.onTimeout)
	sm.sessions[connID] = s
	return s, nil
}

func (sm *SessionManager) Get(connID string) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.sessions[connID]
	return s, ok
}

// Remove 幂等销毁；会话走向终态，在途操作被取消
func (sm *SessionManager) Remove(connID string) {
	sm.mu.Lock()
	s, ok := sm.sessions[connID]
	if ok {
		delete(sm.sessions, connID)
	}
	sm.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// CloseAll 关停时排空所有会话；ctx 到期后剩余会话显式放弃并上报
func (sm *SessionManager) CloseAll(ctx context.Context) {
	sm.mu.Lock()
	all := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		all = append(all, s)
	}
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	for _, s := range all {
		select {
		case <-ctx.Done():
			ev := newEvent(EventSessionAband, s.ConnID)
			ev.Detail = s.State().String()
			sm.events.Emit(ev)
			s.Close()
		default:
			s.Close()
		}
	}
}
