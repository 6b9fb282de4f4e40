package chat

import (
	errs "XiaoChat/tools/errs"
	"sync"
)

// RecipientStatus 单个接收方的投递结果
type RecipientStatus int

const (
	RecipientQueued RecipientStatus = iota
	RecipientDropped
	RecipientFailed
)

func (s RecipientStatus) String() string {
	switch s {
	case RecipientQueued:
		return "queued"
	case RecipientDropped:
		return "dropped"
	default:
		return "failed"
	}
}

type RecipientResult struct {
	ConnID string
	Status RecipientStatus
}

// DispatchResult 一次路由的逐接收方结果集
type DispatchResult struct {
	Results []RecipientResult
}

func (d *DispatchResult) Count(st RecipientStatus) int {
	n := 0
	for _, r := range d.Results {
		if r.Status == st {
			n++
		}
	}
	return n
}

// Router 校验入站帧并路由到目标会话；广播经 Fanout 扇出。
// 单连接内按序号严格有序；不同连接之间无顺序保证。
type Router struct {
	mgr      *ConnManager
	rooms    *RoomRegistry
	fanout   *Fanout
	sessions *SessionManager

	mu      sync.Mutex
	lastSeq map[string]uint64 // connID -> 最近接受的序号
}

func NewRouter(mgr *ConnManager, rooms *RoomRegistry, fanout *Fanout, sessions *SessionManager) *Router {
	return &Router{
		mgr:      mgr,
		rooms:    rooms,
		fanout:   fanout,
		sessions: sessions,
		lastSeq:  make(map[string]uint64),
	}
}

// AcceptSeq 校验并推进连接的序号；要求恰好 last+1。
// 校验失败只拒绝不重排，调用方向客户端发 resend。
func (r *Router) AcceptSeq(connID string, seq uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	last := r.lastSeq[connID]
	if seq != last+1 {
		return errs.ErrOutOfOrder.WrapMsg("seq gap", "conn_id", connID,
			"expect", last+1, "got", seq)
	}
	r.lastSeq[connID] = seq
	return nil
}

// ExpectedSeq 下一个应到的序号
func (r *Router) ExpectedSeq(connID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq[connID] + 1
}

// ForgetSeq 连接下线时清掉序号状态
func (r *Router) ForgetSeq(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastSeq, connID)
}

// Dispatch 校验并路由一个入站帧。
// 校验：来源连接存在、会话未关闭；非控制帧序号必须连续。
// 路由：To 指定单播，Room 指定组播；两者都空则只做会话内处理，结果为空集。
func (r *Router) Dispatch(from string, f *Frame) (*DispatchResult, error) {
	src, ok := r.mgr.Lookup(from)
	if !ok {
		return nil, errs.ErrConnNotFound.WrapMsg("dispatch", "conn_id", from)
	}
	sess, ok := r.sessions.Get(from)
	if !ok || sess.State() == StateClosed {
		return nil, errs.ErrSessionClosed.WrapMsg("dispatch", "conn_id", from)
	}
	if !f.IsControl() {
		if err := r.AcceptSeq(from, f.Seq); err != nil {
			return nil, err
		}
	}
	_ = r.mgr.RefreshActivity(from)
	sess.Touch()

	relay := *f
	relay.From = src.ConnID
	payload := EncodeFrame(&relay)

	switch {
	case f.To != "":
		return r.sendDirect(f.To, payload), nil
	case f.Room != "":
		return r.Broadcast(f.Room, payload), nil
	}
	return &DispatchResult{}, nil
}

// SendFrame 服务端主动给单个连接发帧（回执、通知）
func (r *Router) SendFrame(connID string, f *Frame) RecipientStatus {
	res := r.sendDirect(connID, EncodeFrame(f))
	if len(res.Results) == 0 {
		return RecipientFailed
	}
	return res.Results[0].Status
}

func (r *Router) sendDirect(connID string, payload []byte) *DispatchResult {
	c, ok := r.mgr.Lookup(connID)
	if !ok || !c.Alive() {
		return &DispatchResult{Results: []RecipientResult{{ConnID: connID, Status: RecipientFailed}}}
	}
	// 目标会话终态时不投递
	if sess, ok := r.sessions.Get(connID); ok && sess.State() == StateClosed {
		return &DispatchResult{Results: []RecipientResult{{ConnID: connID, Status: RecipientFailed}}}
	}
	st := c.SendQ.Enqueue(Outbound{Data: payload})
	return &DispatchResult{Results: []RecipientResult{{ConnID: connID, Status: toRecipient(st)}}}
}

// Broadcast 组播；逐接收方隔离，某个队列满不影响其余成员
func (r *Router) Broadcast(room string, payload []byte) *DispatchResult {
	memberIDs := r.rooms.Members(room)
	conns := make([]*ClientConn, 0, len(memberIDs))
	failed := make([]RecipientResult, 0)
	for _, id := range memberIDs {
		c, ok := r.mgr.Lookup(id)
		if !ok || !c.Alive() {
			failed = append(failed, RecipientResult{ConnID: id, Status: RecipientFailed})
			continue
		}
		if sess, ok := r.sessions.Get(id); ok && sess.State() == StateClosed {
			failed = append(failed, RecipientResult{ConnID: id, Status: RecipientFailed})
			continue
		}
		conns = append(conns, c)
	}

	results := make([]RecipientResult, len(conns))
	r.fanout.Broadcast(conns, payload, func(idx int, st EnqueueStatus) {
		results[idx] = RecipientResult{ConnID: conns[idx].ConnID, Status: toRecipient(st)}
	})
	return &DispatchResult{Results: append(results, failed...)}
}

// toRecipient 入队结果映射：DropOldest 下新消息实际已入队，挤掉的是旧消息
func toRecipient(st EnqueueStatus) RecipientStatus {
	switch st {
	case Enqueued, DroppedOld:
		return RecipientQueued
	case DroppedNew:
		return RecipientDropped
	default:
		return RecipientFailed
	}
}
