package chat

import (
	"sync"
)

// roomRecord 单个广播组；成员变更走组内互斥，join/leave 单调计数，不静默丢事件
type roomRecord struct {
	mu      sync.Mutex
	name    string
	members map[string]struct{} // connID 集合
	joins   uint64
	leaves  uint64
}

// RoomRegistry 命名广播组注册表
type RoomRegistry struct {
	mu     sync.RWMutex
	rooms  map[string]*roomRecord
	byConn map[string]map[string]struct{} // connID -> 所在房间名集合
	events EventSink
}

func NewRoomRegistry(events EventSink) *RoomRegistry {
	if events == nil {
		events = NopSink{}
	}
	return &RoomRegistry{
		rooms:  make(map[string]*roomRecord),
		byConn: make(map[string]map[string]struct{}),
		events: events,
	}
}

func (r *RoomRegistry) roomFor(name string, create bool) *roomRecord {
	r.mu.RLock()
	rec := r.rooms[name]
	r.mu.RUnlock()
	if rec != nil || !create {
		return rec
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec = r.rooms[name]; rec == nil {
		rec = &roomRecord{name: name, members: make(map[string]struct{})}
		r.rooms[name] = rec
	}
	return rec
}

func (r *RoomRegistry) Join(room, connID string) {
	if room == "" || connID == "" {
		return
	}
	rec := r.roomFor(room, true)
	rec.mu.Lock()
	if _, ok := rec.members[connID]; !ok {
		rec.members[connID] = struct{}{}
		rec.joins++
	}
	rec.mu.Unlock()

	r.mu.Lock()
	if r.byConn[connID] == nil {
		r.byConn[connID] = make(map[string]struct{})
	}
	r.byConn[connID][room] = struct{}{}
	r.mu.Unlock()

	ev := newEvent(EventRoomJoin, connID)
	ev.Room = room
	r.events.Emit(ev)
}

func (r *RoomRegistry) Leave(room, connID string) {
	rec := r.roomFor(room, false)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	if _, ok := rec.members[connID]; ok {
		delete(rec.members, connID)
		rec.leaves++
	}
	rec.mu.Unlock()

	r.mu.Lock()
	if mm := r.byConn[connID]; mm != nil {
		delete(mm, room)
		if len(mm) == 0 {
			delete(r.byConn, connID)
		}
	}
	r.mu.Unlock()

	ev := newEvent(EventRoomLeave, connID)
	ev.Room = room
	r.events.Emit(ev)
}

// LeaveAll 连接下线时调用；从其所有房间摘除
func (r *RoomRegistry) LeaveAll(connID string) {
	r.mu.Lock()
	mm := r.byConn[connID]
	delete(r.byConn, connID)
	names := make([]string, 0, len(mm))
	for name := range mm {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		if rec := r.roomFor(name, false); rec != nil {
			rec.mu.Lock()
			if _, ok := rec.members[connID]; ok {
				delete(rec.members, connID)
				rec.leaves++
			}
			rec.mu.Unlock()
			ev := newEvent(EventRoomLeave, connID)
			ev.Room = name
			r.events.Emit(ev)
		}
	}
}

// Members 房间成员快照
func (r *RoomRegistry) Members(room string) []string {
	rec := r.roomFor(room, false)
	if rec == nil {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]string, 0, len(rec.members))
	for id := range rec.members {
		out = append(out, id)
	}
	return out
}

// Stats 返回 join/leave 单调计数
func (r *RoomRegistry) Stats(room string) (joins, leaves uint64, ok bool) {
	rec := r.roomFor(room, false)
	if rec == nil {
		return 0, 0, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.joins, rec.leaves, true
}
