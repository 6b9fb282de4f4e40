package chat

import (
	errs "XiaoChat/tools/errs"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ===== 配置 =====

type ManagerConf struct {
	SessionTTL    time.Duration    // 会话 TTL，活动时续期（如 30m）
	SweepEvery    time.Duration    // 清理周期（如 5m）
	MaxPerDevice  int              // 每设备最大连接数（<=0 不限制）
	EvictOldest   bool             // 超限时是否淘汰最老连接（否则 Register 直接报错）
	SendQueueSize int              // 每连接出站队列容量
	DropPolicy    DropPolicy       // 队列满时的丢弃策略
	Clock         func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 5 * time.Minute
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
}

// ===== 数据结构 =====

// ClientConn 一条客户端连接；传输句柄对核心不透明
type ClientConn struct {
	ConnID   string
	DeviceID string
	UserID   string

	Transport Transport
	Remote    net.Addr

	CreatedAt time.Time
	UpdatedAt time.Time
	Heartbeat time.Time
	ExpireAt  time.Time
	TTL       time.Duration

	SendQ *SendQueue

	alive atomic.Bool
}

// Alive 存活标记；协作式取消在每个挂起点检查它
func (c *ClientConn) Alive() bool { return c.alive.Load() }

func (c *ClientConn) markDead() { c.alive.Store(false) }

// ConnManager 连接登记表；唯一拥有连接生命周期
type ConnManager struct {
	mu       sync.RWMutex
	byID     map[string]*ClientConn
	byDevice map[string]map[string]*ClientConn // deviceID -> (connID -> conn)

	conf     ManagerConf
	gwID     string
	stopOnce sync.Once
	stopCh   chan struct{}

	totalDrops atomic.Uint64
	events     EventSink

	// Unregister 的收尾回调：会话销毁、离开房间、presence 下线
	onTeardown func(c *ClientConn, reason string)
}

func NewConnManager(conf ManagerConf, gwID string, events EventSink) *ConnManager {
	conf.norm()
	if events == nil {
		events = NopSink{}
	}
	m := &ConnManager{
		byID:     make(map[string]*ClientConn),
		byDevice: make(map[string]map[string]*ClientConn),
		conf:     conf,
		gwID:     gwID,
		stopCh:   make(chan struct{}),
		events:   events,
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) GwID() string { return m.gwID }

// SetTeardown 必须在开始接收连接前设置
func (m *ConnManager) SetTeardown(fn func(c *ClientConn, reason string)) {
	m.onTeardown = fn
}

// Register 登记新连接；connID 已存在时报 ErrDuplicateConn，调用方换 id 重试
func (m *ConnManager) Register(connID, deviceID string, tp Transport) (*ClientConn, error) {
	if connID == "" || tp == nil {
		return nil, errs.ErrArgs.WrapMsg("connID/transport empty")
	}
	now := m.conf.Clock()

	m.mu.Lock()
	if _, exists := m.byID[connID]; exists {
		m.mu.Unlock()
		return nil, errs.ErrDuplicateConn.WrapMsg("register", "conn_id", connID)
	}

	var evicted *ClientConn
	if m.conf.MaxPerDevice > 0 && deviceID != "" {
		if len(m.byDevice[deviceID]) >= m.conf.MaxPerDevice {
			if !m.conf.EvictOldest {
				m.mu.Unlock()
				return nil, errs.ErrDuplicateConn.WrapMsg("device conn limit", "device_id", deviceID)
			}
			evicted = m.oldestForDeviceLocked(deviceID)
			if evicted != nil {
				m.removeLocked(evicted)
			}
		}
	}

	c := &ClientConn{
		ConnID:    connID,
		DeviceID:  deviceID,
		Transport: tp,
		Remote:    tp.RemoteAddr(),
		CreatedAt: now,
		UpdatedAt: now,
		Heartbeat: now,
		TTL:       m.conf.SessionTTL,
		ExpireAt:  now.Add(m.conf.SessionTTL),
	}
	c.alive.Store(true)
	c.SendQ = NewSendQueue(m.conf.SendQueueSize, m.conf.DropPolicy, func(n uint64) {
		m.totalDrops.Add(1)
		ev := newEvent(EventSessionDrop, connID)
		ev.Device = deviceID
		ev.Count = n
		m.events.Emit(ev)
	})

	m.byID[connID] = c
	if deviceID != "" {
		if m.byDevice[deviceID] == nil {
			m.byDevice[deviceID] = make(map[string]*ClientConn)
		}
		m.byDevice[deviceID][connID] = c
	}
	m.mu.Unlock()

	if evicted != nil {
		m.finishTeardown(evicted, "evicted")
	}
	ev := newEvent(EventConnOpen, connID)
	ev.Device = deviceID
	m.events.Emit(ev)
	return c, nil
}

// Unregister 幂等下线；不存在的 id 直接返回（容忍传输层重复的断开信号）
func (m *ConnManager) Unregister(connID string) {
	m.UnregisterReason(connID, "closed")
}

func (m *ConnManager) UnregisterReason(connID, reason string) {
	if connID == "" {
		return
	}
	m.mu.Lock()
	c, ok := m.byID[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.removeLocked(c)
	m.mu.Unlock()

	m.finishTeardown(c, reason)
}

func (m *ConnManager) Lookup(connID string) (*ClientConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[connID]
	return c, ok
}

// ListByDevice 列出某设备的全部连接
func (m *ConnManager) ListByDevice(deviceID string) []*ClientConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byDevice[deviceID]
	if len(mm) == 0 {
		return nil
	}
	out := make([]*ClientConn, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

// RefreshActivity 刷新活动时间并续期 TTL
func (m *ConnManager) RefreshActivity(connID string) error {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[connID]
	if !ok {
		return errs.ErrConnNotFound.WrapMsg("refresh", "conn_id", connID)
	}
	c.Heartbeat = now
	c.UpdatedAt = now
	c.ExpireAt = now.Add(c.TTL)
	return nil
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// TotalDrops 所有连接累计的丢弃数，供观测面读取
func (m *ConnManager) TotalDrops() uint64 { return m.totalDrops.Load() }

// Close 停止 sweeper 并关闭所有连接
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	all := make([]*ClientConn, 0, len(m.byID))
	for _, c := range m.byID {
		all = append(all, c)
	}
	m.byID = map[string]*ClientConn{}
	m.byDevice = map[string]map[string]*ClientConn{}
	m.mu.Unlock()

	for _, c := range all {
		m.finishTeardown(c, "shutdown")
	}
}

// ===== 内部 =====

// removeLocked 从索引摘除；持锁调用，socket 的关闭放到锁外
func (m *ConnManager) removeLocked(c *ClientConn) {
	delete(m.byID, c.ConnID)
	if c.DeviceID != "" {
		if mm := m.byDevice[c.DeviceID]; mm != nil {
			delete(mm, c.ConnID)
			if len(mm) == 0 {
				delete(m.byDevice, c.DeviceID)
			}
		}
	}
}

func (m *ConnManager) oldestForDeviceLocked(deviceID string) *ClientConn {
	var oldest *ClientConn
	for _, c := range m.byDevice[deviceID] {
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	return oldest
}

func (m *ConnManager) finishTeardown(c *ClientConn, reason string) {
	c.markDead()
	c.SendQ.Close()
	if m.onTeardown != nil {
		m.onTeardown(c, reason)
	}
	_ = c.Transport.Close()

	ev := newEvent(EventConnClose, c.ConnID)
	ev.Device = c.DeviceID
	ev.Detail = reason
	m.events.Emit(ev)
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) {
	var expired []*ClientConn

	m.mu.Lock()
	for _, c := range m.byID {
		if now.After(c.ExpireAt) {
			// 收集后统一关闭，避免持锁期间关闭 socket
			expired = append(expired, c)
			m.removeLocked(c)
		}
	}
	m.mu.Unlock()

	for _, c := range expired {
		ev := newEvent(EventConnExpired, c.ConnID)
		ev.Device = c.DeviceID
		m.events.Emit(ev)
		m.finishTeardown(c, "expired")
	}
}
