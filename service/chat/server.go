package chat

import (
	"XiaoChat/logger"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// PresenceStore 在线状态存储；核心不关心落地（Redis 等）
type PresenceStore interface {
	Online(ctx context.Context, deviceID, connID, gatewayID string) error
	Offline(ctx context.Context, deviceID, connID string) error
}

type NopPresence struct{}

func (NopPresence) Online(context.Context, string, string, string) error { return nil }
func (NopPresence) Offline(context.Context, string, string) error        { return nil }

// ServerConf 聚合核心各层配置
type ServerConf struct {
	GatewayID string
	JWTSecret []byte

	ReceiveTimeout  time.Duration
	WriteTimeout    time.Duration
	ResponseTimeout time.Duration
	ServiceTimeout  time.Duration

	SessionTTL   time.Duration
	SweepEvery   time.Duration
	MaxPerDevice int
	EvictOldest  bool

	SendQueueSize int
	DropPolicy    DropPolicy
	FanoutWorkers int
	FanoutQueue   int
}

func (c *ServerConf) norm() {
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = 90 * time.Second
	}
	if c.ServiceTimeout <= 0 {
		c.ServiceTimeout = 10 * time.Second
	}
}

// Server 聊天服务核心：登记表、会话、路由、投递各层的装配点
type Server struct {
	conf ServerConf

	connMgr  *ConnManager
	sessions *SessionManager
	rooms    *RoomRegistry
	fanout   *Fanout
	router   *Router
	disp     *Dispatcher
	pipeline *Pipeline

	events   EventSink
	presence PresenceStore

	httpSrv *http.Server
}

func NewServer(conf ServerConf, asr Transcriber, tts Synthesizer, llm Responder,
	archive TranscriptSink, presence PresenceStore, events EventSink) *Server {
	conf.norm()
	if events == nil {
		events = NopSink{}
	}
	if presence == nil {
		presence = NopPresence{}
	}

	s := &Server{
		conf:     conf,
		events:   events,
		presence: presence,
		disp:     NewDispatcher(),
	}

	s.connMgr = NewConnManager(ManagerConf{
		SessionTTL:    conf.SessionTTL,
		SweepEvery:    conf.SweepEvery,
		MaxPerDevice:  conf.MaxPerDevice,
		EvictOldest:   conf.EvictOldest,
		SendQueueSize: conf.SendQueueSize,
		DropPolicy:    conf.DropPolicy,
	}, conf.GatewayID, events)

	s.sessions = NewSessionManager(conf.ResponseTimeout, events)
	s.rooms = NewRoomRegistry(events)
	s.fanout = NewFanout(conf.FanoutWorkers, conf.FanoutQueue)
	s.router = NewRouter(s.connMgr, s.rooms, s.fanout, s.sessions)
	s.pipeline = NewPipeline(s.router, asr, tts, llm, archive, conf.ServiceTimeout)

	// 连接下线的收尾：会话销毁、退出房间、序号状态清理、presence 下线
	s.connMgr.SetTeardown(func(c *ClientConn, reason string) {
		s.sessions.Remove(c.ConnID)
		s.rooms.LeaveAll(c.ConnID)
		s.router.ForgetSeq(c.ConnID)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.presence.Offline(ctx, c.DeviceID, c.ConnID); err != nil {
			logger.Warnf("[server] presence offline failed device=%s err=%v", c.DeviceID, err)
		}
	})

	// 会话应答超时：回到 Idle 后通知仍在线的客户端
	s.sessions.SetTimeoutNotifier(func(sess *Session) {
		s.router.SendFrame(sess.ConnID, &Frame{
			Type: FrameError,
			Code: timeoutNoticeCode,
			Msg:  "response timeout, exchange cancelled",
		})
		s.router.SendFrame(sess.ConnID, BuildTTSStop())
	})

	return s
}

const timeoutNoticeCode = 2401

func (s *Server) ConnMgr() *ConnManager       { return s.connMgr }
func (s *Server) Sessions() *SessionManager   { return s.sessions }
func (s *Server) Rooms() *RoomRegistry        { return s.rooms }
func (s *Server) Router() *Router             { return s.router }
func (s *Server) Disp() *Dispatcher           { return s.disp }
func (s *Server) Pipeline() *Pipeline         { return s.pipeline }
func (s *Server) Conf() ServerConf            { return s.conf }

// Routes 注册 HTTP 路由
func (s *Server) Routes(r *gin.Engine) {
	r.GET("/ws/chat", s.HandleWS)
	r.GET("/health", s.handleHealth)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"active_sessions": s.sessions.Count(),
		"total_drops":     s.connMgr.TotalDrops(),
	})
}

// Start 启动 HTTP/WebSocket 服务（阻塞直到 Shutdown 或出错）
func (s *Server) Start(addr string, r *gin.Engine) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: r}
	logger.Infof("[server] listening on %s", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 关停：停止收新连接，排空或显式放弃每个活跃会话
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.sessions.CloseAll(ctx)
	s.connMgr.Close()
	s.fanout.Close()
	logger.Info("[server] shutdown complete")
	return err
}
