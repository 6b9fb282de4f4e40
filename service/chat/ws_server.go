package chat

import (
	"XiaoChat/logger"
	errs "XiaoChat/tools/errs"
	"XiaoChat/tools/ids"
	"XiaoChat/tools/safe"
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var supportedProtocolVersions = map[string]struct{}{"3": {}}

// handshakeInfo 握手头校验结果
type handshakeInfo struct {
	token    string
	deviceID string
	version  string
}

func (s *Server) authorize(c *gin.Context) (*handshakeInfo, bool) {
	authz := strings.TrimSpace(c.GetHeader("Authorization"))
	if authz == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return nil, false
	}
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
		return nil, false
	}
	token := strings.TrimSpace(authz[len("bearer "):])

	// 配置了密钥才做 JWT 校验；开发环境放行任意 Bearer
	if len(s.conf.JWTSecret) > 0 {
		parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
				return nil, errs.ErrTokenInvalid.WrapMsg("unexpected alg")
			}
			return s.conf.JWTSecret, nil
		})
		if err != nil || !parsed.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token invalid"})
			return nil, false
		}
	}

	deviceID := strings.TrimSpace(c.GetHeader("Device-Id"))
	if deviceID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing device-id"})
		return nil, false
	}

	version := c.GetHeader("Protocol-Version")
	if version == "" {
		version = "1.0"
	}
	if _, ok := supportedProtocolVersions[version]; !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unsupported protocol version: " + version})
		return nil, false
	}

	return &handshakeInfo{token: token, deviceID: deviceID, version: version}, true
}

// HandleWS ===== WebSocket 入口 =====
func (s *Server) HandleWS(c *gin.Context) {
	info, ok := s.authorize(c)
	if !ok {
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	logger.Infof("[HandleWS] new connection device=%s version=%s remote=%s",
		info.deviceID, info.version, ws.RemoteAddr())

	conn, err := s.registerConn(info.deviceID, NewWSTransport(ws))
	if err != nil {
		logger.Errorf("[HandleWS] register failed device=%s err=%v", info.deviceID, err)
		_ = ws.Close()
		return
	}
	connID := conn.ConnID

	sess, err := s.sessions.Create(connID)
	if err != nil {
		logger.Errorf("[HandleWS] session create failed conn_id=%s err=%v", connID, err)
		s.connMgr.Unregister(connID)
		return
	}

	{
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if perr := s.presence.Online(ctx, info.deviceID, connID, s.connMgr.GwID()); perr != nil {
			logger.Warnf("[HandleWS] presence online failed device=%s err=%v", info.deviceID, perr)
		}
		cancel()
	}

	// 单写泵；队列关闭或写失败即退出并触发下线
	safe.SafeGo(func() {
		writePump(sess.Context(), conn, s.conf.WriteTimeout, func() {
			s.connMgr.Unregister(connID)
		})
	})

	ws.SetPongHandler(func(string) error {
		_ = s.connMgr.RefreshActivity(connID) // 连接可能刚好被清理，忽略错误
		return nil
	})

	s.readLoop(ws, conn, sess)

	s.connMgr.UnregisterReason(connID, "read loop exit")
}

// registerConn 雪花 id 撞车属于可恢复错误，换新 id 重试
func (s *Server) registerConn(deviceID string, tp Transport) (*ClientConn, error) {
	var lastErr error
	for i := 0; i < 3; i++ {
		conn, err := s.connMgr.Register(ids.GenerateString(), deviceID, tp)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if !errs.ErrDuplicateConn.Is(err) {
			break
		}
	}
	return nil, lastErr
}

// readLoop 只读不写；出错即退出（写泵负责收尾）
func (s *Server) readLoop(ws *websocket.Conn, conn *ClientConn, sess *Session) {
	for {
		_ = ws.SetReadDeadline(time.Now().Add(s.conf.ReceiveTimeout))
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed conn_id=%s err=%v", conn.ConnID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout conn_id=%s err=%v", conn.ConnID, rerr)
			} else {
				logger.Infof("[WS] read err conn_id=%s err=%v", conn.ConnID, rerr)
			}
			return
		}

		// 单帧处理崩溃不拖垮整条连接
		switch mt {
		case websocket.TextMessage:
			safe.SafeRun(func() { s.handleText(conn, sess, data) })
		case websocket.BinaryMessage:
			safe.SafeRun(func() { s.handleBinary(conn, sess, data) })
		default:
			continue
		}
	}
}

func (s *Server) handleText(conn *ClientConn, sess *Session, data []byte) {
	f, perr := ParseFrameJSON(data)
	if perr != nil {
		sample := data
		if len(sample) > 256 {
			sample = sample[:256]
		}
		logger.Infof("[WS] ParseFrameJSON err conn_id=%s err=%v sample=%q", conn.ConnID, perr, sample)
		s.router.SendFrame(conn.ConnID, BuildErrorFrame(perr))
		return
	}

	handler := s.disp.GetHandler(f.Type)
	if handler == nil {
		logger.Infof("[WS] no handler for message type=%s conn_id=%s", f.Type, conn.ConnID)
		return
	}
	if err := handler.Handle(&ChatContext{S: s, Sess: sess}, f, conn); err != nil {
		// 序号断裂要求重发；其余错误回执给客户端，不影响连接
		if errs.ErrOutOfOrder.Is(err) {
			s.router.SendFrame(conn.ConnID, BuildResend(s.router.ExpectedSeq(conn.ConnID)))
			return
		}
		logger.Infof("[WS] handler err type=%s conn_id=%s err=%v", f.Type, conn.ConnID, err)
		s.router.SendFrame(conn.ConnID, BuildErrorFrame(err))
	}
}

func (s *Server) handleBinary(conn *ClientConn, sess *Session, data []byte) {
	msgType, payload, err := ParseBinary(data)
	if err != nil {
		logger.Infof("[WS] bad binary frame conn_id=%s err=%v", conn.ConnID, err)
		s.router.SendFrame(conn.ConnID, BuildErrorFrame(err))
		return
	}
	_ = s.connMgr.RefreshActivity(conn.ConnID)

	switch msgType {
	case BinAudio:
		// 整条链路可能等上游较久，放后台跑；状态机拒绝并发的应答周期
		safe.SafeGo(func() {
			if perr := s.pipeline.HandleAudio(sess, conn, payload); perr != nil {
				logger.Infof("[WS] audio pipeline err conn_id=%s err=%v", conn.ConnID, perr)
				s.router.SendFrame(conn.ConnID, BuildErrorFrame(perr))
			}
		})
	case BinJSON:
		logger.Infof("[WS] json payload conn_id=%s len=%d", conn.ConnID, len(payload))
	default:
		logger.Infof("[WS] unknown binary type=%d conn_id=%s", msgType, conn.ConnID)
	}
}
