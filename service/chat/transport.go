package chat

import (
	errs "XiaoChat/tools/errs"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport 对核心不透明的底层连接。
// gorilla 的 WriteMessage 不能并发调用，实现方内部自行加锁；
// 上层统一走“单写泵 + 有界队列”，见 sendq.go / pump.go。
type Transport interface {
	WriteText(data []byte, deadline time.Duration) error
	WriteBinary(data []byte, deadline time.Duration) error
	Close() error
	RemoteAddr() net.Addr
}

type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) write(messageType int, data []byte, deadline time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return errs.ErrTransportClosed.Wrap()
	}
	if deadline > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(deadline))
	}
	if err := t.conn.WriteMessage(messageType, data); err != nil {
		return errs.ErrTransportClosed.WrapMsg("write failed", "err", err)
	}
	return nil
}

func (t *wsTransport) WriteText(data []byte, deadline time.Duration) error {
	return t.write(websocket.TextMessage, data, deadline)
}

func (t *wsTransport) WriteBinary(data []byte, deadline time.Duration) error {
	return t.write(websocket.BinaryMessage, data, deadline)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *wsTransport) RemoteAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.RemoteAddr()
}
