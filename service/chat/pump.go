package chat

import (
	"XiaoChat/logger"
	"context"
	"time"
)

// writePump 单写协程：按 FIFO 排空连接的出站队列。
// gorilla 的写不能并发，所有出站数据必须经这里。
// 写失败视为传输已关闭，只拖垮本连接。
func writePump(ctx context.Context, c *ClientConn, writeTimeout time.Duration, onDead func()) {
	defer onDead()

	for {
		item, err := c.SendQ.Dequeue(ctx)
		if err != nil {
			return
		}
		if !c.Alive() {
			return
		}
		if item.Binary {
			err = c.Transport.WriteBinary(item.Data, writeTimeout)
		} else {
			err = c.Transport.WriteText(item.Data, writeTimeout)
		}
		if err != nil {
			logger.Debugf("[pump] write failed conn_id=%s err=%v", c.ConnID, err)
			return
		}
	}
}
