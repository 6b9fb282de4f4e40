package ids

import (
	"strconv"
	"sync"
	"time"

	errs "XiaoChat/tools/errs"
)

// 41 位毫秒时间戳 | 10 位节点 | 12 位序列
const (
	nodeBits = 10
	seqBits  = 12

	maxNode = (1 << nodeBits) - 1
	seqMask = (1 << seqBits) - 1

	nodeShift = seqBits
	tsShift   = nodeBits + seqBits
)

// 纪元取服务上线年份，够用到 2093
var epochMS = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

type generator struct {
	mu     sync.Mutex
	nodeID int64
	seq    int64
	lastMS int64
}

var gen = &generator{nodeID: 1}

// SetNodeID 部署时每个网关实例配不同节点号；超界报错而不是静默改写
func SetNodeID(nodeID int64) error {
	if nodeID < 0 || nodeID > maxNode {
		return errs.ErrArgs.WrapMsg("node id out of range", "node_id", nodeID)
	}
	gen.mu.Lock()
	gen.nodeID = nodeID
	gen.mu.Unlock()
	return nil
}

// Generate 生成一个新 ID
func Generate() int64 {
	return gen.next()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

// Timestamp 还原 ID 里的生成时刻
func Timestamp(id int64) time.Time {
	return time.UnixMilli((id >> tsShift) + epochMS)
}

// NodeOf 还原 ID 里的节点号
func NodeOf(id int64) int64 {
	return (id >> nodeShift) & maxNode
}

func (g *generator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	// 时钟回拨时钉在上次时间戳上靠序列硬扛，扛不住再等
	if now < g.lastMS {
		now = g.lastMS
	}
	if now == g.lastMS {
		g.seq = (g.seq + 1) & seqMask
		if g.seq == 0 {
			for now <= g.lastMS {
				time.Sleep(200 * time.Microsecond)
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastMS = now

	return ((now - epochMS) << tsShift) | (g.nodeID << nodeShift) | g.seq
}
