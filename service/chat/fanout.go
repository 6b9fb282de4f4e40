package chat

import "sync"

type fanoutJob struct {
	conns   []*ClientConn
	payload []byte
	wg      *sync.WaitGroup
	collect func(idx int, st EnqueueStatus)
	base    int
}

// Fanout 广播工作池：把一份负载写进多个接收方的出站队列。
// 单个接收方失败（队列满）不影响其他接收方的投递。
type Fanout struct {
	jobs chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 256
	}
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				runFanoutJob(job)
			}
		}()
	}
	return f
}

func runFanoutJob(job fanoutJob) {
	for i, c := range job.conns {
		st := QueueClosed
		if c.Alive() {
			st = c.SendQ.Enqueue(Outbound{Data: job.payload})
		}
		if job.collect != nil {
			job.collect(job.base+i, st)
		}
	}
	if job.wg != nil {
		job.wg.Done()
	}
}

// Broadcast 并行投递到所有接收方并等待入队完成；
// collect 按 index 回收每个接收方的入队结果
func (f *Fanout) Broadcast(conns []*ClientConn, payload []byte, collect func(idx int, st EnqueueStatus)) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	var wg sync.WaitGroup
	// 大组切片分摊到多个 worker
	const chunk = 64
	for base := 0; base < len(conns); base += chunk {
		end := base + chunk
		if end > len(conns) {
			end = len(conns)
		}
		job := fanoutJob{conns: conns[base:end], payload: payload, wg: &wg, collect: collect, base: base}
		wg.Add(1)
		select {
		case f.jobs <- job:
		default:
			// 池满退化为就地执行，避免广播被整体卡住
			runFanoutJob(job)
		}
	}
	wg.Wait()
}

// Close 停止工作池
func (f *Fanout) Close() { close(f.jobs) }
