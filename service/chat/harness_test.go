package chat

import (
	"net"
	"sync"
	"time"

	errs "XiaoChat/tools/errs"
)

// fakeTransport 进程内传输替身；记录写出的帧，可注入写失败
type fakeTransport struct {
	mu     sync.Mutex
	text   [][]byte
	binary [][]byte
	fail   bool
	closed bool
}

func (f *fakeTransport) WriteText(data []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return errTransportDown()
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.text = append(f.text, cp)
	return nil
}

func (f *fakeTransport) WriteBinary(data []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return errTransportDown()
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.binary = append(f.binary, cp)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) RemoteAddr() net.Addr { return nil }

func (f *fakeTransport) textFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.text))
	copy(out, f.text)
	return out
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func errTransportDown() error {
	return errs.ErrTransportClosed.Wrap()
}

// recordSink 捕获上报事件
type recordSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordSink) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordSink) byKind(kind string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
