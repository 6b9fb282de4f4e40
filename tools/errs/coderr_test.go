package errs

import (
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := ErrOutOfOrder.WrapMsg("seq gap", "expect", 2, "got", uint64(5))
	if !ErrOutOfOrder.Is(err) {
		t.Fatal("wrapped error should match its sentinel")
	}
	if ErrQueueFull.Is(err) {
		t.Fatal("different code must not match")
	}
}

func TestIsThroughWrapLayers(t *testing.T) {
	inner := ErrSessionClosed.Wrap()
	outer := WrapMsg(inner, "dispatch", "conn_id", "c1")
	if !ErrSessionClosed.Is(outer) {
		t.Fatal("sentinel lost through wrap layers")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(ErrQueueFull.Wrap()); got != QueueFullError {
		t.Fatalf("CodeOf = %d, want %d", got, QueueFullError)
	}
	if got := CodeOf(New("plain")); got != ServerInternalError {
		t.Fatalf("non-code error should map to internal, got %d", got)
	}
}

func TestWithDetailAccumulates(t *testing.T) {
	e := ErrArgs.WithDetail("first")
	e = e.WithDetail("second")
	if e.Detail != "first, second" {
		t.Fatalf("detail = %q", e.Detail)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil) != nil {
		t.Fatal("Wrap(nil) must stay nil")
	}
	if WrapMsg(nil, "ctx") != nil {
		t.Fatal("WrapMsg(nil) must stay nil")
	}
}
