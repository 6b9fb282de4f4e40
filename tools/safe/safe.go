package safe

import (
	"XiaoChat/logger"
	"XiaoChat/tools/errs"
)

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[SafeGo] panic recovered: %+v", errs.ErrPanic(r))
			}
		}()
		f()
	}()
}

// SafeRun runs f in the current goroutine with panic recovery.
func SafeRun(f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[SafeRun] panic recovered: %+v", errs.ErrPanic(r))
		}
	}()
	f()
}
