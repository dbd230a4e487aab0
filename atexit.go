package lvmsync

import (
	"sync"
	"sync/atomic"
)

var atExit struct {
	sync.Mutex
	fns    []func() error
	closed uint32
}

// RegisterAtExit queues fn to run during RunAtExit, in registration order.
// A send registers the origin and exception-store device handles it opens
// here instead of closing them with an ordinary defer; they are closed when
// main calls RunAtExit after the command has returned, whether or not it
// failed.
func RegisterAtExit(fn func() error) {
	if atomic.LoadUint32(&atExit.closed) != 0 {
		panic("BUG: RegisterAtExit must not be called from an atExit func")
	}
	atExit.Lock()
	defer atExit.Unlock()
	atExit.fns = append(atExit.fns, fn)
}

// RunAtExit runs every function queued by RegisterAtExit and returns the
// first error encountered. It is called once, at the very end of main, after
// the transfer itself has finished or been aborted.
func RunAtExit() error {
	atomic.StoreUint32(&atExit.closed, 1)
	for _, fn := range atExit.fns {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
