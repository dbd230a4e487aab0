package lvmsync

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InterruptibleContext returns a context which is canceled when the program is
// interrupted (i.e. receiving SIGINT or SIGTERM). A send hands it to the
// device-mapper lookup and to the spawned remote shell, which is killed on
// cancellation; the chunk loops of the sender and receiver do not check it,
// and the server and apply modes do not use it.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		// A second signal kills the process immediately, for when the
		// in-flight chunk write or device flock hangs on cleanup:
		signal.Stop(sig)
		canc()
	}()
	return ctx, canc
}
