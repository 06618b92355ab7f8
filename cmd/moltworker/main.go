// Command moltworker is the child binary the supervisor forks for each
// worker slot. It speaks the IPC protocol over its own stdin/stdout and
// never runs standalone against a terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moltbot/pool/pkg/childrun"
	"github.com/moltbot/pool/pkg/ipc"
	"github.com/moltbot/pool/pkg/log"
)

func main() {
	// stdout is the IPC channel to the supervisor; the logger must never
	// write there, so it is redirected to stderr before anything logs.
	log.Init(log.Config{Level: log.InfoLevel, Output: os.Stderr})

	defer func() {
		if rec := recover(); rec != nil {
			conn := ipc.NewConn(os.Stdin, os.Stdout)
			_ = conn.SendType(ipc.TypeError, ipc.ErrorPayload{
				Message: fmt.Sprintf("panic: %v", rec),
				Code:    "PANIC",
				Fatal:   true,
			})
			os.Exit(1)
		}
	}()

	if err := run(); err != nil {
		log.Errorf("moltworker exited with error", err)
		os.Exit(1)
	}
}

func run() error {
	conn := ipc.NewConn(os.Stdin, os.Stdout)
	rt := childrun.New(conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		grace := 5 * time.Second
		if sig == syscall.SIGINT {
			grace = 1 * time.Second
		}
		time.AfterFunc(grace+time.Second, cancel)
		_ = rt // shutdown is driven by the Shutdown envelope the supervisor
		// sends upon observing the same signal; this timer is only the
		// backstop in case that envelope never arrives.
	}()

	return rt.Run(ctx)
}
