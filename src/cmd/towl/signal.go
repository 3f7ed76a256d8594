// FILE: src/cmd/towl/signal.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/lixenwraith/log"
)

// Rotates the working file on demand
type archiver interface {
	Archive() (string, error)
}

// Manages OS signals
type SignalHandler struct {
	journal archiver
	logger  *log.Logger
	sigChan chan os.Signal
}

// Creates a signal handler
func NewSignalHandler(j archiver, logger *log.Logger) *SignalHandler {
	sh := &SignalHandler{
		journal: j,
		logger:  logger,
		sigChan: make(chan os.Signal, 1),
	}

	signal.Notify(sh.sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGHUP,  // Rotate now
		syscall.SIGUSR1, // Alternative rotate signal
	)

	return sh
}

// Handle blocks until a termination signal arrives or ctx is done.
// Rotation signals archive the working file and keep waiting.
func (sh *SignalHandler) Handle(ctx context.Context) os.Signal {
	for {
		select {
		case sig := <-sh.sigChan:
			switch sig {
			case syscall.SIGHUP, syscall.SIGUSR1:
				sh.logger.Info("msg", "Rotation signal received",
					"component", "signal_handler",
					"signal", sig)
				go sh.rotate()
			default:
				return sig
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (sh *SignalHandler) rotate() {
	name, err := sh.journal.Archive()
	if err != nil {
		sh.logger.Error("msg", "Manual rotation failed",
			"component", "signal_handler",
			"error", err)
		return
	}
	sh.logger.Info("msg", "Manual rotation complete",
		"component", "signal_handler",
		"archive", name)
}

// Cleans up signal handling
func (sh *SignalHandler) Stop() {
	signal.Stop(sh.sigChan)
}
