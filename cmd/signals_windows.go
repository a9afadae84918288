//go:build windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyEngineSignals relays shutdown only: there are no user signals on Windows.
func notifyEngineSignals(signalCh chan<- os.Signal) {
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
}

func engineSignalOf(sig os.Signal) engineSignal {
	return signalShutdown
}
