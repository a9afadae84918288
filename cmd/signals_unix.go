//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyEngineSignals relays shutdown, SIGUSR1 (visibility) and SIGUSR2 (enabled flag).
func notifyEngineSignals(signalCh chan<- os.Signal) {
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
}

func engineSignalOf(sig os.Signal) engineSignal {
	switch sig {
	case syscall.SIGUSR1:
		return signalToggleVisible
	case syscall.SIGUSR2:
		return signalToggleEnabled
	default:
		return signalShutdown
	}
}
