// Package systemd reports service state to systemd when running as a
// Type=notify unit. Every call is a no-op outside systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/hudrender/internal/logging"
)

var notify = daemon.SdNotify

// Ready tells systemd startup has finished.
func Ready() bool {
	return send(daemon.SdNotifyReady)
}

// Stopping tells systemd shutdown has begun.
func Stopping() bool {
	return send(daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) bool {
	return send("STATUS=" + msg)
}

func send(state string) bool {
	sent, err := notify(false, state)
	if err != nil {
		logging.GetLogger("systemd").Debug("sd_notify failed", "state", state, "error", err)
		return false
	}
	return sent
}

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx is done. It returns immediately when the watchdog is disabled.
func Watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	watchdogLoop(ctx, interval/2)
}

func watchdogLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send(daemon.SdNotifyWatchdog)
		}
	}
}
