// Package systemd reports service state to systemd through sd_notify. Every
// call is a no-op when the process was not started by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready reports READY=1. It returns false when NOTIFY_SOCKET is unset.
func Ready() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}

// Stopping reports STOPPING=1.
func Stopping() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// Reloading reports RELOADING=1 and then READY=1 once fn returns.
func Reloading(fn func()) {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReloading)
	fn()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// WatchdogInterval returns the configured WatchdogSec, or zero when the
// watchdog is disabled for this unit.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}

// Watchdog pings WATCHDOG=1 at half the configured interval until ctx is
// done. alive is consulted before each ping; a false answer skips it so
// systemd can restart a wedged process.
func Watchdog(ctx context.Context, alive func() bool) error {
	every := WatchdogInterval() / 2
	if every <= 0 {
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if alive != nil && !alive() {
				continue
			}
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
