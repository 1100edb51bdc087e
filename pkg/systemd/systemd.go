// Package systemd speaks the sd_notify protocol for Type=notify units.
// Every call is a no-op when the process was not started by systemd.
package systemd

import (
	"strconv"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"frametick/pkg/logx"
)

type Notifier struct {
	log      logx.Logger
	watchdog time.Duration
}

func NewNotifier(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{log: log.With(logx.String("comp", "systemd"))}
	if d, err := daemon.SdWatchdogEnabled(false); err != nil {
		n.log.Warn("watchdog env invalid", logx.Err(err))
	} else {
		n.watchdog = d
	}
	return n
}

// WatchdogInterval is WATCHDOG_USEC, or 0 when the unit has no watchdog.
func (n *Notifier) WatchdogInterval() time.Duration {
	if n == nil {
		return 0
	}
	return n.watchdog
}

func (n *Notifier) Ready() bool { return n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() bool { return n.send(daemon.SdNotifyStopping) }

func (n *Notifier) Watchdog() bool { return n.send(daemon.SdNotifyWatchdog) }

func (n *Notifier) Status(msg string) bool { return n.send("STATUS=" + msg) }

// MainPID reports pid as the unit's main process (after a re-exec).
func (n *Notifier) MainPID(pid int) bool { return n.send("MAINPID=" + strconv.Itoa(pid)) }

func (n *Notifier) send(state string) bool {
	if n == nil {
		return false
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return sent
}
