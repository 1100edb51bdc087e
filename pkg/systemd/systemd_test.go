package systemd

import (
	"testing"

	"frametick/pkg/logx"
)

func TestNotifierWithoutSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	n := NewNotifier(logx.Nop())
	if n.Ready() || n.Watchdog() || n.Stopping() || n.Status("x") {
		t.Fatal("notification reported sent without NOTIFY_SOCKET")
	}
	if d := n.WatchdogInterval(); d != 0 {
		t.Fatalf("WatchdogInterval() = %v, want 0", d)
	}

	var nilNotifier *Notifier
	if nilNotifier.Ready() || nilNotifier.WatchdogInterval() != 0 {
		t.Fatal("nil notifier must be inert")
	}
}
