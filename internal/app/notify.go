package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "relaybot/pkg/logx"
)

// sdNotify is a no-op outside systemd (NOTIFY_SOCKET unset).
var sdNotify = daemon.SdNotify

func notifyReady(log logx.Logger)    { notify(log, daemon.SdNotifyReady) }
func notifyStopping(log logx.Logger) { notify(log, daemon.SdNotifyStopping) }

func notify(log logx.Logger, state string) {
	sent, err := sdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}
