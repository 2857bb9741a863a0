package cmd

import (
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/sirupsen/logrus"
)

// notifyReady tells systemd a Type=notify unit is up. Outside systemd it
// does nothing.
func notifyReady(logger *logrus.Entry) {
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.WithError(err).Debug("sd_notify failed")
	} else if sent {
		logger.Debug("Notified systemd")
	}
}

func notifyStopping(logger *logrus.Entry) {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logger.WithError(err).Debug("sd_notify failed")
	}
}
