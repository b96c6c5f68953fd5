package main

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/srg/ecogate/internal/device"
	"github.com/srg/ecogate/internal/device/goble"
)

// gatewayTransport is the radio as the commands use it
type gatewayTransport interface {
	device.Transport
	Close() error
}

// openTransport opens the platform radio. Tests replace it.
var openTransport = func(logger *logrus.Logger) (gatewayTransport, error) {
	return goble.Open(logger)
}

// FormatUserError turns an error into a one-line message for the terminal
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, goble.ErrBluetoothUnavailable) {
		return "Bluetooth is unavailable: check that the adapter is present and powered on (" + err.Error() + ")"
	}

	var derr *device.Error
	if !errors.As(err, &derr) {
		return err.Error()
	}

	subject := "device"
	if derr.Identity != "" {
		subject = "device " + derr.Identity
	}

	switch derr.Kind {
	case device.KindDeviceNotFound:
		return subject + " has not been discovered; run a scan first"
	case device.KindNotAuthorized:
		return subject + " is not paired; connect it before reading or writing"
	case device.KindBusy:
		return subject + " is busy with another operation; retry later"
	case device.KindTimeout:
		return subject + " did not respond in time: " + err.Error()
	default:
		return err.Error()
	}
}
