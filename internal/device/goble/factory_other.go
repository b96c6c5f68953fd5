//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
)

func defaultDevice() (ble.Device, error) {
	return nil, fmt.Errorf("%w: no BLE driver for %s", ErrBluetoothUnavailable, runtime.GOOS)
}
