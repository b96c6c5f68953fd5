package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/ecogate/internal/device"
	"github.com/srg/ecogate/internal/device/goble"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "nil",
			err:      nil,
			expected: "",
		},
		{
			name:     "foreign error is passed through",
			err:      errors.New("boom"),
			expected: "boom",
		},
		{
			name:     "bluetooth unavailable",
			err:      fmt.Errorf("failed to open BLE transport: %w", goble.ErrBluetoothUnavailable),
			expected: "Bluetooth is unavailable: check that the adapter is present and powered on (failed to open BLE transport: bluetooth unavailable)",
		},
		{
			name:     "device not found",
			err:      &device.Error{Kind: device.KindDeviceNotFound, Identity: "D9"},
			expected: "device D9 has not been discovered; run a scan first",
		},
		{
			name:     "not authorized",
			err:      &device.Error{Kind: device.KindNotAuthorized, Identity: "D1", Op: "read"},
			expected: "device D1 is not paired; connect it before reading or writing",
		},
		{
			name:     "busy without identity",
			err:      &device.Error{Kind: device.KindBusy},
			expected: "device is busy with another operation; retry later",
		},
		{
			name:     "timeout keeps the detail",
			err:      device.NewError(device.KindLinkFailure, "D1", "read", context.DeadlineExceeded),
			expected: "device D1 did not respond in time: read: timeout (device D1): context deadline exceeded",
		},
		{
			name:     "other kinds use the error text",
			err:      &device.Error{Kind: device.KindInvalidState, Identity: "D1", Op: "connect", Msg: "already ready"},
			expected: "connect: invalid_state (device D1): already ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUserError(tt.err))
		})
	}
}
