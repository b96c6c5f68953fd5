package device

import (
	"bytes"
	"encoding/hex"
	"time"
)

// Device is the registry's mutable record of one peripheral.
// Only the registry hands out *Device values, and only inside its transactions.
type Device struct {
	Identity       string
	DisplayName    string
	SignalStrength int
	Payload        []byte
	Connectable    bool

	State        LifecycleState
	PairingToken []byte
	Link         Link
	LastError    string

	AdmittedAt time.Time
	UpdatedAt  time.Time
}

// NewDevice creates a Discovered device from an admitted observation
func NewDevice(obs Observation) *Device {
	now := time.Now()
	return &Device{
		Identity:       obs.Identity,
		DisplayName:    obs.DisplayName,
		SignalStrength: obs.RSSI,
		Payload:        bytes.Clone(obs.Payload),
		Connectable:    obs.Connectable,
		State:          StateDiscovered,
		AdmittedAt:     now,
		UpdatedAt:      now,
	}
}

// Paired reports whether the one-time pairing handshake has completed
func (d *Device) Paired() bool {
	return len(d.PairingToken) > 0
}

// Token returns a copy of the pairing token
func (d *Device) Token() []byte {
	return bytes.Clone(d.PairingToken)
}

// Snapshot returns the public, copy-out view of the device
func (d *Device) Snapshot() Snapshot {
	s := Snapshot{
		Identity:    d.Identity,
		Name:        d.DisplayName,
		RSSI:        d.SignalStrength,
		Connectable: d.Connectable,
		State:       d.State,
		Paired:      d.Paired(),
		Connected:   d.Link != nil,
		LastError:   d.LastError,
		AdmittedAt:  d.AdmittedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if len(d.Payload) > 0 {
		s.ManufacturerData = hex.EncodeToString(d.Payload)
	}
	return s
}

// Snapshot is a point-in-time copy of a device without link handle or token bytes
type Snapshot struct {
	Identity         string         `json:"identity"`
	Name             string         `json:"name"`
	RSSI             int            `json:"rssi"`
	ManufacturerData string         `json:"manufacturerData,omitempty"`
	Connectable      bool           `json:"connectable"`
	State            LifecycleState `json:"state"`
	Paired           bool           `json:"paired"`
	Connected        bool           `json:"connected"`
	LastError        string         `json:"lastError,omitempty"`
	AdmittedAt       time.Time      `json:"admittedAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}
