package goble

import (
	"bytes"

	"github.com/go-ble/ble"
	"github.com/srg/ecogate/internal/device"
)

// advertisement is the part of ble.Advertisement an observation is built from
type advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Connectable() bool
	RSSI() int
	Addr() ble.Addr
}

// observationFrom converts a go-ble advertisement into the transport-neutral observation.
// The identity is the advertiser's address as reported by the platform.
func observationFrom(adv advertisement) device.Observation {
	var identity string
	if addr := adv.Addr(); addr != nil {
		identity = addr.String()
	}
	return device.Observation{
		Identity:    identity,
		DisplayName: adv.LocalName(),
		RSSI:        adv.RSSI(),
		Payload:     bytes.Clone(adv.ManufacturerData()),
		Connectable: adv.Connectable(),
	}
}
