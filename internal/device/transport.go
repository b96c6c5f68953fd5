package device

import "context"

// Observation is a single advertisement sighting pushed by the transport
type Observation struct {
	Identity    string
	DisplayName string
	RSSI        int
	Payload     []byte // manufacturer data, advisory only
	Connectable bool
}

// CharacteristicRef identifies a characteristic on a live link
type CharacteristicRef struct {
	UUID    string // normalized
	Service string // normalized UUID of the owning service
	Handle  any    // driver-specific handle, opaque to the gateway
}

// ScanningDevice delivers advertisement observations until ctx ends
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Observation)) error
}

// Transport is the radio driver boundary consumed by the gateway
type Transport interface {
	ScanningDevice

	// Connect opens a physical link to the peripheral with the given identity.
	Connect(ctx context.Context, identity string) (Link, error)

	// Disconnects publishes the identity of every peripheral whose live link dropped.
	Disconnects() <-chan string
}

// Link is a live physical connection to one peripheral.
// A Link carries one GATT transaction at a time; callers serialize access.
type Link interface {
	Identity() string
	Enumerate(ctx context.Context) ([]CharacteristicRef, error)
	Read(ctx context.Context, ref CharacteristicRef) ([]byte, error)
	Write(ctx context.Context, ref CharacteristicRef, data []byte, ack bool) error
	Close() error
}

// FindCharacteristic returns the characteristic with the given UUID from an enumeration
func FindCharacteristic(refs []CharacteristicRef, uuid string) (CharacteristicRef, error) {
	want := NormalizeUUID(uuid)
	for _, ref := range refs {
		if NormalizeUUID(ref.UUID) == want {
			return ref, nil
		}
	}
	return CharacteristicRef{}, &NotFoundError{Resource: "characteristic", UUIDs: []string{want}}
}
