// Package registry is the authoritative in-memory table of known devices.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/ecogate/internal/device"
)

// entry guards one device record
type entry struct {
	mu  sync.Mutex
	dev *device.Device
}

// Registry maps identity -> Device.
//
// Single-device transactions lock only their entry (under a shared table lock); whole-table
// listings take the table lock exclusively so they observe a consistent snapshot.
type Registry struct {
	tableMu sync.RWMutex
	devices *hashmap.Map[string, *entry]
	logger  *logrus.Logger
}

// New creates an empty registry
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		devices: hashmap.New[string, *entry](),
		logger:  logger,
	}
}

// Admit inserts a Discovered device for an unseen identity.
// A known identity is left untouched; inserted reports whether a new entry was created.
func (r *Registry) Admit(obs device.Observation) (snap device.Snapshot, inserted bool) {
	r.tableMu.RLock()
	defer r.tableMu.RUnlock()

	e, loaded := r.devices.GetOrInsert(obs.Identity, &entry{dev: device.NewDevice(obs)})

	e.mu.Lock()
	defer e.mu.Unlock()

	if !loaded {
		r.logger.WithFields(logrus.Fields{
			"identity": obs.Identity,
			"name":     obs.DisplayName,
			"rssi":     obs.RSSI,
		}).Info("Admitted new device")
	}
	return e.dev.Snapshot(), !loaded
}

// Get returns a snapshot of the device with the given identity
func (r *Registry) Get(identity string) (device.Snapshot, error) {
	var snap device.Snapshot
	err := r.View(identity, func(d *device.Device) {
		snap = d.Snapshot()
	})
	return snap, err
}

// View runs fn with read access to the device record. fn MUST NOT retain d.
func (r *Registry) View(identity string, fn func(d *device.Device)) error {
	r.tableMu.RLock()
	defer r.tableMu.RUnlock()

	e, ok := r.devices.Get(identity)
	if !ok {
		return &device.Error{Kind: device.KindDeviceNotFound, Identity: identity}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.dev)
	return nil
}

// Update runs fn as an atomic transaction on the device record. If fn returns an error,
// or leaves the record in a state the lifecycle state machine does not allow, the record
// is restored and the error is returned. fn MUST NOT retain d.
func (r *Registry) Update(identity string, fn func(d *device.Device) error) (device.Snapshot, error) {
	r.tableMu.RLock()
	defer r.tableMu.RUnlock()

	e, ok := r.devices.Get(identity)
	if !ok {
		return device.Snapshot{}, &device.Error{Kind: device.KindDeviceNotFound, Identity: identity}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	working := *e.dev
	if err := fn(&working); err != nil {
		return e.dev.Snapshot(), err
	}

	from, to := e.dev.State, working.State
	if from != to && !device.CanTransition(from, to) {
		return e.dev.Snapshot(), &device.Error{
			Kind:     device.KindInvalidState,
			Identity: identity,
			Msg:      fmt.Sprintf("transition %s -> %s is not allowed", from, to),
		}
	}
	if !to.HoldsLink() {
		working.Link = nil
	}

	working.UpdatedAt = time.Now()
	*e.dev = working

	if from != to {
		r.logger.WithFields(logrus.Fields{
			"identity": identity,
			"from":     from,
			"to":       to,
		}).Info("Device state changed")
	}
	return e.dev.Snapshot(), nil
}

// List returns snapshots of all known devices, sorted by identity
func (r *Registry) List() []device.Snapshot {
	return r.collect(func(*device.Device) bool { return true })
}

// ListPaired returns snapshots of devices holding a pairing token
func (r *Registry) ListPaired() []device.Snapshot {
	return r.collect((*device.Device).Paired)
}

// Len returns the number of known devices
func (r *Registry) Len() int {
	return r.devices.Len()
}

func (r *Registry) collect(keep func(*device.Device) bool) []device.Snapshot {
	r.tableMu.Lock()
	defer r.tableMu.Unlock()

	snaps := make([]device.Snapshot, 0, r.devices.Len())
	r.devices.Range(func(_ string, e *entry) bool {
		if keep(e.dev) {
			snaps = append(snaps, e.dev.Snapshot())
		}
		return true
	})

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Identity < snaps[j].Identity
	})
	return snaps
}
