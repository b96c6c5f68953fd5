package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/ecogate/internal/device"
	"github.com/srg/ecogate/internal/ringchan"
)

// DefaultEventBuffer is the number of device events kept for slow consumers
const DefaultEventBuffer = 100

// DeviceEventType marks if the device was newly admitted or seen again
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventSeen
)

func (t DeviceEventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "seen"
}

type DeviceEvent struct {
	Type   DeviceEventType
	Device device.Snapshot
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration // zero scans until ctx ends
	AllowDuplicates bool
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration: 10 * time.Second,
	}
}

// Scanner feeds advertisements from a scanning device through the admission filter and
// publishes an event for every admitted sighting.
type Scanner struct {
	source device.ScanningDevice
	filter *Filter
	events *ringchan.RingChannel[DeviceEvent]
	logger *logrus.Logger
}

// NewScanner creates a scanner. eventBuffer <= 0 selects DefaultEventBuffer.
func NewScanner(source device.ScanningDevice, filter *Filter, eventBuffer int, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if eventBuffer <= 0 {
		eventBuffer = DefaultEventBuffer
	}

	s := &Scanner{
		source: source,
		filter: filter,
		logger: logger,
	}
	s.events = ringchan.New[DeviceEvent](eventBuffer).OnDrop(func(ev DeviceEvent) {
		s.logger.WithField("identity", ev.Device.Identity).Trace("Device event dropped")
	})
	return s
}

// Run scans until opts.Duration elapses or ctx ends and returns the devices admitted during
// this run, sorted by identity. The scan ending by cancellation or deadline is not an error.
func (s *Scanner) Run(ctx context.Context, opts *ScanOptions) ([]device.Snapshot, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	seen := hashmap.New[string, device.Snapshot]()

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")

	err := s.source.Scan(ctx, opts.AllowDuplicates, func(obs device.Observation) {
		snap, inserted, ok := s.filter.admit(obs)
		if !ok {
			return
		}
		seen.Set(snap.Identity, snap)

		event := DeviceEvent{Type: EventSeen, Device: snap}
		if inserted {
			event.Type = EventNew
		}
		s.events.Send(event)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	devices := make([]device.Snapshot, 0, seen.Len())
	seen.Range(func(_ string, snap device.Snapshot) bool {
		devices = append(devices, snap)
		return true
	})
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Identity < devices[j].Identity
	})

	s.logger.WithField("device_count", len(devices)).Info("BLE scan completed")
	return devices, nil
}

// Events returns a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
