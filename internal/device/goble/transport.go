// Package goble implements the gateway's radio transport on top of go-ble.
package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/ecogate/internal/device"
	"github.com/srg/ecogate/internal/groutine"
	"github.com/srg/ecogate/internal/ringchan"
)

// DefaultDisconnectBuffer bounds pending link-loss notifications
const DefaultDisconnectBuffer = 64

// DeviceFactory creates the platform ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test overriding
var DeviceFactory = defaultDevice

// gattClient is the subset of ble.Client a link needs
type gattClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// radio is the subset of ble.Device the transport needs
type radio interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
}

type dialFunc func(ctx context.Context, identity string) (gattClient, error)

// Transport implements device.Transport over a go-ble device
type Transport struct {
	radio       radio
	dial        dialFunc
	links       *hashmap.Map[string, *Link]
	disconnects *ringchan.RingChannel[string]
	logger      *logrus.Logger
}

// NewTransport wraps a go-ble device
func NewTransport(dev ble.Device, logger *logrus.Logger) *Transport {
	return newTransport(dev, func(ctx context.Context, identity string) (gattClient, error) {
		return dev.Dial(ctx, ble.NewAddr(identity))
	}, logger)
}

// Open creates a transport on the platform's default BLE adapter
func Open(logger *logrus.Logger) (*Transport, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	return NewTransport(dev, logger), nil
}

func newTransport(r radio, dial dialFunc, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{
		radio:       r,
		dial:        dial,
		links:       hashmap.New[string, *Link](),
		disconnects: ringchan.New[string](DefaultDisconnectBuffer),
		logger:      logger,
	}
}

// Scan delivers every advertisement as an observation until ctx ends
func (t *Transport) Scan(ctx context.Context, allowDup bool, handler func(device.Observation)) error {
	err := t.radio.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(observationFrom(adv))
	})
	return NormalizeError(err)
}

// Connect dials the peripheral and starts watching the new link for loss
func (t *Transport) Connect(ctx context.Context, identity string) (device.Link, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	t.logger.WithField("identity", identity).Debug("Dialing BLE device...")
	client, err := t.dial(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", identity, NormalizeError(err))
	}

	link := &Link{
		identity:  identity,
		client:    client,
		transport: t,
		done:      make(chan struct{}),
	}
	if prev, loaded := t.links.Get(identity); loaded {
		_ = prev.Close()
	}
	t.links.Set(identity, link)

	groutine.Go(context.Background(), groutine.Task{Name: "disconnect-watch", Device: identity}, link.watch)

	t.logger.WithField("identity", identity).Info("BLE device connected")
	return link, nil
}

// Disconnects publishes the identity of every link lost without a Close
func (t *Transport) Disconnects() <-chan string {
	return t.disconnects.C()
}

// Close releases every live link
func (t *Transport) Close() error {
	var links []*Link
	t.links.Range(func(_ string, l *Link) bool {
		links = append(links, l)
		return true
	})

	var firstErr error
	for _, l := range links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Transport) forget(l *Link) {
	if cur, ok := t.links.Get(l.identity); ok && cur == l {
		t.links.Del(l.identity)
	}
}

// Link is one live go-ble connection
type Link struct {
	identity  string
	client    gattClient
	transport *Transport

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Identity implements device.Link
func (l *Link) Identity() string {
	return l.identity
}

// Enumerate discovers the full GATT profile and flattens it to characteristic refs
func (l *Link) Enumerate(ctx context.Context) ([]device.CharacteristicRef, error) {
	if err := l.usable(ctx); err != nil {
		return nil, err
	}

	profile, err := l.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	var refs []device.CharacteristicRef
	for _, svc := range profile.Services {
		svcUUID := device.NormalizeUUID(svc.UUID.String())
		for _, c := range svc.Characteristics {
			refs = append(refs, device.CharacteristicRef{
				UUID:    device.NormalizeUUID(c.UUID.String()),
				Service: svcUUID,
				Handle:  c,
			})
		}
	}

	l.transport.logger.WithFields(logrus.Fields{
		"identity":        l.identity,
		"services":        len(profile.Services),
		"characteristics": len(refs),
	}).Debug("Profile discovered")
	return refs, nil
}

// Read implements device.Link
func (l *Link) Read(ctx context.Context, ref device.CharacteristicRef) ([]byte, error) {
	c, err := l.characteristic(ctx, ref)
	if err != nil {
		return nil, err
	}
	data, err := l.client.ReadCharacteristic(c)
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", ref.UUID, NormalizeError(err))
	}
	return data, nil
}

// Write implements device.Link; ack selects a write request over a write command
func (l *Link) Write(ctx context.Context, ref device.CharacteristicRef, data []byte, ack bool) error {
	c, err := l.characteristic(ctx, ref)
	if err != nil {
		return err
	}
	if err := l.client.WriteCharacteristic(c, data, !ack); err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", ref.UUID, NormalizeError(err))
	}
	return nil
}

// Close cancels the connection. A closed link never reports a disconnect.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.transport.forget(l)
		close(l.done)

		err = NormalizeError(l.client.CancelConnection())
		l.transport.logger.WithField("identity", l.identity).Debug("BLE link closed")
	})
	return err
}

func (l *Link) usable(ctx context.Context) error {
	if l.closed.Load() {
		return device.ErrLinkClosed
	}
	return ctx.Err()
}

func (l *Link) characteristic(ctx context.Context, ref device.CharacteristicRef) (*ble.Characteristic, error) {
	if err := l.usable(ctx); err != nil {
		return nil, err
	}
	c, ok := ref.Handle.(*ble.Characteristic)
	if !ok || c == nil {
		return nil, fmt.Errorf("characteristic %s was not discovered on this link", ref.UUID)
	}
	return c, nil
}

// watch publishes link loss once, unless the link was closed first
func (l *Link) watch(context.Context) {
	select {
	case <-l.client.Disconnected():
		if !l.closed.CompareAndSwap(false, true) {
			return
		}
		l.transport.forget(l)
		l.transport.logger.WithField("identity", l.identity).Warn("BLE link lost")
		l.transport.disconnects.Send(l.identity)
	case <-l.done:
	}
}
