package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/ecogate/internal/device"
	"github.com/srg/ecogate/internal/groutine"
)

// Manager takes devices from Discovered (or Disconnected/Failed) to Ready and tracks link loss.
type Manager struct {
	*core
}

// Connect opens a link to the device and pairs it the first time, or authorizes it with
// the stored token on every later connect. It returns once the device is Ready or the
// sequence failed.
func (m *Manager) Connect(ctx context.Context, identity string) error {
	const op = "connect"

	if err := m.registry.View(identity, func(*device.Device) {}); err != nil {
		return err
	}

	release, err := m.acquire(identity, op)
	if err != nil {
		return err
	}
	defer release()

	_, err = m.registry.Update(identity, func(d *device.Device) error {
		if !d.State.CanConnect() {
			return &device.Error{
				Kind:     device.KindInvalidState,
				Identity: identity,
				Op:       op,
				Msg:      fmt.Sprintf("cannot connect a device in state %s", d.State),
			}
		}
		d.State = device.StateConnecting
		d.LastError = ""
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.WithField("identity", identity).Info("Connecting to device")

	link, err := m.dial(ctx, identity)
	if err != nil {
		return m.fail(identity, nil, device.NewError(device.KindLinkFailure, identity, op, err))
	}

	var (
		token []byte
		state device.LifecycleState
	)
	err = m.guardLink(identity, nil, func(d *device.Device) {
		d.Link = link
		token = d.Token()
		if d.Paired() {
			d.State = device.StateAuthorizing
		} else {
			d.State = device.StatePairing
		}
		state = d.State
	})
	if err != nil {
		// Link lost (or device reset) while dialing
		_ = link.Close()
		return device.NewError(device.KindLinkFailure, identity, op, device.ErrNotConnected)
	}

	if state == device.StatePairing {
		return m.pair(ctx, identity, link)
	}
	return m.authorize(ctx, identity, link, token)
}

// ConnectAsync starts Connect in the background. The outcome is observable through the registry.
func (m *Manager) ConnectAsync(ctx context.Context, identity string) error {
	var state device.LifecycleState
	if err := m.registry.View(identity, func(d *device.Device) { state = d.State }); err != nil {
		return err
	}
	if !state.CanConnect() {
		return &device.Error{
			Kind:     device.KindInvalidState,
			Identity: identity,
			Op:       "connect",
			Msg:      fmt.Sprintf("cannot connect a device in state %s", state),
		}
	}
	if m.slots.Held(identity) {
		return &device.Error{
			Kind:     device.KindBusy,
			Identity: identity,
			Op:       "connect",
			Msg:      "another operation is in flight for this device",
		}
	}

	groutine.Go(context.WithoutCancel(ctx), groutine.Task{Name: "connect", Device: identity}, func(ctx context.Context) {
		if err := m.Connect(ctx, identity); err != nil {
			m.logger.WithFields(logrus.Fields{
				"identity": identity,
				"error":    err,
			}).Warn("Background connect failed")
		}
	})
	return nil
}

// HandleDisconnect records link loss: any link-holding state becomes Disconnected, the link
// is dropped and the pairing token is kept. Unknown or already unlinked devices are ignored.
func (m *Manager) HandleDisconnect(identity string) {
	snap, err := m.registry.Update(identity, func(d *device.Device) error {
		if !d.State.HoldsLink() {
			return errStaleLink
		}
		d.State = device.StateDisconnected
		return nil
	})
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"identity": identity,
		}).Debug("Ignoring disconnect for device without a link")
		return
	}

	m.logger.WithFields(logrus.Fields{
		"identity": identity,
		"paired":   snap.Paired,
	}).Info("Device disconnected")
}

// Run consumes the transport's disconnect stream until ctx ends or the stream closes
func (m *Manager) Run(ctx context.Context) error {
	disconnects := m.transport.Disconnects()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case identity, ok := <-disconnects:
			if !ok {
				return nil
			}
			m.HandleDisconnect(identity)
		}
	}
}

func (m *Manager) dial(ctx context.Context, identity string) (device.Link, error) {
	lc := linkCall{identity: identity, op: "dial", timeout: m.opts.ConnectTimeout}
	return bounded(ctx, m.core, lc,
		func(ctx context.Context) (device.Link, error) {
			return m.transport.Connect(ctx, identity)
		},
		func(late device.Link) {
			m.logger.WithField("identity", identity).Debug("Closing link that arrived after connect gave up")
			_ = late.Close()
		})
}

func (m *Manager) pair(ctx context.Context, identity string, link device.Link) error {
	m.logger.WithField("identity", identity).Info("Pairing device")

	token, err := m.pairHandshake(ctx, link)
	if err != nil {
		return m.fail(identity, link, device.NewError(failureKind(device.KindPairing, err), identity, "pair", err))
	}

	err = m.guardLink(identity, link, func(d *device.Device) {
		d.PairingToken = token
		d.State = device.StateReady
		d.LastError = ""
	})
	if err != nil {
		return device.NewError(device.KindLinkFailure, identity, "pair", device.ErrNotConnected)
	}

	m.logger.WithField("identity", identity).Info("Device paired")
	return nil
}

func (m *Manager) authorize(ctx context.Context, identity string, link device.Link, token []byte) error {
	m.logger.WithField("identity", identity).Info("Authorizing device")

	if _, err := m.authorizeHandshake(ctx, link, token); err != nil {
		return m.fail(identity, link, device.NewError(failureKind(device.KindAuthorization, err), identity, "authorize", err))
	}

	err := m.guardLink(identity, link, func(d *device.Device) {
		d.State = device.StateReady
		d.LastError = ""
	})
	if err != nil {
		return device.NewError(device.KindLinkFailure, identity, "authorize", device.ErrNotConnected)
	}

	m.logger.WithField("identity", identity).Info("Device authorized")
	return nil
}
