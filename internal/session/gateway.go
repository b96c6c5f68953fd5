package session

import (
	"bytes"
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/srg/ecogate/internal/catalog"
	"github.com/srg/ecogate/internal/device"
)

// Gateway executes characteristic reads and writes by symbolic name.
//
// Each transaction re-presents the pairing token before touching the characteristic, and
// resolves the characteristic from a fresh enumeration of the link, which costs one extra
// discovery round trip per call.
type Gateway struct {
	*core
}

// transaction is the link state a read or write runs against
type transaction struct {
	identity string
	name     string
	uuid     string
	link     device.Link
	token    []byte
	release  func()
}

// Read returns the current value of the named characteristic
func (g *Gateway) Read(ctx context.Context, identity, name string) ([]byte, error) {
	tx, err := g.begin(identity, name, "read")
	if err != nil {
		return nil, err
	}
	defer tx.release()

	ref, err := g.prepare(ctx, tx, "read")
	if err != nil {
		return nil, err
	}

	value, err := g.readRef(ctx, tx.link, ref)
	if err != nil {
		return nil, g.transportError(tx, "read", err)
	}

	g.logger.WithFields(logrus.Fields{
		"identity":       identity,
		"characteristic": name,
		"bytes":          len(value),
	}).Debug("Characteristic read")
	return value, nil
}

// Write stores payload in the named characteristic, requesting an acknowledgement
func (g *Gateway) Write(ctx context.Context, identity, name string, payload []byte) error {
	tx, err := g.begin(identity, name, "write")
	if err != nil {
		return err
	}
	defer tx.release()

	ref, err := g.prepare(ctx, tx, "write")
	if err != nil {
		return err
	}

	if err := g.writeRef(ctx, tx.link, ref, bytes.Clone(payload)); err != nil {
		return g.transportError(tx, "write", err)
	}

	g.logger.WithFields(logrus.Fields{
		"identity":       identity,
		"characteristic": name,
		"bytes":          len(payload),
	}).Debug("Characteristic written")
	return nil
}

// Characteristics lists the symbolic names the gateway accepts, in table order
func (g *Gateway) Characteristics() []catalog.Entry {
	return catalog.Entries()
}

// begin validates the request without touching the transport, then takes the device's
// link slot. Checks run in order: device exists, device paired, name known.
func (g *Gateway) begin(identity, name, op string) (*transaction, error) {
	var paired bool
	if err := g.registry.View(identity, func(d *device.Device) { paired = d.Paired() }); err != nil {
		return nil, err
	}
	if !paired {
		return nil, &device.Error{
			Kind:     device.KindNotAuthorized,
			Identity: identity,
			Op:       op,
			Msg:      "device has not been paired",
		}
	}

	uuid, ok := catalog.Resolve(name)
	if !ok {
		return nil, &device.Error{
			Kind:     device.KindUnknownCharacteristic,
			Identity: identity,
			Op:       op,
			Msg:      "no characteristic named " + name,
		}
	}

	release, err := g.acquire(identity, op)
	if err != nil {
		return nil, err
	}

	tx := &transaction{identity: identity, name: name, uuid: uuid, release: release}
	err = g.registry.View(identity, func(d *device.Device) {
		if d.State == device.StateReady {
			tx.link = d.Link
		}
		tx.token = d.Token()
	})
	if err == nil && tx.link == nil {
		err = device.NewError(device.KindLinkFailure, identity, op, device.ErrNotConnected)
	}
	if err != nil {
		release()
		return nil, err
	}
	return tx, nil
}

// prepare re-authorizes the link and resolves the characteristic on it
func (g *Gateway) prepare(ctx context.Context, tx *transaction, op string) (device.CharacteristicRef, error) {
	refs, err := g.authorizeHandshake(ctx, tx.link, tx.token)
	if errors.Is(err, context.Canceled) {
		// The caller gave up; the session is intact and the next call re-authorizes
		return device.CharacteristicRef{}, g.transportError(tx, "authorize", err)
	}
	if err != nil {
		return device.CharacteristicRef{}, g.fail(tx.identity, tx.link,
			device.NewError(device.KindAuthorization, tx.identity, "authorize", err))
	}

	ref, err := device.FindCharacteristic(refs, tx.uuid)
	if err != nil {
		return device.CharacteristicRef{}, &device.Error{
			Kind:     device.KindUnknownCharacteristic,
			Identity: tx.identity,
			Op:       op,
			Msg:      "device does not expose " + tx.name,
			Err:      err,
		}
	}
	return ref, nil
}

// transportError maps a failed read or write. Deadline expiry fails the device; other
// transport errors leave its state alone.
func (g *Gateway) transportError(tx *transaction, op string, err error) error {
	derr := device.NewError(device.KindLinkFailure, tx.identity, op, err)
	if derr.Kind == device.KindTimeout {
		return g.fail(tx.identity, tx.link, derr)
	}

	g.logger.WithFields(logrus.Fields{
		"identity":       tx.identity,
		"characteristic": tx.name,
		"error":          err,
	}).Warn("Characteristic transaction failed")
	return derr
}
