package session

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ecogate/internal/catalog"
	"github.com/srg/ecogate/internal/device"
)

var errEmptyResetIdentity = errors.New("reset-identity characteristic returned no data")

// enumerate lists the link's characteristics under the operation timeout
func (c *core) enumerate(ctx context.Context, link device.Link) ([]device.CharacteristicRef, error) {
	return bounded(ctx, c, c.call(link, "enumerate"), link.Enumerate, nil)
}

func (c *core) readRef(ctx context.Context, link device.Link, ref device.CharacteristicRef) ([]byte, error) {
	return bounded(ctx, c, c.call(link, "read"), func(ctx context.Context) ([]byte, error) {
		return link.Read(ctx, ref)
	}, nil)
}

func (c *core) writeRef(ctx context.Context, link device.Link, ref device.CharacteristicRef, data []byte) error {
	return run(ctx, c, c.call(link, "write"), func(ctx context.Context) error {
		return link.Write(ctx, ref, data, true)
	})
}

func (c *core) call(link device.Link, op string) linkCall {
	return linkCall{identity: link.Identity(), link: link, op: op, timeout: c.opts.OperationTimeout}
}

// resetIdentity locates the reset-identity characteristic in an enumeration
func resetIdentity(refs []device.CharacteristicRef) (device.CharacteristicRef, error) {
	uuid, _ := catalog.Resolve(catalog.ResetIdentity)
	return device.FindCharacteristic(refs, uuid)
}

// pairHandshake performs the one-time trust bootstrap: the current reset-identity value is
// read, and after a settling delay written back unchanged. The value read becomes the
// device's pairing token.
func (c *core) pairHandshake(ctx context.Context, link device.Link) ([]byte, error) {
	identity := link.Identity()

	refs, err := c.enumerate(ctx, link)
	if err != nil {
		return nil, err
	}
	ref, err := resetIdentity(refs)
	if err != nil {
		return nil, err
	}

	token, err := c.readRef(ctx, link, ref)
	if err != nil {
		return nil, err
	}
	if len(token) == 0 {
		return nil, errEmptyResetIdentity
	}

	c.logger.WithFields(logrus.Fields{
		"identity": identity,
		"settle":   c.opts.PairingSettleDelay,
	}).Debug("Read reset identity, waiting before write-back")

	if err := settle(ctx, c.opts.PairingSettleDelay); err != nil {
		return nil, err
	}

	if err := c.writeRef(ctx, link, ref, token); err != nil {
		return nil, err
	}
	return bytes.Clone(token), nil
}

// authorizeHandshake re-presents an established token on the link. The enumeration it
// performed is returned so a following transaction on the same link can resolve against it.
func (c *core) authorizeHandshake(ctx context.Context, link device.Link, token []byte) ([]device.CharacteristicRef, error) {
	refs, err := c.enumerate(ctx, link)
	if err != nil {
		return nil, err
	}
	ref, err := resetIdentity(refs)
	if err != nil {
		return nil, err
	}
	if err := c.writeRef(ctx, link, ref, token); err != nil {
		return nil, err
	}

	c.logger.WithField("identity", link.Identity()).Debug("Pairing token presented")
	return refs, nil
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
