// Package session drives devices through connect, pairing and authorization, and executes
// characteristic reads and writes. Every link operation for one device runs exclusively
// and under a deadline.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/ecogate/internal/device"
	"github.com/srg/ecogate/internal/groutine"
	"github.com/srg/ecogate/internal/registry"
)

// Options bounds link operations
type Options struct {
	ConnectTimeout     time.Duration `default:"10s"`
	OperationTimeout   time.Duration `default:"5s"`
	PairingSettleDelay time.Duration `default:"500ms"`
}

// DefaultOptions returns Options filled from their default tags
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

// core is the state shared by Manager and Gateway
type core struct {
	transport device.Transport
	registry  *registry.Registry
	slots     *LinkSlots
	opts      Options
	logger    *logrus.Logger
}

// New wires a connection manager and a characteristic gateway that share one slot table,
// so a device's connect sequence and its read/write transactions exclude each other.
func New(transport device.Transport, reg *registry.Registry, opts Options, logger *logrus.Logger) (*Manager, *Gateway) {
	if logger == nil {
		logger = logrus.New()
	}

	def := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = def.OperationTimeout
	}
	if opts.PairingSettleDelay < 0 {
		opts.PairingSettleDelay = 0
	}

	c := &core{
		transport: transport,
		registry:  reg,
		slots:     NewLinkSlots(),
		opts:      opts,
		logger:    logger,
	}
	return &Manager{core: c}, &Gateway{core: c}
}

// acquire takes the device's link slot or returns a Busy error
func (c *core) acquire(identity, op string) (func(), error) {
	release, ok := c.slots.Acquire(identity)
	if !ok {
		c.logger.WithFields(logrus.Fields{
			"identity": identity,
			"op":       op,
		}).Debug("Link slot busy")
		return nil, &device.Error{
			Kind:     device.KindBusy,
			Identity: identity,
			Op:       op,
			Msg:      "another operation is in flight for this device",
		}
	}
	return release, nil
}

// fail records err on the device and moves it to Failed, closing link. The transition only
// happens while the device still holds link; a device that meanwhile lost that link keeps
// its newer state and the error is reported as a link failure.
func (c *core) fail(identity string, link device.Link, err *device.Error) *device.Error {
	_, uerr := c.registry.Update(identity, func(d *device.Device) error {
		if !d.State.HoldsLink() || d.Link != link {
			return errStaleLink
		}
		d.State = device.StateFailed
		d.LastError = err.Error()
		return nil
	})

	if link != nil {
		if cerr := link.Close(); cerr != nil {
			c.logger.WithFields(logrus.Fields{
				"identity": identity,
				"error":    cerr,
			}).Debug("Closing link after failure")
		}
	}

	if errors.Is(uerr, errStaleLink) && err.Kind != device.KindTimeout {
		// The link went away underneath the operation
		err = device.NewError(device.KindLinkFailure, identity, err.Op, err.Err)
	}

	c.logger.WithFields(logrus.Fields{
		"identity": identity,
		"op":       err.Op,
		"kind":     err.Kind,
		"error":    err.Err,
	}).Warn("Operation failed")
	return err
}

// guardLink runs fn as a registry transaction that only applies while the device still holds link
func (c *core) guardLink(identity string, link device.Link, fn func(d *device.Device)) error {
	_, err := c.registry.Update(identity, func(d *device.Device) error {
		if !d.State.HoldsLink() || d.Link != link {
			return errStaleLink
		}
		fn(d)
		return nil
	})
	return err
}

var errStaleLink = errors.New("device no longer holds this link")

// failureKind returns kind unless the caller abandoned the operation. A cancelled request
// says nothing about the peripheral, so it is reported as a link failure.
func failureKind(kind device.ErrorKind, err error) device.ErrorKind {
	if errors.Is(err, context.Canceled) {
		return device.KindLinkFailure
	}
	return kind
}

// linkCall is one transport call made by the holder of identity's slot
type linkCall struct {
	identity string
	link     device.Link // nil while dialing
	op       string
	timeout  time.Duration
}

func (lc linkCall) task() groutine.Task {
	return groutine.Task{Name: lc.op, Device: lc.identity}
}

// lateTask drains a call that outlived its caller
func (lc linkCall) lateTask() groutine.Task {
	return groutine.Task{Name: lc.op + "-late", Device: lc.identity}
}

type result[T any] struct {
	val T
	err error
}

// bounded runs fn in a named goroutine under the call's timeout and waits for it or for
// the context to end, whichever comes first.
//
// A call that outlives a cancelled caller keeps the device's slot until fn returns or the
// call's own deadline passes, which fails the device with a timeout. On deadline the slot
// is handed back at once, since the caller fails the device and closes the link.
//
// A late successful result is handed to discard, if set.
func bounded[T any](ctx context.Context, c *core, lc linkCall, fn func(ctx context.Context) (T, error), discard func(T)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, lc.timeout)
	defer cancel()
	done := c.slots.Track(lc.identity)

	results := make(chan result[T], 1)
	groutine.Go(ctx, lc.task(), func(ctx context.Context) {
		v, err := fn(ctx)
		results <- result[T]{val: v, err: err}
	})

	select {
	case r := <-results:
		done()
		return r.val, r.err
	case <-ctx.Done():
	}

	err := ctx.Err()
	late := func() {
		if r := <-results; r.err == nil && discard != nil {
			discard(r.val)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		done()
		if discard != nil {
			groutine.Go(context.Background(), lc.lateTask(), func(context.Context) { late() })
		}
	} else {
		deadline := time.Now().Add(lc.timeout)
		if d, ok := ctx.Deadline(); ok {
			deadline = d
		}
		groutine.Go(context.Background(), lc.lateTask(), func(ctx context.Context) {
			timer := time.NewTimer(time.Until(deadline))
			defer timer.Stop()

			select {
			case r := <-results:
				if r.err == nil && discard != nil {
					discard(r.val)
				}
				done()
			case <-timer.C:
				task, _ := groutine.FromContext(ctx)
				c.logger.WithField("task", task.String()).Warn("Transport call outlived its caller and its deadline")
				c.abandon(lc)
				done()
				if discard != nil {
					late()
				}
			}
		})
	}

	var zero T
	return zero, err
}

// run is bounded for operations without a result
func run(ctx context.Context, c *core, lc linkCall, fn func(ctx context.Context) error) error {
	_, err := bounded(ctx, c, lc, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, nil)
	return err
}

// abandon fails a device whose transport call outlived its cancelled caller and then ran
// past its deadline
func (c *core) abandon(lc linkCall) {
	if lc.link == nil {
		return
	}

	var holds bool
	_ = c.registry.View(lc.identity, func(d *device.Device) {
		holds = d.State.HoldsLink() && d.Link == lc.link
	})
	if !holds {
		_ = lc.link.Close()
		return
	}
	c.fail(lc.identity, lc.link, device.NewError(device.KindTimeout, lc.identity, lc.op, context.DeadlineExceeded))
}
