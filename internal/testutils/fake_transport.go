package testutils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ecogate/internal/device"
)

// Operation names recorded by FakeTransport
const (
	OpConnect   = "connect"
	OpEnumerate = "enumerate"
	OpRead      = "read"
	OpWrite     = "write"
)

// ErrOutOfRange is returned when connecting to an identity with no registered peripheral
var ErrOutOfRange = errors.New("peripheral out of range")

// Call is one recorded transport operation
type Call struct {
	Identity string
	Op       string
	UUID     string
	Data     []byte
	Ack      bool
}

// FakeTransport is an in-memory device.Transport. Every call is recorded, and calls that
// overlap in time on the same identity are counted so serialization can be asserted.
type FakeTransport struct {
	logger *logrus.Logger

	mu           sync.Mutex
	peripherals  map[string]*FakePeripheral
	observations []device.Observation
	calls        []Call
	inflight     map[string]int
	overlaps     int

	disconnects chan string
}

// NewFakeTransport creates an empty fake transport
func NewFakeTransport(logger *logrus.Logger) *FakeTransport {
	if logger == nil {
		logger = logrus.New()
	}
	return &FakeTransport{
		logger:      logger,
		peripherals: make(map[string]*FakePeripheral),
		inflight:    make(map[string]int),
		disconnects: make(chan string, 64),
	}
}

// AddPeripheral registers a connectable peripheral
func (t *FakeTransport) AddPeripheral(identity string) *FakePeripheral {
	p := &FakePeripheral{
		transport: t,
		identity:  identity,
		values:    make(map[string][]byte),
		failures:  make(map[string]error),
		blocks:    make(map[string]chan struct{}),
	}

	t.mu.Lock()
	t.peripherals[identity] = p
	t.mu.Unlock()
	return p
}

// AddObservations queues advertisements delivered by the next Scan
func (t *FakeTransport) AddObservations(obs ...device.Observation) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observations = append(t.observations, obs...)
	return t
}

// Scan delivers every queued observation and returns
func (t *FakeTransport) Scan(ctx context.Context, _ bool, handler func(device.Observation)) error {
	t.mu.Lock()
	obs := append([]device.Observation(nil), t.observations...)
	t.mu.Unlock()

	for _, o := range obs {
		if err := ctx.Err(); err != nil {
			return err
		}
		handler(o)
	}
	return nil
}

// Connect opens a fake link to a registered peripheral
func (t *FakeTransport) Connect(ctx context.Context, identity string) (device.Link, error) {
	t.mu.Lock()
	p, ok := t.peripherals[identity]
	t.mu.Unlock()

	done := t.begin(Call{Identity: identity, Op: OpConnect})
	defer done()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOutOfRange, identity)
	}
	if err := p.perform(ctx, OpConnect, ""); err != nil {
		return nil, err
	}
	return p.Link(), nil
}

// Disconnects implements device.Transport
func (t *FakeTransport) Disconnects() <-chan string {
	return t.disconnects
}

// SimulateDisconnect drops the peripheral's live link and publishes a link-loss notification
func (t *FakeTransport) SimulateDisconnect(identity string) {
	t.mu.Lock()
	p := t.peripherals[identity]
	t.mu.Unlock()

	if p != nil {
		p.mu.Lock()
		if p.link != nil {
			p.link.closed = true
			p.link = nil
		}
		p.mu.Unlock()
	}

	t.logger.WithField("identity", identity).Debug("Simulating link loss")
	t.disconnects <- identity
}

// Calls returns the recorded calls for an identity, in order
func (t *FakeTransport) Calls(identity string) []Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Call
	for _, c := range t.calls {
		if c.Identity == identity {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns the number of recorded calls for an identity
func (t *FakeTransport) CallCount(identity string) int {
	return len(t.Calls(identity))
}

// Ops returns the operation names recorded for an identity, in order
func (t *FakeTransport) Ops(identity string) []string {
	calls := t.Calls(identity)
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Writes returns every payload written to uuid on the identity's links
func (t *FakeTransport) Writes(identity, uuid string) [][]byte {
	want := device.NormalizeUUID(uuid)
	var out [][]byte
	for _, c := range t.Calls(identity) {
		if c.Op == OpWrite && c.UUID == want {
			out = append(out, c.Data)
		}
	}
	return out
}

// Overlaps returns how many calls started while another call on the same identity was in flight
func (t *FakeTransport) Overlaps() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overlaps
}

// ResetCalls clears the call log
func (t *FakeTransport) ResetCalls() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = nil
}

func (t *FakeTransport) begin(c Call) func() {
	t.mu.Lock()
	t.calls = append(t.calls, c)
	t.inflight[c.Identity]++
	if t.inflight[c.Identity] > 1 {
		t.overlaps++
		t.logger.WithFields(logrus.Fields{
			"identity": c.Identity,
			"op":       c.Op,
		}).Warn("Overlapping transport call")
	}
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		t.inflight[c.Identity]--
		t.mu.Unlock()
	}
}

// FakePeripheral is the GATT side of a fake device
type FakePeripheral struct {
	transport *FakeTransport
	identity  string

	mu       sync.Mutex
	order    []string
	values   map[string][]byte
	failures map[string]error
	blocks   map[string]chan struct{}
	latency  time.Duration
	link     *fakeLink
}

// WithCharacteristic exposes a characteristic with an initial value
func (p *FakePeripheral) WithCharacteristic(uuid string, value []byte) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()

	uuid = device.NormalizeUUID(uuid)
	if _, ok := p.values[uuid]; !ok {
		p.order = append(p.order, uuid)
	}
	p.values[uuid] = bytes.Clone(value)
	return p
}

// WithLatency delays every operation by d, or until the caller's context ends
func (p *FakePeripheral) WithLatency(d time.Duration) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
	return p
}

// FailOn makes op fail with err. Read and write failures may be narrowed to one
// characteristic with "read:<uuid>" or "write:<uuid>". A nil err clears the failure.
func (p *FakePeripheral) FailOn(op string, err error) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
	} else {
		p.failures[op] = err
	}
	return p
}

// Block makes op hang, ignoring the caller's context, until release is called
func (p *FakePeripheral) Block(op string) (release func()) {
	ch := make(chan struct{})
	p.mu.Lock()
	p.blocks[op] = ch
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.blocks[op] == ch {
				delete(p.blocks, op)
			}
			p.mu.Unlock()
			close(ch)
		})
	}
}

// Value returns the current value of a characteristic
func (p *FakePeripheral) Value(uuid string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.values[device.NormalizeUUID(uuid)])
}

// Link opens a new live link to the peripheral. SimulateDisconnect drops the most recent one.
func (p *FakePeripheral) Link() device.Link {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.link = &fakeLink{peripheral: p}
	return p.link
}

func (p *FakePeripheral) perform(ctx context.Context, op, uuid string) error {
	p.mu.Lock()
	block := p.blocks[op]
	latency := p.latency
	err := p.failures[op]
	if uuid != "" {
		if e, ok := p.failures[op+":"+uuid]; ok {
			err = e
		}
	}
	p.mu.Unlock()

	if block != nil {
		<-block
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

type fakeLink struct {
	peripheral *FakePeripheral
	closed     bool // guarded by peripheral.mu
}

func (l *fakeLink) Identity() string {
	return l.peripheral.identity
}

func (l *fakeLink) isClosed() bool {
	l.peripheral.mu.Lock()
	defer l.peripheral.mu.Unlock()
	return l.closed
}

func (l *fakeLink) Enumerate(ctx context.Context) ([]device.CharacteristicRef, error) {
	p := l.peripheral
	done := p.transport.begin(Call{Identity: p.identity, Op: OpEnumerate})
	defer done()

	if l.isClosed() {
		return nil, device.ErrLinkClosed
	}
	if err := p.perform(ctx, OpEnumerate, ""); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	refs := make([]device.CharacteristicRef, 0, len(p.order))
	for _, uuid := range p.order {
		refs = append(refs, device.CharacteristicRef{UUID: uuid, Handle: uuid})
	}
	return refs, nil
}

func (l *fakeLink) Read(ctx context.Context, ref device.CharacteristicRef) ([]byte, error) {
	p := l.peripheral
	uuid := device.NormalizeUUID(ref.UUID)
	done := p.transport.begin(Call{Identity: p.identity, Op: OpRead, UUID: uuid})
	defer done()

	if l.isClosed() {
		return nil, device.ErrLinkClosed
	}
	if err := p.perform(ctx, OpRead, uuid); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[uuid]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	return bytes.Clone(v), nil
}

func (l *fakeLink) Write(ctx context.Context, ref device.CharacteristicRef, data []byte, ack bool) error {
	p := l.peripheral
	uuid := device.NormalizeUUID(ref.UUID)
	done := p.transport.begin(Call{Identity: p.identity, Op: OpWrite, UUID: uuid, Data: bytes.Clone(data), Ack: ack})
	defer done()

	if l.isClosed() {
		return device.ErrLinkClosed
	}
	if err := p.perform(ctx, OpWrite, uuid); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.values[uuid]; !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	p.values[uuid] = bytes.Clone(data)
	return nil
}

func (l *fakeLink) Close() error {
	p := l.peripheral
	p.mu.Lock()
	defer p.mu.Unlock()

	l.closed = true
	if p.link == l {
		p.link = nil
	}
	return nil
}
