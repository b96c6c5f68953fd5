package session_test

import (
	"context"
	"sync"
	"time"

	"github.com/srg/ecogate/internal/catalog"
	"github.com/srg/ecogate/internal/device"
	"github.com/srg/ecogate/internal/groutine"
	"github.com/srg/ecogate/internal/testutils"
)

func (s *SessionTestSuite) TestGatewayReadWrite() {
	p := s.pairedDevice("D1")

	s.Run("read re-authorizes before reading", func() {
		value, err := s.gateway.Read(context.Background(), "D1", catalog.LEDBrightness)

		s.Require().NoError(err)
		s.Equal([]byte{0x10}, value)
		s.Equal([]string{testutils.OpEnumerate, testutils.OpWrite, testutils.OpRead}, s.transport.Ops("D1"))
		s.Equal([][]byte{{0x01, 0x02}}, s.transport.Writes("D1", resetUUID))
	})

	s.Run("write stores payload with acknowledgement", func() {
		s.transport.ResetCalls()
		payload := []byte{0x42}

		s.Require().NoError(s.gateway.Write(context.Background(), "D1", catalog.LEDBrightness, payload))

		s.Equal(payload, p.Value(ledUUID))
		calls := s.transport.Calls("D1")
		s.Require().Len(calls, 3)
		s.Equal(ledUUID, calls[2].UUID)
		s.True(calls[2].Ack)
		s.Equal(device.StateReady, s.state("D1"))
	})
}

func (s *SessionTestSuite) TestGatewayRejectsWithoutTransportCalls() {
	s.addDevice("U1", []byte{0x01})
	s.pairedDevice("P1")

	tests := []struct {
		name     string
		identity string
		char     string
		want     error
	}{
		{"unknown device", "missing", catalog.LEDBrightness, device.ErrDeviceNotFound},
		{"unpaired device", "U1", catalog.LEDBrightness, device.ErrNotAuthorized},
		{"unpaired device with unknown name", "U1", "no-such-thing", device.ErrNotAuthorized},
		{"unknown name", "P1", "no-such-thing", device.ErrUnknownCharacteristic},
		{"names are not passed through as uuids", "P1", ledUUID, device.ErrUnknownCharacteristic},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.transport.ResetCalls()

			_, readErr := s.gateway.Read(context.Background(), tt.identity, tt.char)
			writeErr := s.gateway.Write(context.Background(), tt.identity, tt.char, []byte{0x01})

			s.ErrorIs(readErr, tt.want)
			s.ErrorIs(writeErr, tt.want)
			s.Zero(s.transport.CallCount(tt.identity), "rejected calls MUST NOT reach the transport")
		})
	}
}

func (s *SessionTestSuite) TestGatewayRequiresLiveLink() {
	s.pairedDevice("D1")
	s.disconnect("D1")
	s.transport.ResetCalls()

	_, err := s.gateway.Read(context.Background(), "D1", catalog.LEDBrightness)

	s.ErrorIs(err, device.ErrLinkFailure)
	s.ErrorIs(err, device.ErrNotConnected)
	s.Zero(s.transport.CallCount("D1"))
}

func (s *SessionTestSuite) TestGatewayCharacteristicMissingOnDevice() {
	s.pairedDevice("D1")

	_, err := s.gateway.Read(context.Background(), "D1", catalog.MonitoringData)

	s.ErrorIs(err, device.ErrUnknownCharacteristic)
	var nf *device.NotFoundError
	s.ErrorAs(err, &nf)
	s.Equal(device.StateReady, s.state("D1"), "a missing characteristic MUST NOT change device state")
}

func (s *SessionTestSuite) TestGatewayAuthorizationFailure() {
	p := s.pairedDevice("D1")
	p.FailOn(testutils.OpWrite+":"+resetUUID, errRadio)

	_, err := s.gateway.Read(context.Background(), "D1", catalog.LEDBrightness)

	s.ErrorIs(err, device.ErrAuthorization)
	s.Equal(device.StateFailed, s.state("D1"))
	s.Equal([]byte{0x01, 0x02}, s.token("D1"))
	s.NotContains(s.transport.Ops("D1"), testutils.OpRead, "no transaction after a failed authorization")
}

func (s *SessionTestSuite) TestGatewayTransportErrorKeepsState() {
	p := s.pairedDevice("D1")
	p.FailOn(testutils.OpRead+":"+ledUUID, errRadio)

	_, err := s.gateway.Read(context.Background(), "D1", catalog.LEDBrightness)

	s.ErrorIs(err, device.ErrLinkFailure)
	s.ErrorIs(err, errRadio)
	s.Equal(device.StateReady, s.state("D1"))
}

func (s *SessionTestSuite) TestGatewayTimeoutFailsDeviceAndReleasesSlot() {
	s.pairedDevice("D1")
	p := s.pairedDevice("D2")
	s.withTimeouts(50 * time.Millisecond)

	release := p.Block(testutils.OpRead)
	defer release()

	start := time.Now()
	_, err := s.gateway.Read(context.Background(), "D2", catalog.LEDBrightness)

	s.ErrorIs(err, device.ErrTimeout)
	s.Less(time.Since(start), time.Second)
	snap, _ := s.registry.Get("D2")
	s.Equal(device.StateFailed, snap.State)
	s.False(snap.Connected)
	s.True(snap.Paired)

	release()
	s.Require().NoError(s.manager.Connect(context.Background(), "D2"), "slot MUST be free after a timeout")
	s.Equal(device.StateReady, s.state("D2"))
}

func (s *SessionTestSuite) TestGatewayBusy() {
	p := s.pairedDevice("D1")
	release := p.Block(testutils.OpRead)

	errc := make(chan error, 1)
	go func() {
		_, err := s.gateway.Read(context.Background(), "D1", catalog.LEDBrightness)
		errc <- err
	}()
	s.waitForOp("D1", testutils.OpRead)

	_, err := s.gateway.Read(context.Background(), "D1", catalog.LEDBrightness)
	s.ErrorIs(err, device.ErrBusy)
	s.ErrorIs(s.gateway.Write(context.Background(), "D1", catalog.LEDBrightness, []byte{1}), device.ErrBusy)

	release()
	s.NoError(<-errc)
}

func (s *SessionTestSuite) TestConcurrentCallsOnOneDeviceNeverOverlap() {
	// GOAL: Verify the transport never sees overlapping calls for one device
	//
	// TEST SCENARIO: 16 concurrent reads/writes on D1 with per-call latency → every call either
	// succeeds or is rejected Busy, and the instrumented transport records zero overlaps

	p := s.pairedDevice("D1")
	p.WithLatency(2 * time.Millisecond)

	var (
		wg   sync.WaitGroup
		errs syncErrors
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := s.gateway.Read(context.Background(), "D1", catalog.LEDBrightness)
				errs.add(err)
				return
			}
			errs.add(s.gateway.Write(context.Background(), "D1", catalog.LEDBrightness, []byte{byte(i)}))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs.errs {
		if err == nil {
			succeeded++
			continue
		}
		s.ErrorIs(err, device.ErrBusy)
	}
	s.Positive(succeeded)
	s.Zero(s.transport.Overlaps(), "transport calls for one device MUST NOT interleave")
}

func (s *SessionTestSuite) TestDistinctDevicesProceedIndependently() {
	p1 := s.pairedDevice("D1")
	s.pairedDevice("D2")

	release := p1.Block(testutils.OpRead)
	defer release()

	errc := make(chan error, 1)
	go func() {
		_, err := s.gateway.Read(context.Background(), "D1", catalog.LEDBrightness)
		errc <- err
	}()
	s.waitForOp("D1", testutils.OpRead)

	done := make(chan error, 1)
	go func() {
		_, err := s.gateway.Read(context.Background(), "D2", catalog.LEDBrightness)
		done <- err
	}()

	select {
	case err := <-done:
		s.NoError(err, "D2 MUST NOT wait for D1")
	case <-time.After(time.Second):
		s.Fail("D2 blocked behind D1")
	}

	release()
	s.NoError(<-errc)
}

func (s *SessionTestSuite) TestCharacteristicsListsTable() {
	entries := s.gateway.Characteristics()
	s.Require().Len(entries, len(catalog.Names()))
	s.Equal(catalog.ResetIdentity, entries[0].Name)
}

// cancelDuring starts call with a cancellable context, cancels it once op reached the
// transport and returns the call's error.
func (s *SessionTestSuite) cancelDuring(id, op string, call func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- call(ctx) }()

	s.waitForOp(id, op)
	cancel()

	select {
	case err := <-errc:
		return err
	case <-time.After(time.Second):
		s.FailNow("call did not return after its context was cancelled")
		return nil
	}
}

func (s *SessionTestSuite) TestGatewayCancelledCallKeepsSlotUntilTransportReturns() {
	// GOAL: Verify a caller giving up never frees the device for a second transaction while
	// the first one is still running on the link
	//
	// TEST SCENARIO: transport call ignores cancellation → caller gets LinkFailure, device stays
	// Ready, next call is Busy until the transport returns, calls never overlap

	tests := []struct {
		name string
		id   string
		op   string
		call func(ctx context.Context, id string) error
	}{
		{
			name: "read",
			id:   "D1",
			op:   testutils.OpRead,
			call: func(ctx context.Context, id string) error {
				_, err := s.gateway.Read(ctx, id, catalog.LEDBrightness)
				return err
			},
		},
		{
			name: "write",
			id:   "D2",
			op:   testutils.OpWrite,
			call: func(ctx context.Context, id string) error {
				return s.gateway.Write(ctx, id, catalog.LEDBrightness, []byte{0x33})
			},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			p := s.pairedDevice(tt.id)
			release := p.Block(tt.op)
			defer release()

			err := s.cancelDuring(tt.id, tt.op, func(ctx context.Context) error {
				return tt.call(ctx, tt.id)
			})
			s.ErrorIs(err, device.ErrLinkFailure)
			s.ErrorIs(err, context.Canceled)
			s.NotErrorIs(err, device.ErrAuthorization, "a cancelled caller MUST NOT be reported as a rejected token")
			s.Equal(device.StateReady, s.state(tt.id))

			_, err = s.gateway.Read(context.Background(), tt.id, catalog.LEDBrightness)
			s.ErrorIs(err, device.ErrBusy, "slot MUST stay taken while the abandoned call runs")

			release()
			s.Eventually(func() bool {
				_, err := s.gateway.Read(context.Background(), tt.id, catalog.LEDBrightness)
				return err == nil
			}, time.Second, 5*time.Millisecond)

			s.Zero(s.transport.Overlaps(), "transport MUST never see overlapping calls for one device")
			s.Equal(device.StateReady, s.state(tt.id))
			s.Eventually(func() bool {
				return groutine.Running(groutine.Task{Name: tt.name + "-late", Device: tt.id}) == 0
			}, time.Second, 5*time.Millisecond, "abandoned call MUST be drained once the transport returns")
		})
	}
}

func (s *SessionTestSuite) TestGatewayCancelDuringAuthorizeKeepsSession() {
	p := s.pairedDevice("D1")
	p.WithLatency(500 * time.Millisecond)

	err := s.cancelDuring("D1", testutils.OpEnumerate, func(ctx context.Context) error {
		_, err := s.gateway.Read(ctx, "D1", catalog.LEDBrightness)
		return err
	})

	s.ErrorIs(err, device.ErrLinkFailure)
	s.NotErrorIs(err, device.ErrAuthorization)
	snap, _ := s.registry.Get("D1")
	s.Equal(device.StateReady, snap.State, "an aborted request MUST NOT tear down the session")
	s.True(snap.Connected)

	p.WithLatency(0)
	var value []byte
	s.Eventually(func() bool {
		value, err = s.gateway.Read(context.Background(), "D1", catalog.LEDBrightness)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	s.Equal([]byte{0x10}, value)
}

func (s *SessionTestSuite) TestGatewayCancelledCallPastDeadlineFailsDevice() {
	p := s.pairedDevice("D1")
	s.withTimeouts(100 * time.Millisecond)

	release := p.Block(testutils.OpRead)
	defer release()

	err := s.cancelDuring("D1", testutils.OpRead, func(ctx context.Context) error {
		_, err := s.gateway.Read(ctx, "D1", catalog.LEDBrightness)
		return err
	})
	s.ErrorIs(err, context.Canceled)

	s.Eventually(func() bool {
		return s.state("D1") == device.StateFailed
	}, time.Second, 5*time.Millisecond, "a call still hanging at its deadline MUST fail the device")

	snap, _ := s.registry.Get("D1")
	s.False(snap.Connected)
	s.Contains(snap.LastError, string(device.KindTimeout))
	s.Require().NoError(s.manager.Connect(context.Background(), "D1"), "slot MUST be free once the device failed")
}
