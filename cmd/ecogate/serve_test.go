package main

import (
	"context"
	"testing"
	"time"

	"github.com/srg/ecogate/internal/device"
	"github.com/srg/ecogate/pkg/config"
	"github.com/stretchr/testify/suite"
)

type ServeTestSuite struct {
	CommandTestSuite
	cfg *config.Config
}

func (s *ServeTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()

	s.cfg = config.DefaultConfig()
	s.cfg.Server.Addr = "127.0.0.1:0"
	s.cfg.Scan.Duration = 10 * time.Millisecond

	s.advertise("D1", "ECOThermo", -55)
	s.advertise("D2", "Thermo", -40)
}

func (s *ServeTestSuite) TestRunDiscoversAndStopsOnCancel() {
	g := newGateway(s.cfg, s.radio, s.helper.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.run(ctx) }()

	s.Eventually(func() bool {
		_, err := g.registry.Get("D1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "admitted device MUST reach the registry")

	_, err := g.registry.Get("D2")
	s.ErrorIs(err, device.ErrDeviceNotFound, "filtered device MUST NOT be admitted")

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.Fail("gateway did not stop after cancellation")
	}
}

func (s *ServeTestSuite) TestDisconnectsReachRegistry() {
	s.radio.AddPeripheral("D1")
	g := newGateway(s.cfg, s.radio, s.helper.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.run(ctx) }()

	s.Eventually(func() bool {
		_, err := g.registry.Get("D1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	_, err := g.registry.Update("D1", func(d *device.Device) error {
		d.State = device.StateConnecting
		return nil
	})
	s.Require().NoError(err)

	s.radio.SimulateDisconnect("D1")

	s.Eventually(func() bool {
		snap, _ := g.registry.Get("D1")
		return snap.State == device.StateDisconnected
	}, 2*time.Second, 10*time.Millisecond, "link loss MUST move the device to disconnected")

	cancel()
	s.NoError(<-done)
}

func (s *ServeTestSuite) TestListenFailureStopsGateway() {
	s.cfg.Server.Addr = "127.0.0.1:-1"
	g := newGateway(s.cfg, s.radio, s.helper.Logger)

	done := make(chan error, 1)
	go func() { done <- g.run(context.Background()) }()

	select {
	case err := <-done:
		s.Require().Error(err)
		s.Contains(err.Error(), "http: failed to listen")
	case <-time.After(5 * time.Second):
		s.Fail("gateway kept running after the HTTP listener failed")
	}
}

func TestServeTestSuite(t *testing.T) {
	suite.Run(t, new(ServeTestSuite))
}
