package main

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/ecogate/internal/device"
	"github.com/srg/ecogate/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// fakeRadio adapts the fake transport to the commands' transport contract
type fakeRadio struct {
	*testutils.FakeTransport
	closed atomic.Bool
}

func (r *fakeRadio) Close() error {
	r.closed.Store(true)
	return nil
}

// CommandTestSuite runs commands against a fake radio.
// All cmd/ecogate test suites embed it.
type CommandTestSuite struct {
	suite.Suite
	helper       *testutils.TestHelper
	radio        *fakeRadio
	openErr      error
	originalOpen func(*logrus.Logger) (gatewayTransport, error)
	noColor      bool
}

func (s *CommandTestSuite) SetupSuite() {
	s.originalOpen = openTransport
	s.noColor = color.NoColor
}

func (s *CommandTestSuite) TearDownSuite() {
	openTransport = s.originalOpen
	color.NoColor = s.noColor
}

func (s *CommandTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.radio = &fakeRadio{FakeTransport: testutils.NewFakeTransport(s.helper.Logger)}
	s.openErr = nil
	color.NoColor = true

	openTransport = func(*logrus.Logger) (gatewayTransport, error) {
		if s.openErr != nil {
			return nil, s.openErr
		}
		return s.radio, nil
	}

	s.Require().NoError(rootCmd.PersistentFlags().Set("config", ""))
	s.Require().NoError(rootCmd.PersistentFlags().Set("log-level", "error"))
}

// advertise queues an advertisement for the next scan
func (s *CommandTestSuite) advertise(identity, name string, rssi int) {
	s.radio.AddObservations(device.Observation{Identity: identity, DisplayName: name, RSSI: rssi, Connectable: true})
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	rootCmd.SetContext(context.Background())
	err := rootCmd.Execute()
	return buf.String(), err
}
