package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ecogate/internal/registry"
	"github.com/srg/ecogate/internal/server"
	"github.com/srg/ecogate/internal/session"
	"github.com/srg/ecogate/pkg/config"
	"github.com/srg/ecogate/scanner"
)

// scanRestartDelay separates consecutive discovery windows
const scanRestartDelay = time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the gateway: scan continuously for ECO devices, track link loss, and expose
the device registry and characteristic access over HTTP.

Endpoints:
  GET  /devices                              list devices (?paired=true for paired only)
  GET  /devices/{id}                         show one device
  POST /devices/{id}/connect                 start connect, pairing or authorization
  GET  /devices/{id}/characteristics/{name}  read a characteristic
  PUT  /devices/{id}/characteristics/{name}  write a characteristic ({"value": "<hex>"})
  GET  /characteristics                      list characteristic names`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	transport, err := openTransport(logger)
	if err != nil {
		return fmt.Errorf("failed to open BLE transport: %w", err)
	}
	defer transport.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newGateway(cfg, transport, logger).run(ctx)
}

// gateway is the assembled service: discovery, session management and the HTTP front end
type gateway struct {
	cfg      *config.Config
	registry *registry.Registry
	scanner  *scanner.Scanner
	manager  *session.Manager
	server   *server.Server
	logger   *logrus.Logger
}

func newGateway(cfg *config.Config, transport gatewayTransport, logger *logrus.Logger) *gateway {
	reg := registry.New(logger)

	filter := scanner.NewFilter(reg, scanner.FilterOptions{
		MinRSSI:    cfg.Admission.MinRSSI,
		NamePrefix: cfg.Admission.NamePrefix,
		AllowList:  cfg.Admission.Allow,
		BlockList:  cfg.Admission.Block,
	}, logger)

	manager, characteristics := session.New(transport, reg, session.Options{
		ConnectTimeout:     cfg.Link.ConnectTimeout,
		OperationTimeout:   cfg.Link.OperationTimeout,
		PairingSettleDelay: cfg.Link.PairingSettleDelay,
	}, logger)

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, reg, manager, characteristics, logger)

	return &gateway{
		cfg:      cfg,
		registry: reg,
		scanner:  scanner.NewScanner(transport, filter, cfg.Scan.EventBuffer, logger),
		manager:  manager,
		server:   srv,
		logger:   logger,
	}
}

// run blocks until ctx ends or a component fails; a failing component stops the others
func (g *gateway) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				g.logger.WithError(err).WithField("component", name).Error("Gateway component failed")
				errOnce.Do(func() { firstErr = fmt.Errorf("%s: %w", name, err) })
				cancel()
			}
		}()
	}

	start("disconnects", g.manager.Run)
	start("discovery", g.discover)
	start("events", g.logEvents)
	start("http", g.server.Start)

	wg.Wait()
	return firstErr
}

// discover repeats scan windows until ctx ends
func (g *gateway) discover(ctx context.Context) error {
	opts := &scanner.ScanOptions{
		Duration:        g.cfg.Scan.Duration,
		AllowDuplicates: g.cfg.Scan.AllowDuplicates,
	}
	for {
		if _, err := g.scanner.Run(ctx, opts); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(scanRestartDelay):
		}
	}
}

func (g *gateway) logEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-g.scanner.Events():
			if !ok {
				return nil
			}
			g.logger.WithFields(logrus.Fields{
				"event":    ev.Type,
				"identity": ev.Device.Identity,
				"rssi":     ev.Device.RSSI,
			}).Debug("Scan event")
		}
	}
}
