package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/ecogate/internal/device"
	"github.com/srg/ecogate/internal/registry"
	"github.com/srg/ecogate/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for ECO devices",
	Long: `Scan for Bluetooth Low Energy advertisements and list the devices that pass the
admission filter (name prefix and minimum signal strength).

The filter settings come from the configuration file and can be overridden with flags.`,
	RunE: runScan,
}

var (
	scanDuration   time.Duration
	scanFormat     string
	scanMinRSSI    int
	scanNamePrefix string
	scanAllowList  []string
	scanBlockList  []string
	scanDuplicates bool
)

var validScanFormats = []string{"table", "json"}

func init() {
	addScanFlags()
}

func addScanFlags() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().IntVar(&scanMinRSSI, "min-rssi", scanner.DefaultMinRSSI, "Minimum signal strength in dBm")
	scanCmd.Flags().StringVar(&scanNamePrefix, "prefix", scanner.DefaultNamePrefix, "Required advertised name prefix")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only admit devices with these identities")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Never admit devices with these identities")
	scanCmd.Flags().BoolVar(&scanDuplicates, "duplicates", false, "Report duplicate advertisements")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if !validFormat(scanFormat) {
		return fmt.Errorf("invalid format '%s': must be one of %v", scanFormat, validScanFormats)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	filterOpts := scanner.FilterOptions{
		MinRSSI:    cfg.Admission.MinRSSI,
		NamePrefix: cfg.Admission.NamePrefix,
		AllowList:  cfg.Admission.Allow,
		BlockList:  cfg.Admission.Block,
	}
	if cmd.Flags().Changed("min-rssi") {
		filterOpts.MinRSSI = scanMinRSSI
	}
	if cmd.Flags().Changed("prefix") {
		filterOpts.NamePrefix = scanNamePrefix
	}
	if cmd.Flags().Changed("allow") {
		filterOpts.AllowList = scanAllowList
	}
	if cmd.Flags().Changed("block") {
		filterOpts.BlockList = scanBlockList
	}

	scanOpts := &scanner.ScanOptions{
		Duration:        cfg.Scan.Duration,
		AllowDuplicates: cfg.Scan.AllowDuplicates || scanDuplicates,
	}
	if scanDuration > 0 {
		scanOpts.Duration = scanDuration
	}

	transport, err := openTransport(logger)
	if err != nil {
		return fmt.Errorf("failed to open BLE transport: %w", err)
	}
	defer transport.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(logger)
	s := scanner.NewScanner(transport, scanner.NewFilter(reg, filterOpts, logger), cfg.Scan.EventBuffer, logger)

	devices, err := s.Run(ctx, scanOpts)
	if err != nil {
		return err
	}
	if ctx.Err() != nil && cmd.Context().Err() == nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "\nScan interrupted, showing partial results")
	}

	out := cmd.OutOrStdout()
	if scanFormat == "json" {
		return displayDevicesJSON(out, devices)
	}
	return displayDevicesTable(out, devices)
}

func validFormat(format string) bool {
	for _, f := range validScanFormats {
		if f == format {
			return true
		}
	}
	return false
}

func displayDevicesTable(out io.Writer, devices []device.Snapshot) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(out, "No devices discovered")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tIDENTITY\tRSSI\tSTATE\tPAIRED")

	for _, dev := range devices {
		name := dev.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		paired := "no"
		if dev.Paired {
			paired = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, dev.Identity, formatRSSI(dev.RSSI), dev.State, paired)
	}

	return w.Flush()
}

// formatRSSI colors the signal strength by quality when color output is enabled
func formatRSSI(rssi int) string {
	text := fmt.Sprintf("%d dBm", rssi)
	switch {
	case rssi >= -60:
		return color.GreenString(text)
	case rssi >= scanner.DefaultMinRSSI:
		return color.YellowString(text)
	default:
		return color.RedString(text)
	}
}

func displayDevicesJSON(out io.Writer, devices []device.Snapshot) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}
