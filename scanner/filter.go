package scanner

import (
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/ecogate/internal/device"
	"github.com/srg/ecogate/internal/registry"
)

// Admission defaults
const (
	DefaultMinRSSI    = -70
	DefaultNamePrefix = "ECO"
)

// FilterOptions configures which advertisements are admitted
type FilterOptions struct {
	MinRSSI    int    // weaker observations are rejected; zero selects DefaultMinRSSI
	NamePrefix string // case-sensitive; an absent name never matches; empty selects DefaultNamePrefix
	AllowList  []string
	BlockList  []string
}

// DefaultFilterOptions returns the product admission rules
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		MinRSSI:    DefaultMinRSSI,
		NamePrefix: DefaultNamePrefix,
	}
}

// Filter decides which observed peripherals enter the registry
type Filter struct {
	opts     FilterOptions
	registry *registry.Registry
	logger   *logrus.Logger
}

// NewFilter creates a filter admitting into reg. Zero-valued thresholds take the
// values of DefaultFilterOptions.
func NewFilter(reg *registry.Registry, opts FilterOptions, logger *logrus.Logger) *Filter {
	if logger == nil {
		logger = logrus.New()
	}
	def := DefaultFilterOptions()
	if opts.MinRSSI == 0 {
		opts.MinRSSI = def.MinRSSI
	}
	if opts.NamePrefix == "" {
		opts.NamePrefix = def.NamePrefix
	}
	return &Filter{opts: opts, registry: reg, logger: logger}
}

// Accepts applies the admission rules without touching the registry
func (f *Filter) Accepts(obs device.Observation) bool {
	if slices.Contains(f.opts.BlockList, obs.Identity) {
		return false
	}
	if len(f.opts.AllowList) > 0 && !slices.Contains(f.opts.AllowList, obs.Identity) {
		return false
	}
	if obs.RSSI < f.opts.MinRSSI {
		return false
	}
	return obs.DisplayName != "" && strings.HasPrefix(obs.DisplayName, f.opts.NamePrefix)
}

// Admit reports whether obs passes the filter. An accepted observation of an unseen identity
// inserts a Discovered device; repeated sightings leave the registry untouched.
func (f *Filter) Admit(obs device.Observation) bool {
	_, _, ok := f.admit(obs)
	return ok
}

func (f *Filter) admit(obs device.Observation) (snap device.Snapshot, inserted, ok bool) {
	if !f.Accepts(obs) {
		f.logger.WithFields(logrus.Fields{
			"identity": obs.Identity,
			"name":     obs.DisplayName,
			"rssi":     obs.RSSI,
		}).Trace("Advertisement rejected")
		return device.Snapshot{}, false, false
	}

	snap, inserted = f.registry.Admit(obs)
	return snap, inserted, true
}
