package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/ecogate/internal/device"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value for that key.
const PresencePlaceholder = "<<PRESENCE>>"

// SnapshotClockFields are the snapshot keys stamped from the registry clock. Snapshot
// assertions never compare them.
var SnapshotClockFields = []string{"admittedAt", "updatedAt"}

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
	IgnoreArrayOrder         bool     `default:"false"`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents, usually device snapshots or HTTP bodies, and
// reports an ascii diff.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a new JSONAsserter with default options
func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the JSONAsserter
func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	return ja.report(ja.diff(actualJSON, expectedJSON, ja.options.IgnoredFields))
}

// AssertSnapshot compares a device snapshot against expectedJSON, skipping SnapshotClockFields
func (ja *JSONAsserter) AssertSnapshot(snap device.Snapshot, expectedJSON string) bool {
	return ja.report(ja.diff(MustJSON(snap), expectedJSON, ja.snapshotIgnores()))
}

// AssertSnapshots compares a registry listing against an expected JSON array, skipping
// SnapshotClockFields
func (ja *JSONAsserter) AssertSnapshots(snaps []device.Snapshot, expectedJSON string) bool {
	if snaps == nil {
		snaps = []device.Snapshot{}
	}
	return ja.report(ja.diff(MustJSON(snaps), expectedJSON, ja.snapshotIgnores()))
}

func (ja *JSONAsserter) snapshotIgnores() []string {
	return append(append([]string{}, ja.options.IgnoredFields...), SnapshotClockFields...)
}

func (ja *JSONAsserter) report(diff string) bool {
	if diff == "" {
		return true
	}
	ja.t.Errorf("JSON assertion failed:\n%s", diff)
	return false
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string, ignored []string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root
	if isArray(expected) || isArray(actual) {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	skip := make(map[string]bool, len(ignored))
	for _, f := range ignored {
		skip[f] = true
	}
	// Ignored fields go before sorting so they do not influence array order
	ja.reconcile(expected, actual, skip)
	if ja.options.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	out, _ := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
	}).Format(diff)
	return out
}

// reconcile walks both documents together, dropping skipped keys, resolving presence
// placeholders against actual and, unless strict, pruning keys expected does not name.
func (ja *JSONAsserter) reconcile(expected, actual interface{}, skip map[string]bool) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range skip {
			delete(exp, k)
			delete(act, k)
		}
		for k, v := range exp {
			if s, ok := v.(string); ok && s == PresencePlaceholder && ja.options.AllowPresencePlaceholder {
				if present, found := act[k]; found {
					exp[k] = present
				}
				continue
			}
			ja.reconcile(v, act[k], skip)
		}
		if ja.options.IgnoreExtraKeys {
			for k := range act {
				if _, named := exp[k]; !named {
					delete(act, k)
				}
			}
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				ja.reconcile(exp[i], act[i], skip)
			}
		}
	}
}

// WithIgnoreExtraKeys sets whether to ignore extra keys in actual JSON
func WithIgnoreExtraKeys(ignore bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoreExtraKeys = ignore
	}
}

// WithIgnoredFields sets a list of field names to ignore during comparison
func WithIgnoredFields(fields ...string) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoredFields = fields
	}
}

// WithIgnoreArrayOrder sets whether to ignore array element order during comparison
func WithIgnoreArrayOrder(ignore bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoreArrayOrder = ignore
	}
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}

// sortArrays orders every array by the encoding of its elements
func sortArrays(data interface{}) {
	switch v := data.(type) {
	case map[string]interface{}:
		for _, child := range v {
			sortArrays(child)
		}
	case []interface{}:
		for _, elem := range v {
			sortArrays(elem)
		}
		sort.Slice(v, func(i, j int) bool {
			a, _ := json.Marshal(v[i])
			b, _ := json.Marshal(v[j])
			return string(a) < string(b)
		})
	}
}
