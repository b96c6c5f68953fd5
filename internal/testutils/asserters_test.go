package testutils

import (
	"fmt"
	"testing"
	"time"

	"github.com/srg/ecogate/internal/device"
	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestTextAsserterDefaults(t *testing.T) {
	rt := &recordingT{}
	ta := NewTextAsserter(rt)

	assert.True(t, ta.options.IgnoreTrailingWhitespace)
	assert.True(t, ta.options.TrimSpace)
	assert.False(t, ta.options.IgnoreEmptyLines)
	assert.True(t, ta.options.StripANSI)
	assert.False(t, ta.options.CollapseColumns)
	assert.False(t, ta.options.EnableColors)

	assert.True(t, ta.Assert("  a  \nb\t\n", "a\nb"))
	assert.Empty(t, rt.failures)
}

func TestTextAsserterReportsUnifiedDiff(t *testing.T) {
	rt := &recordingT{}
	ok := NewTextAsserter(rt).Assert("a\nc", "a\nb")

	assert.False(t, ok)
	if assert.Len(t, rt.failures, 1) {
		assert.Contains(t, rt.failures[0], "-b")
		assert.Contains(t, rt.failures[0], "+c")
	}
}

func TestTextAsserterIgnoreEmptyLines(t *testing.T) {
	rt := &recordingT{}
	ta := NewTextAsserter(rt).WithOptions(WithIgnoreEmptyLines(true))

	assert.True(t, ta.Assert("a\n\n\nb", "a\nb"))
}

func TestTextAsserterTableOutput(t *testing.T) {
	colored := "NAME  RSSI\nECO1  \x1b[32m-55 dBm\x1b[0m\nECO2  \x1b[33m-65 dBm\x1b[0m\n"

	tests := []struct {
		name     string
		actual   string
		expected string
		opts     []TextOption
		pass     bool
	}{
		{
			name:     "color sequences stripped by default",
			actual:   "RSSI\n\x1b[32m-55 dBm\x1b[0m",
			expected: "RSSI\n-55 dBm",
			pass:     true,
		},
		{
			name:     "color sequences compared when kept",
			actual:   "RSSI\n\x1b[32m-55 dBm\x1b[0m",
			expected: "RSSI\n-55 dBm",
			opts:     []TextOption{WithStripANSI(false)},
			pass:     false,
		},
		{
			name:     "padding matters by default",
			actual:   "NAME   RSSI\nECO1   -55 dBm",
			expected: "NAME  RSSI\nECO1  -55 dBm",
			pass:     false,
		},
		{
			name:     "collapsed columns ignore padding",
			actual:   colored,
			expected: "NAME RSSI\nECO1 -55 dBm\nECO2 -65 dBm",
			opts:     []TextOption{WithCollapseColumns(true)},
			pass:     true,
		},
		{
			name:     "collapsed columns still compare cells",
			actual:   colored,
			expected: "NAME RSSI\nECO1 -55 dBm\nECO2 -70 dBm",
			opts:     []TextOption{WithCollapseColumns(true)},
			pass:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &recordingT{}
			got := NewTextAsserter(rt).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.pass, got, "failures: %v", rt.failures)
		})
	}
}

func TestTextAsserterColoredDiff(t *testing.T) {
	rt := &recordingT{}
	NewTextAsserter(rt).WithOptions(WithEnableColors(true)).Assert("a\nc", "a\nb")

	if assert.Len(t, rt.failures, 1) {
		assert.Contains(t, rt.failures[0], "\x1b[31m-b")
		assert.Contains(t, rt.failures[0], "\x1b[32m+c")
	}
}

func TestJSONAsserterSnapshots(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := device.Snapshot{
		Identity:    "D1",
		Name:        "ECOThermo",
		RSSI:        -60,
		Connectable: true,
		State:       device.StateReady,
		Paired:      true,
		Connected:   true,
		AdmittedAt:  at,
		UpdatedAt:   at.Add(time.Minute),
	}
	full := `{
		"identity": "D1", "name": "ECOThermo", "rssi": -60, "connectable": true,
		"state": "ready", "paired": true, "connected": true
	}`

	t.Run("strict snapshot skips clock fields", func(t *testing.T) {
		rt := &recordingT{}
		ok := NewJSONAsserter(rt).WithOptions(WithIgnoreExtraKeys(false)).AssertSnapshot(snap, full)
		assert.True(t, ok, "failures: %v", rt.failures)
	})

	t.Run("strict document compares clock fields", func(t *testing.T) {
		rt := &recordingT{}
		ok := NewJSONAsserter(rt).WithOptions(WithIgnoreExtraKeys(false)).Assert(MustJSON(snap), full)
		assert.False(t, ok)
	})

	t.Run("snapshot mismatch reported", func(t *testing.T) {
		rt := &recordingT{}
		ok := NewJSONAsserter(rt).AssertSnapshot(snap, `{"state": "failed"}`)
		assert.False(t, ok)
		assert.Len(t, rt.failures, 1)
	})

	t.Run("listing", func(t *testing.T) {
		rt := &recordingT{}
		other := snap
		other.Identity = "D2"
		other.UpdatedAt = at.Add(time.Hour)
		ok := NewJSONAsserter(rt).AssertSnapshots([]device.Snapshot{snap, other}, `[
			{"identity": "D1", "state": "ready"},
			{"identity": "D2", "state": "ready"}
		]`)
		assert.True(t, ok, "failures: %v", rt.failures)
	})

	t.Run("empty listing", func(t *testing.T) {
		rt := &recordingT{}
		assert.True(t, NewJSONAsserter(rt).AssertSnapshots(nil, `[]`), "failures: %v", rt.failures)
	})
}

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		actual   string
		expected string
		opts     []Option
		pass     bool
	}{
		{
			name:     "extra keys ignored by default",
			actual:   `{"a":1,"b":2}`,
			expected: `{"a":1}`,
			pass:     true,
		},
		{
			name:     "extra keys reported when strict",
			actual:   `{"a":1,"b":2}`,
			expected: `{"a":1}`,
			opts:     []Option{WithIgnoreExtraKeys(false)},
			pass:     false,
		},
		{
			name:     "root arrays",
			actual:   `[{"id":"D1"},{"id":"D2"}]`,
			expected: `[{"id":"D1"},{"id":"D2"}]`,
			pass:     true,
		},
		{
			name:     "root array order",
			actual:   `[{"id":"D2"},{"id":"D1"}]`,
			expected: `[{"id":"D1"},{"id":"D2"}]`,
			opts:     []Option{WithIgnoreArrayOrder(true)},
			pass:     true,
		},
		{
			name:     "presence placeholder",
			actual:   `{"updatedAt":"2026-01-01T00:00:00Z"}`,
			expected: `{"updatedAt":"<<PRESENCE>>"}`,
			pass:     true,
		},
		{
			name:     "presence placeholder needs the key",
			actual:   `{}`,
			expected: `{"updatedAt":"<<PRESENCE>>"}`,
			pass:     false,
		},
		{
			name:     "ignored fields",
			actual:   `{"a":1,"ts":5}`,
			expected: `{"a":1,"ts":7}`,
			opts:     []Option{WithIgnoredFields("ts")},
			pass:     true,
		},
		{
			name:     "value mismatch",
			actual:   `{"state":"failed"}`,
			expected: `{"state":"ready"}`,
			pass:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &recordingT{}
			got := NewJSONAsserter(rt).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.pass, got, "failures: %v", rt.failures)
			assert.Equal(t, !tt.pass, len(rt.failures) > 0)
		})
	}
}
