package testutils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is an interface that matches the methods we need from testing.T
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// TextAssertOptions control how CLI output is normalized before comparison.
// Both sides go through the same normalization.
type TextAssertOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	// StripANSI drops terminal color sequences, such as the colored RSSI column of scan
	StripANSI bool `default:"true"`
	// CollapseColumns reduces tabwriter padding to a single space, so tables compare by
	// cell content rather than by column width
	CollapseColumns bool `default:"false"`
	EnableColors    bool `default:"false"`
}

// TextOption is a functional option for configuring TextAsserter
type TextOption func(*TextAssertOptions)

// TextAsserter compares rendered CLI output, typically a tabwriter table, against the
// expected rendering and reports a unified diff.
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

var (
	ansiSequence = regexp.MustCompile(`\x1b\[[0-9;]*m`)
	columnGap    = regexp.MustCompile(`[ \t]{2,}`)
)

// NewTextAsserter creates a new TextAsserter with default options
func NewTextAsserter(t TestingT) *TextAsserter {
	opts := TextAssertOptions{}
	defaults.SetDefaults(&opts)
	return &TextAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the TextAsserter
func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(&ta.options)
	}
	return ta
}

// Assert compares actual text against expected text
func (ta *TextAsserter) Assert(actual, expected string) bool {
	want, got := ta.normalize(expected), ta.normalize(actual)
	if want == got {
		return true
	}
	ta.t.Errorf("Output mismatch (-expected +actual):\n%s", ta.render(unifiedDiff(want, got)))
	return false
}

func unifiedDiff(want, got string) string {
	edits := myers.ComputeEdits("", want, got)
	return fmt.Sprint(gotextdiff.ToUnified("expected", "actual", want, edits))
}

// render colors removed lines red, added lines green and hunk headers cyan
func (ta *TextAsserter) render(diff string) string {
	if !ta.options.EnableColors {
		return diff
	}

	paint := func(attr color.Attribute) func(a ...interface{}) string {
		c := color.New(attr)
		c.EnableColor()
		return c.SprintFunc()
	}
	removed, added, hunk := paint(color.FgRed), paint(color.FgGreen), paint(color.FgCyan)

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
		case strings.HasPrefix(line, "@@"):
			lines[i] = hunk(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = removed(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = added(line)
		}
	}
	return strings.Join(lines, "\n")
}

func (ta *TextAsserter) normalize(text string) string {
	o := ta.options
	if o.StripANSI {
		text = ansiSequence.ReplaceAllString(text, "")
	}
	if o.TrimSpace {
		text = strings.TrimSpace(text)
	}

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if o.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		if o.IgnoreTrailingWhitespace || o.CollapseColumns {
			line = strings.TrimRight(line, " \t")
		}
		if o.CollapseColumns {
			line = columnGap.ReplaceAllString(line, " ")
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// WithIgnoreEmptyLines sets whether to ignore empty lines
func WithIgnoreEmptyLines(ignore bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.IgnoreEmptyLines = ignore
	}
}

// WithStripANSI sets whether terminal color sequences are removed before comparison
func WithStripANSI(strip bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.StripANSI = strip
	}
}

// WithCollapseColumns sets whether table padding is ignored
func WithCollapseColumns(collapse bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.CollapseColumns = collapse
	}
}

// WithEnableColors sets whether to enable colored diff output
func WithEnableColors(enable bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.EnableColors = enable
	}
}
