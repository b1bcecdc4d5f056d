// Package output renders run results for the terminal and serializes them
// as JSON, YAML or JUnit XML.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/volley/internal/catalog"
	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/template"
)

const (
	boxHorizontal  = "━"
	progressFilled = "█"
	progressEmpty  = "░"
	clearLine      = "\r\033[2K"
)

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
	// Quiet prints only the final verdict
	Quiet bool
	// Verbose prints one line per outcome
	Verbose bool
}

// Console writes human-readable run output.
type Console struct {
	writer  io.Writer
	colors  *ColorScheme
	isTTY   bool
	quiet   bool
	verbose bool

	mu       sync.Mutex
	total    int
	done     int
	failed   int
	progress bool
}

// NewConsole creates a console writer. Colors are used only on a terminal
// that supports them, unless forced.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && supportsColors()))

	colors := DefaultColorScheme()
	if useColors {
		for _, c := range colors.all() {
			c.EnableColor()
		}
	} else {
		colors = NoColorScheme()
	}

	return &Console{
		writer:  config.Writer,
		colors:  colors,
		isTTY:   isTTY,
		quiet:   config.Quiet,
		verbose: config.Verbose,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintTemplate shows a parsed request template.
func (c *Console) PrintTemplate(t *template.Template) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("▶ %s %s", c.colors.Method.Sprint(t.Method), c.colors.URL.Sprint(t.URL)))
	if len(t.Headers) > 0 {
		c.writeln("  Headers:")
		for _, h := range t.Headers {
			c.writeln(fmt.Sprintf("    %s: %s", c.colors.HeaderKey.Sprint(h.Name), h.Value))
		}
	}
	if !t.Body.IsEmpty() {
		c.writeln(fmt.Sprintf("  Body (%s):", t.Body.Kind))
		b, err := t.Body.Bytes()
		if err != nil {
			c.writeln("    " + c.colors.Error.Sprint(err.Error()))
		} else {
			c.writeln("    " + string(b))
		}
	}
	if t.Insecure {
		c.writeln("  " + c.colors.StatusWarn.Sprint("TLS verification disabled"))
	}
}

// PrintCatalog lists the bindable fields of a probe record.
func (c *Console) PrintCatalog(cat catalog.Catalog) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(cat) == 0 {
		c.writeln(c.colors.Dim.Sprint("(no fields)"))
		return
	}
	width := 0
	for _, d := range cat {
		if len(d.Path) > width {
			width = len(d.Path)
		}
	}
	for _, d := range cat {
		pad := strings.Repeat(" ", width-len(d.Path))
		c.writeln(fmt.Sprintf("  %s%s  %-7s %s",
			c.colors.Path.Sprint(d.Path), pad,
			c.colors.Kind.Sprint(d.Kind),
			c.colors.Dim.Sprint(truncate(d.Sample.Text(), 48))))
	}
}

// PrintCheck prints one pass/fail line.
func (c *Console) PrintCheck(ok bool, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	icon := c.colors.SuccessIcon()
	if !ok {
		icon = c.colors.ErrorIcon()
	}
	c.writeln(icon + " " + msg)
}

// PrintHeader prints the run header and arms progress output.
func (c *Console) PrintHeader(name string, cfg engine.RunConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total = cfg.TotalRequests
	c.done, c.failed = 0, 0
	if c.quiet {
		return
	}

	line := strings.Repeat(boxHorizontal, 56)
	c.writeln(c.colors.Rule.Sprint(line))
	title := fmt.Sprintf("%s - Running [%s, batch %d, %d requests", name, cfg.Mode, cfg.BatchSize, cfg.TotalRequests)
	if cfg.Rate > 0 {
		title += fmt.Sprintf(", %g/s", cfg.Rate)
	}
	c.writeln(c.colors.Title.Sprint(title + "]"))
	c.writeln(c.colors.Rule.Sprint(line))
}

// Observe is an engine observer. It prints one line per outcome in verbose
// mode and a progress bar on a terminal otherwise.
func (c *Console) Observe(o metrics.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.done++
	if !o.Succeeded() {
		c.failed++
	}
	if c.quiet {
		return
	}

	if c.verbose {
		c.clearProgress()
		c.writeln(c.formatOutcome(o))
		return
	}
	if c.isTTY {
		c.write(clearLine + c.renderProgress())
		c.progress = true
	}
}

func (c *Console) formatOutcome(o metrics.Outcome) string {
	status := c.colors.Status(o.StatusCode).Sprint(o.StatusCode)
	if o.StatusCode == 0 {
		status = c.colors.StatusError.Sprint("ERR")
	}
	line := fmt.Sprintf("#%-5d %s %s -> %s (%s)", o.Sequence,
		c.colors.Method.Sprint(o.Method), o.URL, status, formatDurationShort(o.Latency))
	if o.TraceID != "" {
		line += c.colors.Dim.Sprintf(" trace=%s", o.TraceID)
	}
	if o.Error != "" {
		line += " " + c.colors.Error.Sprint(o.Error)
	}
	if o.SchemaError != "" {
		line += " " + c.colors.StatusWarn.Sprint("schema: "+o.SchemaError)
	}
	return line
}

func (c *Console) renderProgress() string {
	progress := 0.0
	if c.total > 0 {
		progress = float64(c.done) / float64(c.total)
	}
	return fmt.Sprintf("Progress: %s %s | %d/%d | failed %s",
		c.colors.Success.Sprint(renderProgressBar(progress, 40)),
		c.colors.Title.Sprintf("%.0f%%", progress*100),
		c.done, c.total,
		c.colors.Rate(rate(c.failed, c.done)).Sprint(c.failed))
}

func (c *Console) clearProgress() {
	if c.progress {
		c.write(clearLine)
		c.progress = false
	}
}

// PrintSummary prints the final run summary.
func (c *Console) PrintSummary(doc *Document) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearProgress()
	if c.quiet {
		if doc.Passed {
			c.writeln(c.colors.Success.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Error.Sprint("FAILED"))
		}
		return
	}

	r := doc.Report
	line := strings.Repeat(boxHorizontal, 56)
	status := c.colors.Success.Sprintf("%s ✓", doc.State)
	if !doc.Passed {
		status = c.colors.Error.Sprintf("%s ✗", doc.State)
	}

	c.writeln("")
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(doc.Name), status))
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(doc.Duration)))
	c.writeln(fmt.Sprintf("Pages:         %s", c.colors.Value.Sprint(doc.Pages)))
	c.writeln(fmt.Sprintf("Total Reqs:    %s", c.colors.Value.Sprint(formatNumber(int64(r.Total)))))
	successRate := 1.0 - r.ErrorRate
	if r.Total == 0 {
		successRate = 0
	}
	c.writeln(fmt.Sprintf("Success Rate:  %s", c.colors.Rate(r.ErrorRate).Sprintf("%.1f%%", successRate*100)))
	c.writeln(fmt.Sprintf("Throughput:    %s", c.colors.Value.Sprintf("%.1f req/s", r.RPS)))
	if doc.Exhausted {
		c.writeln(c.colors.StatusWarn.Sprint("Data source exhausted before the request budget was spent"))
	}
	if doc.Error != "" {
		c.writeln(c.colors.Error.Sprint("Error: " + doc.Error))
	}
	c.writeln("")

	if len(r.StatusCodes) > 0 || r.TransportErrors > 0 {
		c.writeln(c.colors.Title.Sprint("Status Codes:"))
		codes := make([]int, 0, len(r.StatusCodes))
		for code := range r.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			c.writeln(fmt.Sprintf("  %s  %d", c.colors.Status(code).Sprint(code), r.StatusCodes[code]))
		}
		if r.TransportErrors > 0 {
			c.writeln(fmt.Sprintf("  %s  %d", c.colors.StatusError.Sprint("ERR"), r.TransportErrors))
		}
		c.writeln("")
	}

	if r.Latency.Count > 0 {
		c.writeln(c.colors.Title.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(r.Latency.Min)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(r.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(r.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(r.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(r.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(r.Latency.Max)))
		c.writeln("")
	}

	if r.SchemaViolations > 0 {
		c.writeln(c.colors.StatusWarn.Sprintf("Schema violations: %d", r.SchemaViolations))
		c.writeln("")
	}

	if len(r.TraceSample) > 0 {
		c.writeln(c.colors.Title.Sprint("Trace Sample:"))
		for _, t := range r.TraceSample {
			ids := []string{"trace=" + t.TraceID}
			if t.SpanID != "" {
				ids = append(ids, "span="+t.SpanID)
			}
			if t.SessionID != "" {
				ids = append(ids, "session="+t.SessionID)
			}
			c.writeln(fmt.Sprintf("  #%-5d %s  %s", t.Sequence,
				c.colors.Status(t.StatusCode).Sprint(t.StatusCode), c.colors.Dim.Sprint(strings.Join(ids, " "))))
		}
		c.writeln("")
	}

	if len(doc.Thresholds) > 0 {
		c.writeln(c.colors.Title.Sprint("Thresholds:"))
		for _, t := range doc.Thresholds {
			icon := c.colors.SuccessIcon()
			if !t.Passed {
				icon = c.colors.ErrorIcon()
			}
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", icon, t.Metric, t.Expression, t.Value))
		}
		c.writeln("")
	}
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// formatDurationShort formats a duration in a short format.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
