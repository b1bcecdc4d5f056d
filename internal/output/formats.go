package output

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/metrics"
)

// OutputFormat represents the available output formats
type OutputFormat string

const (
	// FormatText is the default human-readable text format
	FormatText OutputFormat = "text"
	// FormatJSON outputs in JSON format
	FormatJSON OutputFormat = "json"
	// FormatYAML outputs in YAML format
	FormatYAML OutputFormat = "yaml"
	// FormatJUnit outputs in JUnit XML format (for CI/CD integration)
	FormatJUnit OutputFormat = "junit"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML, FormatJUnit:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json, yaml or junit)", s)
	}
}

// FormatForPath picks the file format from an extension, defaulting to JSON.
func FormatForPath(path string) OutputFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".xml":
		return FormatJUnit
	default:
		return FormatJSON
	}
}

// Document is the exported form of one finished run.
type Document struct {
	RunID      string                    `json:"runId,omitempty" yaml:"runId,omitempty"`
	Name       string                    `json:"name" yaml:"name"`
	StartedAt  time.Time                 `json:"startedAt" yaml:"startedAt"`
	Duration   string                    `json:"duration" yaml:"duration"`
	State      string                    `json:"state" yaml:"state"`
	Complete   bool                      `json:"complete" yaml:"complete"`
	Exhausted  bool                      `json:"exhausted" yaml:"exhausted"`
	Pages      int                       `json:"pages" yaml:"pages"`
	Passed     bool                      `json:"passed" yaml:"passed"`
	Error      string                    `json:"error,omitempty" yaml:"error,omitempty"`
	Report     metrics.Report            `json:"report" yaml:"report"`
	Thresholds []metrics.ThresholdResult `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Outcomes   []metrics.Outcome         `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
}

// NewDocument builds a document from a run result. A run passes when it was
// not fatal and every threshold passed.
func NewDocument(name string, startedAt time.Time, res *engine.Result, thresholds []metrics.ThresholdResult, withOutcomes bool) *Document {
	doc := &Document{
		Name:       name,
		StartedAt:  startedAt.UTC(),
		Duration:   res.Duration.String(),
		State:      res.State.String(),
		Complete:   res.Complete,
		Exhausted:  res.Exhausted,
		Pages:      res.Pages,
		Report:     res.Report,
		Thresholds: thresholds,
		Passed:     res.State != engine.StateFatal && metrics.AllPassed(thresholds),
	}
	if res.Err != nil {
		doc.Error = res.Err.Error()
	}
	if withOutcomes {
		doc.Outcomes = res.Outcomes
	}
	return doc
}

// Encode writes v in the given format. Text and JUnit are only supported for
// a *Document.
func Encode(w io.Writer, format OutputFormat, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case FormatJUnit:
		doc, ok := v.(*Document)
		if !ok {
			return fmt.Errorf("junit output needs a run document, got %T", v)
		}
		return WriteJUnit(w, doc)
	default:
		doc, ok := v.(*Document)
		if !ok {
			return fmt.Errorf("text output needs a run document, got %T", v)
		}
		NewConsole(ConsoleConfig{Writer: w, NoColor: true}).PrintSummary(doc)
		return nil
	}
}

// JUnitTestSuites represents the root element containing all test suites
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite represents a JUnit test suite
type JUnitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Time      float64         `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	TestCases []JUnitTestCase `xml:"testcase"`
	SystemOut string          `xml:"system-out,omitempty"`
}

// JUnitTestCase represents a JUnit test case
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Error     *JUnitFailure `xml:"error,omitempty"`
}

// JUnitFailure represents a JUnit test failure
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// WriteJUnit renders a run as one suite: a "run" case that errors when the
// run was fatal, plus one case per threshold.
func WriteJUnit(w io.Writer, doc *Document) error {
	elapsed, _ := time.ParseDuration(doc.Duration)
	suite := JUnitTestSuite{
		Name:      doc.Name,
		Time:      elapsed.Seconds(),
		Timestamp: doc.StartedAt.Format(time.RFC3339),
		SystemOut: fmt.Sprintf("requests=%d succeeded=%d failed=%d p95=%s state=%s",
			doc.Report.Total, doc.Report.Succeeded, doc.Report.Failed, doc.Report.Latency.P95, doc.State),
	}

	run := JUnitTestCase{Name: "run", Classname: "volley." + doc.Name, Time: elapsed.Seconds()}
	if doc.Error != "" {
		run.Error = &JUnitFailure{Message: doc.Error, Type: "RunError", Content: doc.Error}
		suite.Errors++
	}
	suite.TestCases = append(suite.TestCases, run)

	for _, t := range doc.Thresholds {
		tc := JUnitTestCase{
			Name:      t.Metric + ": " + t.Expression,
			Classname: "volley." + doc.Name + ".thresholds",
		}
		if !t.Passed {
			msg := t.Message
			if msg == "" {
				msg = fmt.Sprintf("threshold failed (actual: %s)", t.Value)
			}
			tc.Failure = &JUnitFailure{Message: msg, Type: "ThresholdFailure", Content: msg}
			suite.Failures++
		}
		suite.TestCases = append(suite.TestCases, tc)
	}
	suite.Tests = len(suite.TestCases)

	out, err := xml.MarshalIndent(JUnitTestSuites{TestSuites: []JUnitTestSuite{suite}}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal junit report: %w", err)
	}
	if _, err := io.WriteString(w, xml.Header+string(out)+"\n"); err != nil {
		return err
	}
	return nil
}
