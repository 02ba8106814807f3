package report

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrMalformedJUnit marks a report that is not valid JUnit XML.
var ErrMalformedJUnit = errors.New("malformed junit report")

// TestReport is the parsed outcome of a test_unit run. Counts are aggregated
// over every suite in the file.
type TestReport struct {
	Tests    int
	Failures int
	Errors   int
	Skipped  int

	Cases []TestCase
}

// TestCase is a single executed test.
type TestCase struct {
	Suite     string
	ClassName string
	Name      string
	Status    TestStatus

	// Message carries the failure or error text, empty otherwise.
	Message string
}

type TestStatus string

const (
	TestPassed  TestStatus = "passed"
	TestFailed  TestStatus = "failed"
	TestErrored TestStatus = "errored"
	TestSkipped TestStatus = "skipped"
)

// Passed reports whether the suite ran clean.
func (r *TestReport) Passed() bool {
	return r.Failures == 0 && r.Errors == 0
}

// Failed returns the failed and errored cases.
func (r *TestReport) Failed() []TestCase {
	var out []TestCase
	for _, c := range r.Cases {
		if c.Status == TestFailed || c.Status == TestErrored {
			out = append(out, c)
		}
	}
	return out
}

// xml shapes for both layouts pytest emits: a bare <testsuite> root or a
// <testsuites> wrapper.
type xmlTestSuites struct {
	XMLName xml.Name       `xml:"testsuites"`
	Suites  []xmlTestSuite `xml:"testsuite"`
}

type xmlTestSuite struct {
	Name  string        `xml:"name,attr"`
	Cases []xmlTestCase `xml:"testcase"`
}

type xmlTestCase struct {
	ClassName string      `xml:"classname,attr"`
	Name      string      `xml:"name,attr"`
	Failure   *xmlOutcome `xml:"failure"`
	Error     *xmlOutcome `xml:"error"`
	Skipped   *xmlOutcome `xml:"skipped"`
}

type xmlOutcome struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

// ParseJUnitFile reads and parses the report at path.
func ParseJUnitFile(path string) (*TestReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open junit report: %w", err)
	}
	defer f.Close()
	return ParseJUnit(f)
}

// ParseJUnit parses a JUnit XML document. Counts are derived from the
// individual cases, not the suite attributes, so inconsistent headers cannot
// skew the totals.
func ParseJUnit(r io.Reader) (*TestReport, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read junit report: %w", err)
	}

	var suites []xmlTestSuite
	var wrapper xmlTestSuites
	if err := xml.Unmarshal(data, &wrapper); err == nil {
		suites = wrapper.Suites
	} else {
		var single xmlTestSuite
		if err := xml.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedJUnit, err)
		}
		suites = []xmlTestSuite{single}
	}

	report := &TestReport{}
	for _, s := range suites {
		for _, c := range s.Cases {
			tc := TestCase{Suite: s.Name, ClassName: c.ClassName, Name: c.Name, Status: TestPassed}
			switch {
			case c.Error != nil:
				tc.Status = TestErrored
				tc.Message = outcomeMessage(c.Error)
				report.Errors++
			case c.Failure != nil:
				tc.Status = TestFailed
				tc.Message = outcomeMessage(c.Failure)
				report.Failures++
			case c.Skipped != nil:
				tc.Status = TestSkipped
				tc.Message = outcomeMessage(c.Skipped)
				report.Skipped++
			}
			report.Tests++
			report.Cases = append(report.Cases, tc)
		}
	}
	return report, nil
}

func outcomeMessage(o *xmlOutcome) string {
	if o.Message != "" {
		return o.Message
	}
	return o.Body
}
