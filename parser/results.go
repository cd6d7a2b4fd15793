package parser

import (
	"strings"
	"time"
)

// NoPackageName labels classes declared outside any package.
const NoPackageName = "(default)"

// TestNGResult is the aggregate outcome of one parse run: the deduplicated
// test tree plus flat classification buckets for downstream tallying.
type TestNGResult struct {
	TestList []*TestResult

	FailedConfigs  []*MethodResult
	SkippedConfigs []*MethodResult
	FailedTests    []*MethodResult
	SkippedTests   []*MethodResult
	PassedTests    []*MethodResult

	// Counts populated by Tally.
	PassedTestCount    int
	FailedTestCount    int
	SkippedTestCount   int
	FailedConfigCount  int
	SkippedConfigCount int
	TotalTestCount     int

	seenTests map[string]bool
}

// NewTestNGResult returns an empty, correctly-shaped result.
func NewTestNGResult() *TestNGResult {
	return &TestNGResult{seenTests: map[string]bool{}}
}

// addUniqueTests merges one document's test list into the run-wide output
// list. Tests already present by name are skipped; their entities were
// extended in place while the document was being parsed.
func (r *TestNGResult) addUniqueTests(tests []*TestResult) {
	for _, test := range tests {
		if r.seenTests[test.Name] {
			continue
		}
		r.seenTests[test.Name] = true
		r.TestList = append(r.TestList, test)
	}
}

// Tally computes the summary counts from the classification buckets. Call it
// once after the last document has been processed.
func (r *TestNGResult) Tally() {
	r.PassedTestCount = len(r.PassedTests)
	r.FailedTestCount = len(r.FailedTests)
	r.SkippedTestCount = len(r.SkippedTests)
	r.FailedConfigCount = len(r.FailedConfigs)
	r.SkippedConfigCount = len(r.SkippedConfigs)
	r.TotalTestCount = r.PassedTestCount + r.FailedTestCount + r.SkippedTestCount
}

// TestResult is a named collection of classes, unique by name across the
// whole parse run. Repeat occurrences extend the same entity.
type TestResult struct {
	Name    string
	Classes []*ClassResult
}

func newTestResult(name string) *TestResult {
	return &TestResult{Name: name}
}

func (t *TestResult) addClasses(classes []*ClassResult) {
	t.Classes = append(t.Classes, classes...)
}

// ClassResult is a fully-qualified class under test, unique by name across
// the whole parse run. The package/simple-name split happens once, when the
// class is first seen.
type ClassResult struct {
	Name        string
	PackageName string
	SimpleName  string
	Methods     []*MethodResult
}

func newClassResult(fqn string) *ClassResult {
	pkg, simple := splitClassName(fqn)
	return &ClassResult{Name: fqn, PackageName: pkg, SimpleName: simple}
}

func splitClassName(fqn string) (pkg, simple string) {
	idx := strings.LastIndex(fqn, ".")
	if idx == -1 {
		return NoPackageName, fqn
	}
	return fqn[:idx], fqn[idx+1:]
}

func (c *ClassResult) addMethods(methods []*MethodResult) {
	c.Methods = append(c.Methods, methods...)
}

// MethodResult is one invocation of a test or configuration method.
type MethodResult struct {
	Name        string
	Status      string
	Description string
	DurationMS  string
	// StartedAt is the zero time when the report's started-at value could
	// not be parsed.
	StartedAt        time.Time
	IsConfig         bool
	TestRunID        string
	TestName         string
	SuiteName        string
	TestInstanceName string
	Parameters       []string
	Groups           []string
	Exception        *MethodException
	ReporterOutput   string
}

// MethodException describes the exception recorded for a failed method. All
// fields except Class may be empty.
type MethodException struct {
	Class           string
	Message         string
	ShortStackTrace string
	FullStackTrace  string
}
