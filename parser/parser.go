// Package parser converts TestNG result XMLs generated by
// org.testng.reporters.XmlReporter into an in-memory result tree.
//
// Entities that reappear across documents are deduplicated: only a single
// TestResult exists per <test> name and a single ClassResult per class
// fully-qualified name, for the lifetime of one Parser. Instances are not
// safe for concurrent use; give each goroutine its own Parser.
package parser

import (
	"bufio"
	"encoding/xml"
	"html"
	"io"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DateFormat is the layout of the started-at attribute (yyyy-MM-dd'T'HH:mm:ss).
const DateFormat = "2006-01-02T15:04:05"

// cdataTarget marks which leaf tag the next character-data event belongs to.
// The report schema guarantees these tags never nest, so a single slot is
// enough; it is set on the tag's start event and cleared on its end event.
type cdataTarget int

const (
	cdataNone cdataTarget = iota
	cdataParams
	cdataMessage
	cdataShortStackTrace
	cdataFullStackTrace
	cdataLine
)

// Parser walks TestNG report documents one token at a time and accumulates
// results across all of them.
type Parser struct {
	logger logrus.FieldLogger

	// Run-wide tables, kept for the lifetime of the Parser.
	testResultMap  map[string]*TestResult
	classResultMap map[string]*ClassResult
	finalResults   *TestNGResult

	// Suite-scoped group table: "class|method" -> group names.
	methodGroupMap map[string][]string

	// Per-document scratch state, reset before each document.
	testList          []*TestResult
	currentClassList  []*ClassResult
	currentMethodList []*MethodResult
	currentParamsList []string
	currentTest       *TestResult
	currentClass      *ClassResult
	currentMethod     *MethodResult
	currentTestRunID  string
	currentTarget     cdataTarget
	currentMessage    string
	currentShortTrace string
	currentFullTrace  string
	currentGroupName  string
	currentSuite      string
	currentLine       string
	exceptionClass    string
	reporterOutput    *strings.Builder
}

// New returns a Parser that logs through the process-wide logrus logger.
func New() *Parser {
	return NewWithLogger(logrus.StandardLogger())
}

// NewWithLogger returns a Parser that logs through the given sink.
func NewWithLogger(logger logrus.FieldLogger) *Parser {
	return &Parser{
		logger:         logger,
		testResultMap:  map[string]*TestResult{},
		classResultMap: map[string]*ClassResult{},
		methodGroupMap: map[string][]string{},
	}
}

// Parse processes the given report files in order and returns the aggregated
// result. A path that is missing, unreadable, or malformed is logged and
// skipped; the rest of the batch still processes. Parse never fails: an
// entirely invalid batch yields an empty result.
func (p *Parser) Parse(paths []string) *TestNGResult {
	p.finalResults = NewTestNGResult()

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			p.logger.Infof("'%s' points to an invalid test report", path)
			continue
		}
		p.logger.Infof("Processing '%s'", path)
		p.parseFile(path)
	}

	p.finalResults.Tally()
	return p.finalResults
}

func (p *Parser) parseFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		p.logError(errors.Wrap(err, "failed to open report"))
		return
	}
	defer f.Close()

	p.resetDocumentState()

	decoder := xml.NewDecoder(bufio.NewReader(f))
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			// Clean end of document: merge this document's tests
			// into the run-wide output list.
			p.finalResults.addUniqueTests(p.testList)
			return
		}
		if err != nil {
			// Entities and buckets attached while earlier tags were
			// closing are retained; only the rest of this document
			// is skipped.
			p.logger.Infof("Failed to parse XML: %s", err.Error())
			p.logError(err)
			return
		}

		switch t := token.(type) {
		case xml.StartElement:
			p.startElement(t)
		case xml.EndElement:
			p.endElement(t.Name.Local)
		case xml.CharData:
			p.handleCDATA(string(t))
		}
	}
}

// resetDocumentState drops all scratch state so a document that failed
// mid-stream cannot leak partial context into the next one.
func (p *Parser) resetDocumentState() {
	p.testList = nil
	p.currentClassList = nil
	p.currentMethodList = nil
	p.currentParamsList = nil
	p.currentTest = nil
	p.currentClass = nil
	p.currentMethod = nil
	p.currentTestRunID = ""
	p.currentTarget = cdataNone
	p.currentMessage = ""
	p.currentShortTrace = ""
	p.currentFullTrace = ""
	p.currentGroupName = ""
	p.currentSuite = ""
	p.currentLine = ""
	p.exceptionClass = ""
	p.reporterOutput = nil
}

func (p *Parser) startElement(e xml.StartElement) {
	switch e.Name.Local {
	case "suite":
		p.currentSuite = attr(e, "name")
	case "groups":
		p.methodGroupMap = map[string][]string{}
	case "group":
		p.currentGroupName = attr(e, "name")
	case "method":
		p.startGroupMethod(attr(e, "class"), attr(e, "name"))
	case "test":
		p.startTest(attr(e, "name"))
	case "class":
		p.startClass(attr(e, "name"))
	case "test-method":
		p.startTestMethod(e)
	case "reporter-output":
		// Nothing to do; kept for symmetry with its end handler and
		// for suite-level output capture should TestNG ever emit it.
	case "line":
		p.startLine()
		p.currentTarget = cdataLine
	case "params":
		p.currentParamsList = []string{}
		p.currentTarget = cdataParams
	case "exception":
		p.exceptionClass = attr(e, "class")
	case "message":
		p.currentTarget = cdataMessage
	case "short-stacktrace":
		p.currentTarget = cdataShortStackTrace
	case "full-stacktrace":
		p.currentTarget = cdataFullStackTrace
	}
}

func (p *Parser) endElement(name string) {
	switch name {
	case "suite":
		p.finishSuite()
	case "group":
		p.currentGroupName = ""
	case "test":
		p.finishTest()
	case "class":
		p.finishClass()
	case "test-method":
		p.finishTestMethod()
	case "reporter-output":
		p.endReporterOutput()
	case "line":
		p.endLine()
		p.currentTarget = cdataNone
	case "params":
		p.finishMethodParameters()
		p.currentTarget = cdataNone
	case "exception":
		p.finishException()
	case "message", "short-stacktrace", "full-stacktrace":
		p.currentTarget = cdataNone
	}
}

// handleCDATA routes a character-data event to the active leaf context. The
// decoder reports inter-element whitespace as character data too (it does not
// tell CDATA sections apart from plain text), so blank events are dropped.
// As a consequence a whitespace-only <line> or <param> value is treated as
// empty rather than preserved verbatim.
func (p *Parser) handleCDATA(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	switch p.currentTarget {
	case cdataParams:
		p.currentParamsList = append(p.currentParamsList, text)
	case cdataMessage:
		p.currentMessage = text
	case cdataShortStackTrace:
		p.currentShortTrace = text
	case cdataFullStackTrace:
		p.currentFullTrace = text
	case cdataLine:
		p.currentLine = text
	}
}

func (p *Parser) finishSuite() {
	// Group associations are scoped to the suite that declared them.
	p.methodGroupMap = map[string][]string{}
	p.currentSuite = ""
}

func (p *Parser) startGroupMethod(className, methodName string) {
	key := className + "|" + methodName
	p.methodGroupMap[key] = append(p.methodGroupMap[key], p.currentGroupName)
}

func (p *Parser) startTest(name string) {
	if existing, ok := p.testResultMap[name]; ok {
		p.currentTest = existing
	} else {
		p.currentTest = newTestResult(name)
		p.testResultMap[name] = p.currentTest
	}
	p.currentClassList = []*ClassResult{}
}

func (p *Parser) finishTest() {
	if p.currentTest != nil {
		p.currentTest.addClasses(p.currentClassList)
		p.testList = append(p.testList, p.currentTest)
	}
	p.currentClassList = nil
	p.currentTest = nil
}

func (p *Parser) startClass(name string) {
	if existing, ok := p.classResultMap[name]; ok {
		p.currentClass = existing
	} else {
		p.currentClass = newClassResult(name)
		p.classResultMap[name] = p.currentClass
	}
	p.currentMethodList = []*MethodResult{}
	// Fresh run ID per class entry, shared by the methods parsed under it.
	p.currentTestRunID = ulid.Make().String()
}

func (p *Parser) finishClass() {
	if p.currentClass != nil {
		p.currentClass.addMethods(p.currentMethodList)
		p.currentClassList = append(p.currentClassList, p.currentClass)
	}
	p.currentMethodList = nil
	p.currentClass = nil
	p.currentTestRunID = ""
}

func (p *Parser) startTestMethod(e xml.StartElement) {
	startedAtRaw := attr(e, "started-at")
	startedAt, err := time.Parse(DateFormat, startedAtRaw)
	if err != nil {
		p.logger.Infof("Unable to parse started-at value: %s", startedAtRaw)
		startedAt = time.Time{}
	}

	name := attr(e, "name")
	p.currentMethod = &MethodResult{
		Name:             name,
		Status:           attr(e, "status"),
		Description:      attr(e, "description"),
		DurationMS:       attr(e, "duration-ms"),
		StartedAt:        startedAt,
		IsConfig:         attr(e, "is-config") == "true",
		TestRunID:        p.currentTestRunID,
		SuiteName:        p.currentSuite,
		TestInstanceName: attr(e, "test-instance-name"),
	}
	if p.currentTest != nil {
		p.currentMethod.TestName = p.currentTest.Name
	}
	if p.currentClass != nil {
		if groups, ok := p.methodGroupMap[p.currentClass.Name+"|"+name]; ok {
			p.currentMethod.Groups = groups
		}
	}
}

func (p *Parser) finishTestMethod() {
	if p.currentMethod == nil {
		return
	}
	p.classifyMethod(p.currentMethod)
	p.currentMethodList = append(p.currentMethodList, p.currentMethod)
	p.currentMethod = nil
}

// classifyMethod routes a finished method into exactly one of the five
// classification buckets; an unrecognized status lands in none of them.
func (p *Parser) classifyMethod(method *MethodResult) {
	if method.IsConfig {
		switch method.Status {
		case "FAIL":
			p.finalResults.FailedConfigs = append(p.finalResults.FailedConfigs, method)
		case "SKIP":
			p.finalResults.SkippedConfigs = append(p.finalResults.SkippedConfigs, method)
		}
		return
	}
	switch method.Status {
	case "FAIL":
		p.finalResults.FailedTests = append(p.finalResults.FailedTests, method)
	case "SKIP":
		p.finalResults.SkippedTests = append(p.finalResults.SkippedTests, method)
	case "PASS":
		p.finalResults.PassedTests = append(p.finalResults.PassedTests, method)
	}
}

func (p *Parser) finishMethodParameters() {
	if p.currentMethod != nil {
		p.currentMethod.Parameters = p.currentParamsList
	}
	p.currentParamsList = nil
}

func (p *Parser) finishException() {
	if p.currentMethod != nil {
		p.currentMethod.Exception = &MethodException{
			Class:           p.exceptionClass,
			Message:         p.currentMessage,
			ShortStackTrace: p.currentShortTrace,
			FullStackTrace:  p.currentFullTrace,
		}
	}
	p.currentMessage = ""
	p.currentShortTrace = ""
	p.currentFullTrace = ""
	p.exceptionClass = ""
}

func (p *Parser) startLine() {
	p.currentLine = ""
	if p.currentMethod != nil && p.reporterOutput == nil {
		p.reporterOutput = &strings.Builder{}
	}
}

func (p *Parser) endLine() {
	if p.currentMethod != nil && p.reporterOutput != nil {
		p.reporterOutput.WriteString(html.EscapeString(p.currentLine))
		p.reporterOutput.WriteString("<br/>")
	}
}

func (p *Parser) endReporterOutput() {
	// Only test methods carry reporter output; lines captured under a
	// configuration method are dropped. The accumulator is discarded
	// either way so it cannot bleed into the next method.
	if p.currentMethod != nil && p.reporterOutput != nil && !p.currentMethod.IsConfig {
		p.currentMethod.ReporterOutput = p.reporterOutput.String()
	}
	p.reporterOutput = nil
}

func (p *Parser) logError(err error) {
	p.logger.WithError(err).Error("Error while parsing TestNG report")
}

func attr(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
