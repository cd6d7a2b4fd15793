package plugin

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/harness-community/testng-parser/parser"
)

// sharedClassReport has the class com.example.Shared under two tests, so the
// parser merges both appearances into one class entity.
const sharedClassReport = `
<testng-results>
  <suite name="S">
    <test name="T1">
      <class name="com.example.Shared">
        <test-method status="PASS" name="a" duration-ms="10" started-at="2023-03-01T10:00:00"/>
      </class>
    </test>
    <test name="T2">
      <class name="com.example.Shared">
        <test-method status="FAIL" name="b" duration-ms="10" started-at="2023-03-01T10:00:01"/>
      </class>
    </test>
  </suite>
</testng-results>`

func writeReport(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.xml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write report file: %v", err)
	}
	return path
}

func TestLocateFiles(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		expected []string
		err      string
	}{
		{
			name:     "ValidPatternWithFiles",
			pattern:  "../testdata/*.xml",
			expected: []string{filepath.FromSlash("../testdata/invalid-suite.xml"), filepath.FromSlash("../testdata/invalid.xml"), filepath.FromSlash("../testdata/testng-report-valid.xml"), filepath.FromSlash("../testdata/testng-report.xml")},
			err:      "",
		},
		{
			name:     "NoFilesMatchPattern",
			pattern:  "../testdata/*.log",
			expected: nil,
			err:      "no files found matching the report filename pattern",
		},
		{
			name:     "InvalidPattern",
			pattern:  "[invalidpattern",
			expected: nil,
			err:      "failed to search for files",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := locateFiles(tc.pattern)

			// Sort results for consistency
			sort.Strings(result)
			sort.Strings(tc.expected)

			if diff := cmp.Diff(tc.expected, result); diff != "" {
				t.Errorf("locateFiles() mismatch (-want +got):\n%s", diff)
			}

			if tc.err != "" {
				if err == nil || !strings.Contains(err.Error(), tc.err) {
					t.Errorf("locateFiles() expected error %v, got %v", tc.err, err)
				}
			} else if err != nil {
				t.Errorf("locateFiles() unexpected error: %v", err)
			}
		})
	}
}

// TestValidateInputs tests the ValidateInputs function with various cases
func TestValidateInputs(t *testing.T) {
	tests := []struct {
		name      string
		args      Args
		expectErr bool
		errMsg    string
	}{
		{
			name: "ValidInputs",
			args: Args{
				ReportFilenamePattern: "testdata/*.xml",
				FailedFails:           1,
				FailedSkips:           0,
				ThresholdMode:         ThresholdModeAbsolute,
			},
			expectErr: false,
		},
		{
			name: "MissingReportFilenamePattern",
			args: Args{
				FailedFails:   1,
				FailedSkips:   0,
				ThresholdMode: ThresholdModeAbsolute,
			},
			expectErr: true,
			errMsg:    "missing required parameter",
		},
		{
			name: "NegativeThreshold",
			args: Args{
				ReportFilenamePattern: "testdata/*.xml",
				FailedFails:           -1,
				ThresholdMode:         ThresholdModeAbsolute,
			},
			expectErr: true,
			errMsg:    "threshold values must be non-negative",
		},
		{
			name: "InvalidThresholdMode",
			args: Args{
				ReportFilenamePattern: "testdata/*.xml",
				ThresholdMode:         "invalid",
			},
			expectErr: true,
			errMsg:    "invalid ThresholdMode",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateInputs(tc.args)

			if tc.expectErr {
				if err == nil || !strings.Contains(err.Error(), tc.errMsg) {
					t.Errorf("ValidateInputs() expected error %q but got %v", tc.errMsg, err)
				}
			} else if err != nil {
				t.Errorf("ValidateInputs() unexpected error: %v", err)
			}
		})
	}
}

// TestValidateThresholds tests the validateThresholds function for various scenarios
func TestValidateThresholds(t *testing.T) {
	tests := []struct {
		name      string
		results   Results
		args      Args
		expectErr bool
		errMsg    string
	}{
		{
			name: "ValidAbsoluteThresholds",
			results: Results{
				Total:    10,
				Failures: 1,
				Skipped:  1,
			},
			args: Args{
				FailedFails:   2,
				FailedSkips:   2,
				ThresholdMode: ThresholdModeAbsolute,
			},
			expectErr: false,
		},
		{
			name: "ExceededAbsoluteFailureThreshold",
			results: Results{
				Total:    10,
				Failures: 3,
				Skipped:  1,
			},
			args: Args{
				FailedFails:   2,
				FailedSkips:   2,
				ThresholdMode: ThresholdModeAbsolute,
			},
			expectErr: true,
			errMsg:    "\nabsolute threshold validation failed: number of failed tests (3) exceeded the threshold (2)",
		},
		{
			name: "ExceededPercentageFailureThreshold",
			results: Results{
				Total:    100,
				Failures: 15,
				Skipped:  5,
			},
			args: Args{
				FailedFails:   10,
				FailedSkips:   10,
				ThresholdMode: ThresholdModePercentage,
			},
			expectErr: true,
			errMsg:    "\npercentage threshold validation failed: failure rate (15.00%) exceeded the threshold (10.00%)",
		},
		{
			name: "ValidPercentageThresholds",
			results: Results{
				Total:    100,
				Failures: 5,
				Skipped:  5,
			},
			args: Args{
				FailedFails:   10,
				FailedSkips:   10,
				ThresholdMode: ThresholdModePercentage,
			},
			expectErr: false,
		},
		{
			name: "FailedConfigurationMethods",
			results: Results{
				Total:         10,
				FailedConfigs: 1,
			},
			args: Args{
				FailureOnFailedTestConfig: true,
				ThresholdMode:             ThresholdModeAbsolute,
			},
			expectErr: true,
			errMsg:    "failed configuration methods",
		},
		{
			name: "EdgeCaseEmptyResults",
			results: Results{
				Total:    0,
				Failures: 0,
				Skipped:  0,
			},
			args: Args{
				FailedFails:   0,
				FailedSkips:   0,
				ThresholdMode: ThresholdModeAbsolute,
			},
			expectErr: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateThresholds(tc.results, tc.args)

			if tc.expectErr {
				if err == nil || !strings.Contains(err.Error(), tc.errMsg) {
					t.Errorf("validateThresholds() expected error %q but got %v", tc.errMsg, err)
				}
			} else if err != nil {
				t.Errorf("validateThresholds() unexpected error: %v", err)
			}
		})
	}
}

// TestAggregateClassResults tests handling of invalid DurationMS and failed/skipped tests.
func TestAggregateClassResults(t *testing.T) {
	class := &parser.ClassResult{
		Name:        "com.example.TestClass",
		PackageName: "com.example",
		SimpleName:  "TestClass",
		Methods: []*parser.MethodResult{
			{Name: "Test1", Status: "PASS", DurationMS: "10"},
			{Name: "Test2", Status: "FAIL", DurationMS: "invalid"},
			{Name: "Test3", Status: "SKIP", DurationMS: "5"},
			{Name: "setUp", Status: "PASS", DurationMS: "99", IsConfig: true},
		},
	}

	hook := test.NewGlobal()
	defer hook.Reset()

	results, failedTests, skippedTests := aggregateClassResults(class)

	expectedResults := Results{
		Total:      3,
		Failures:   1,
		Skipped:    1,
		DurationMS: 15, // Test2's invalid duration is excluded
	}
	if diff := cmp.Diff(expectedResults, results); diff != "" {
		t.Errorf("aggregateClassResults() Results mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Test2"}, failedTests); diff != "" {
		t.Errorf("Failed tests mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Test3"}, skippedTests); diff != "" {
		t.Errorf("Skipped tests mismatch (-want +got):\n%s", diff)
	}

	expectedLogMessage := "Invalid or missing DurationMS for test 'Test2'"
	found := false
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, expectedLogMessage) {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("Expected log message not found: %s", expectedLogMessage)
	}
}

func TestSummarize(t *testing.T) {
	results := parser.New().Parse([]string{
		filepath.FromSlash("../testdata/testng-report.xml"),
		filepath.FromSlash("../testdata/testng-report-valid.xml"),
	})

	summary := summarize(results)

	expected := Results{
		Total:      6,
		Failures:   2,
		Skipped:    1,
		DurationMS: 45, // configuration methods are excluded
	}
	if diff := cmp.Diff(expected, summary); diff != "" {
		t.Errorf("summarize() mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeSharedClass(t *testing.T) {
	results := parser.New().Parse([]string{writeReport(t, sharedClassReport)})

	summary := summarize(results)

	// The shared class entity holds both methods; each method's duration
	// must be counted exactly once even though the class appears under
	// both tests.
	expected := Results{
		Total:      2,
		Failures:   1,
		DurationMS: 20,
	}
	if diff := cmp.Diff(expected, summary); diff != "" {
		t.Errorf("summarize() mismatch (-want +got):\n%s", diff)
	}
}

func TestLogTestDetailsSharedClass(t *testing.T) {
	results := parser.New().Parse([]string{writeReport(t, sharedClassReport)})

	hook := test.NewGlobal()
	defer hook.Reset()

	logTestDetails(results)

	var methodLines, repeatLines int
	foundFailedNames := false
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, "- Method:") {
			methodLines++
		}
		if strings.Contains(entry.Message, "(listed above)") {
			repeatLines++
		}
		if strings.Contains(entry.Message, "Failed: b") {
			foundFailedNames = true
		}
	}
	if methodLines != 2 {
		t.Errorf("expected each method to be listed once, got %d method lines", methodLines)
	}
	if repeatLines != 1 {
		t.Errorf("expected the repeated class appearance to be marked once, got %d", repeatLines)
	}
	if !foundFailedNames {
		t.Error("expected the failed test names to be logged")
	}
}

func TestExecWithMixedFiles(t *testing.T) {
	args := Args{
		ReportFilenamePattern: "../testdata/*.xml",
		FailedFails:           4,
		FailedSkips:           2,
		ThresholdMode:         ThresholdModeAbsolute,
	}

	// The invalid files are logged and skipped; the valid ones stay within
	// the configured thresholds.
	if err := Exec(context.Background(), args); err != nil {
		t.Errorf("Exec failed unexpectedly with error: %v", err)
	}
}

func TestExecFailsWhenThresholdExceeded(t *testing.T) {
	args := Args{
		ReportFilenamePattern: "../testdata/*.xml",
		FailedFails:           1,
		ThresholdMode:         ThresholdModeAbsolute,
	}

	err := Exec(context.Background(), args)
	if err == nil || !strings.Contains(err.Error(), "exceeded the threshold") {
		t.Errorf("Exec expected a threshold error, got %v", err)
	}
}
