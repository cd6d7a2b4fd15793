package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/harness-community/testng-parser/parser"
	"github.com/sirupsen/logrus"
)

// Args represents the plugin's configurable arguments.
type Args struct {
	ReportFilenamePattern     string `envconfig:"PLUGIN_REPORT_FILENAME_PATTERN"`
	FailedFails               int    `envconfig:"PLUGIN_FAILED_FAILS"`
	FailedSkips               int    `envconfig:"PLUGIN_FAILED_SKIPS"`
	FailureOnFailedTestConfig bool   `envconfig:"PLUGIN_FAILURE_ON_FAILED_TEST_CONFIG"`
	UnstableFails             int    `envconfig:"PLUGIN_UNSTABLE_FAILS"`
	UnstableSkips             int    `envconfig:"PLUGIN_UNSTABLE_SKIPS"`
	JobStatus                 string `envconfig:"PLUGIN_JOB_STATUS"`
	ThresholdMode             string `envconfig:"PLUGIN_THRESHOLD_MODE"`
	FailIfNoResults           bool   `envconfig:"PLUGIN_FAIL_IF_NO_RESULTS"`
	Level                     string `envconfig:"PLUGIN_LOG_LEVEL"`
}

// ValidateInputs ensures the user inputs meet the plugin requirements.
func ValidateInputs(args Args) error {
	if args.ReportFilenamePattern == "" {
		return errors.New("missing required parameter: ReportFilenamePattern. Please specify the pattern to locate the TestNG report files")
	}
	if args.FailedFails < 0 || args.FailedSkips < 0 || args.UnstableFails < 0 || args.UnstableSkips < 0 {
		return errors.New("threshold values must be non-negative. Check the configured values for failed and skipped tests")
	}
	if args.ThresholdMode != ThresholdModeAbsolute && args.ThresholdMode != ThresholdModePercentage {
		return errors.New("invalid ThresholdMode value. It must be 'absolute' or 'percentage'. Check the configuration")
	}
	return nil
}

// Exec parses the TestNG XML reports, logs their details and enforces the
// configured thresholds.
func Exec(ctx context.Context, args Args) error {
	files, err := locateFiles(args.ReportFilenamePattern)
	if err != nil {
		logger := logrus.WithError(err)
		logger.Error("Error locating files")
		return errors.New("failed to locate files: " + err.Error())
	}

	if len(files) == 0 {
		if args.FailIfNoResults {
			return errors.New("no TestNG XML report files found. Check the report file pattern")
		}
		logrus.Warn("No TestNG XML report files found, continuing execution as FailIfNoResults is false")
		return nil
	}

	results := parser.New().Parse(files)

	if args.FailIfNoResults && results.TotalTestCount == 0 {
		return errors.New("no test results found in the TestNG XML report files")
	}

	summary := summarize(results)
	logSummary(summary)
	logTestDetails(results)

	if err := validateThresholds(summary, args); err != nil {
		logger := logrus.WithFields(logrus.Fields{
			"Total Tests":    summary.Total,
			"Failures":       summary.Failures,
			"Skipped":        summary.Skipped,
			"Failed Configs": summary.FailedConfigs,
			"DurationMS":     summary.DurationMS,
		})
		logger.Error(err.Error())
		return err
	}

	return nil
}

// locateFiles identifies files matching the given pattern.
func locateFiles(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		logger := logrus.WithError(err).WithField("Pattern", pattern)
		logger.Error("Error occurred while searching for files")
		return nil, errors.New("failed to search for files: " + err.Error())
	}
	if len(matches) == 0 {
		return nil, errors.New("no files found matching the report filename pattern")
	}
	return matches, nil
}

// summarize flattens the parsed result tree into aggregate counts for
// threshold checks and console output. A class shared between tests (or
// between documents) is a single entity holding all of its accumulated
// methods, so each class is summed exactly once.
func summarize(results *parser.TestNGResult) Results {
	summary := Results{
		Total:         results.TotalTestCount,
		Failures:      results.FailedTestCount,
		Skipped:       results.SkippedTestCount,
		FailedConfigs: results.FailedConfigCount,
	}
	seen := map[*parser.ClassResult]bool{}
	for _, test := range results.TestList {
		for _, class := range test.Classes {
			if seen[class] {
				continue
			}
			seen[class] = true
			classResults, _, _ := aggregateClassResults(class)
			summary.DurationMS += classResults.DurationMS
		}
	}
	return summary
}

// aggregateClassResults sums up one class's non-configuration methods and
// returns the names of its failed and skipped tests.
func aggregateClassResults(class *parser.ClassResult) (Results, []string, []string) {
	results := Results{}
	var failedTests, skippedTests []string

	for _, method := range class.Methods {
		if method.IsConfig {
			continue
		}
		results.Total++
		switch method.Status {
		case "FAIL":
			results.Failures++
			failedTests = append(failedTests, method.Name)
		case "SKIP":
			results.Skipped++
			skippedTests = append(skippedTests, method.Name)
		}
		duration, err := strconv.ParseFloat(method.DurationMS, 64)
		if err != nil {
			logrus.Warnf("Invalid or missing DurationMS for test '%s'", method.Name)
			continue
		}
		results.DurationMS += duration
	}

	return results, failedTests, skippedTests
}

// logSummary logs the aggregated results across all report files.
func logSummary(summary Results) {
	logrus.Infof("\n===============================================")
	logrus.Infof("\nTotal Tests Results: %d | Failures: %d | Skips: %d | Duration: %.2f ms", summary.Total, summary.Failures, summary.Skipped, summary.DurationMS)
	logrus.Infof("\n===============================================")
}

// logTestDetails logs every parsed test, class and method. A shared class
// entity carries its full accumulated method list, so its methods are listed
// under its first appearance only.
func logTestDetails(results *parser.TestNGResult) {
	logrus.Infof("\nTest Details:")
	seen := map[*parser.ClassResult]bool{}
	for _, test := range results.TestList {
		logrus.Infof("\nTest: %s", test.Name)
		for _, class := range test.Classes {
			if seen[class] {
				logrus.Infof("\n- Class: %s (listed above)", class.Name)
				continue
			}
			seen[class] = true
			logrus.Infof("\n- Class: %s", class.Name)
			for _, method := range class.Methods {
				logrus.Infof("\n  - Method: %s | Status: %s | Duration: %s ms", method.Name, method.Status, method.DurationMS)
				if method.Status == "FAIL" && method.Exception != nil {
					logrus.Infof("\n      Exception: %s: %s", method.Exception.Class, method.Exception.Message)
				}
			}
			_, failedTests, skippedTests := aggregateClassResults(class)
			if len(failedTests) > 0 {
				logrus.Infof("\n  Failed: %s", strings.Join(failedTests, ", "))
			}
			if len(skippedTests) > 0 {
				logrus.Infof("\n  Skipped: %s", strings.Join(skippedTests, ", "))
			}
		}
	}
}

// validateThresholds validates test report thresholds based on aggregate results.
func validateThresholds(results Results, args Args) error {

	if args.FailureOnFailedTestConfig && results.FailedConfigs > 0 {
		return errors.New("\nbuild marked as failed due to failed configuration methods as FailureOnFailedTestConfig is true")
	}

	switch args.ThresholdMode {
	case ThresholdModeAbsolute:
		if err := validateAbsoluteThresholds(results, args); err != nil {
			return errors.New("\nabsolute threshold validation failed: " + err.Error())
		}

		if strings.ToUpper(args.JobStatus) == "FAILED" {
			if err := validateUnstableAbsoluteThresholds(results, args); err != nil {
				return errors.New("\nfail absolute threshold validation failed: " + err.Error())
			}
		}
	case ThresholdModePercentage:
		if err := validatePercentageThresholds(results, args); err != nil {
			return errors.New("\npercentage threshold validation failed: " + err.Error())
		}

		if strings.ToUpper(args.JobStatus) == "FAILED" {
			if err := validateUnstablePercentageThresholds(results, args); err != nil {
				return errors.New("\nfail percentage threshold validation failed: " + err.Error())
			}
		}
	default:
		return fmt.Errorf("\ninvalid ThresholdMode: %q, expected 'absolute' or 'percentage'", args.ThresholdMode)
	}
	return nil
}

// validateAbsoluteThresholds checks absolute thresholds.
func validateAbsoluteThresholds(results Results, args Args) error {
	if args.FailedFails > 0 && results.Failures > args.FailedFails {
		return fmt.Errorf("number of failed tests (%d) exceeded the threshold (%d)", results.Failures, args.FailedFails)
	}
	if args.FailedSkips > 0 && results.Skipped > args.FailedSkips {
		return fmt.Errorf("number of skipped tests (%d) exceeded the threshold (%d)", results.Skipped, args.FailedSkips)
	}
	return nil
}

// validatePercentageThresholds checks percentage-based thresholds.
func validatePercentageThresholds(results Results, args Args) error {
	totalTests := results.Total
	if totalTests == 0 {
		return nil // No tests to validate
	}

	failureRate := float64(results.Failures) / float64(totalTests) * 100
	skipRate := float64(results.Skipped) / float64(totalTests) * 100

	if args.FailedFails > 0 && failureRate > float64(args.FailedFails) {
		return fmt.Errorf("failure rate (%.2f%%) exceeded the threshold (%.2f%%)", failureRate, float64(args.FailedFails))
	}
	if args.FailedSkips > 0 && skipRate > float64(args.FailedSkips) {
		return fmt.Errorf("skip rate (%.2f%%) exceeded the threshold (%.2f%%)", skipRate, float64(args.FailedSkips))
	}
	return nil
}

// validateUnstableAbsoluteThresholds checks absolute thresholds for marking the build as unstable.
func validateUnstableAbsoluteThresholds(results Results, args Args) error {
	if args.UnstableFails > 0 && results.Failures > args.UnstableFails {
		return fmt.Errorf("Build marked as fail: number of failed tests (%d) exceeded the unstable threshold (%d)", results.Failures, args.UnstableFails)
	}

	if args.UnstableSkips > 0 && results.Skipped > args.UnstableSkips {
		return fmt.Errorf("Build marked as fail: number of skipped tests (%d) exceeded the unstable threshold (%d)", results.Skipped, args.UnstableSkips)
	}

	return nil
}

// validateUnstablePercentageThresholds checks percentage-based thresholds for marking the build as unstable.
func validateUnstablePercentageThresholds(results Results, args Args) error {
	totalTests := results.Total
	if totalTests == 0 {
		return nil // No tests to validate
	}

	failureRate := float64(results.Failures) / float64(totalTests) * 100
	skipRate := float64(results.Skipped) / float64(totalTests) * 100

	if args.UnstableFails > 0 && failureRate > float64(args.UnstableFails) {
		return fmt.Errorf("Build marked as fail: failure rate (%.2f%%) exceeded the unstable threshold (%.2f%%)", failureRate, float64(args.UnstableFails))
	}

	if args.UnstableSkips > 0 && skipRate > float64(args.UnstableSkips) {
		return fmt.Errorf("Build marked as fail: skip rate (%.2f%%) exceeded the unstable threshold (%.2f%%)", skipRate, float64(args.UnstableSkips))
	}

	return nil
}
