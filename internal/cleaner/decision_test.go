package cleaner

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type countingThrottle struct {
	waits int
	err   error
}

// debugLog keeps the Debug messages it receives.
type debugLog struct {
	debug []string
}

func (l *debugLog) Debug(msg string, args ...interface{}) { l.debug = append(l.debug, msg) }
func (l *debugLog) Info(msg string, args ...interface{}) {}
func (l *debugLog) Warn(msg string, args ...interface{}) {}

func (c *countingThrottle) Wait(ctx context.Context) error {
	c.waits++
	return c.err
}

func TestDecisionToLogString(t *testing.T) {
	tests := []struct {
		name     string
		decision Decision
		contains []string
		absent   []string
	}{
		{
			name:     "deleted file",
			decision: Decision{Path: "/tmp/a.txt", Kind: KindFile, Action: ActionDelete, Reason: ReasonEligible, Size: 42, AgeDays: 10, MinAge: 7},
			contains: []string{"[DELETE]", "path=/tmp/a.txt", "object=file", "size=42", "reason=eligible", "age=10d (min=7d)"},
		},
		{
			name:     "safe directory",
			decision: Decision{Path: "/tmp/docs", Kind: KindDirectory, Action: ActionSkip, Reason: ReasonSafePath, AgeDays: -1, MinAge: 7},
			contains: []string{"[SKIP]", "object=directory", "reason=safe_path"},
			absent:   []string{"age="},
		},
		{
			name:     "failed delete quotes error",
			decision: Decision{Path: "/tmp/x", Kind: KindFile, Action: ActionSkip, Reason: ReasonDeleteFailed, AgeDays: 9, MinAge: 7, Err: errors.New(`file "x" is locked`)},
			contains: []string{`error="file \"x\" is locked"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.decision.ToLogString()
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("ToLogString() = %q, missing %q", got, want)
				}
			}
			for _, bad := range tt.absent {
				if strings.Contains(got, bad) {
					t.Errorf("ToLogString() = %q, should not contain %q", got, bad)
				}
			}
		})
	}
}

func TestDecisionToHumanReadable(t *testing.T) {
	tests := []struct {
		decision Decision
		expected string
	}{
		{Decision{Action: ActionDelete, Reason: ReasonEligible, AgeDays: 12}, "Deleted, 12 days old"},
		{Decision{Action: ActionDryRun, Reason: ReasonEligible, AgeDays: 12}, "Would delete, 12 days old"},
		{Decision{Action: ActionSkip, Reason: ReasonTooNew, MinAge: 7}, "Newer than 7 days"},
		{Decision{Action: ActionSkip, Reason: ReasonExcludedExtension}, "Excluded file type"},
		{Decision{Action: ActionSkip, Reason: Reason("bogus")}, "Unknown reason"},
	}

	for _, tt := range tests {
		t.Run(string(tt.decision.Reason), func(t *testing.T) {
			if got := tt.decision.ToHumanReadable(); got != tt.expected {
				t.Errorf("ToHumanReadable() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestReasonIsFailure(t *testing.T) {
	failures := []Reason{ReasonDeleteFailed, ReasonInaccessible, ReasonAgeUnknown}
	policy := []Reason{ReasonSafePath, ReasonExcludedExtension, ReasonProtectedName, ReasonTooNew, ReasonEligible}

	for _, r := range failures {
		if !r.IsFailure() {
			t.Errorf("%s should be a failure reason", r)
		}
	}
	for _, r := range policy {
		if r.IsFailure() {
			t.Errorf("%s should not be a failure reason", r)
		}
	}
}

func TestDecisionCleaned(t *testing.T) {
	if !(Decision{Action: ActionDelete}).Cleaned() {
		t.Error("DELETE should count as cleaned")
	}
	if !(Decision{Action: ActionDryRun}).Cleaned() {
		t.Error("DRY_RUN should count as cleaned")
	}
	if (Decision{Action: ActionSkip}).Cleaned() {
		t.Error("SKIP should not count as cleaned")
	}
}
