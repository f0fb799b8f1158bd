package cleaner

import (
	"fmt"
	"strings"
	"time"
)

// Action is what happened to a classified entry.
type Action string

const (
	ActionDelete Action = "DELETE"
	ActionSkip   Action = "SKIP"
	ActionDryRun Action = "DRY_RUN"
)

// Kind is the filesystem type of a classified entry.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
	KindOther     Kind = "other"
)

// Reason explains a decision. Policy reasons are deliberate exclusions;
// failure reasons come from a collaborator call that did not succeed.
type Reason string

const (
	ReasonEligible          Reason = "eligible"
	ReasonSafePath          Reason = "safe_path"
	ReasonExcludedExtension Reason = "excluded_extension"
	ReasonProtectedName     Reason = "protected_name"
	ReasonTooNew            Reason = "too_new"
	ReasonAgeUnknown        Reason = "age_unknown"
	ReasonUnsafeTarget      Reason = "unsafe_target"
	ReasonDeleteFailed      Reason = "delete_failed"
	ReasonInaccessible      Reason = "inaccessible"
	ReasonUnsupportedType   Reason = "unsupported_type"
)

// IsFailure reports whether r stems from an error rather than policy.
func (r Reason) IsFailure() bool {
	switch r {
	case ReasonDeleteFailed, ReasonInaccessible, ReasonAgeUnknown:
		return true
	}
	return false
}

// Decision records how a single entry was classified.
type Decision struct {
	Path    string
	Kind    Kind
	Action  Action
	Reason  Reason
	Size    int64
	AgeDays int // -1 when unknown or not evaluated
	MinAge  int // policy threshold in effect
	Err     error

	EvaluatedAt time.Time
}

// Cleaned reports whether the decision counts toward the cleaned total.
func (d Decision) Cleaned() bool {
	return d.Action == ActionDelete || d.Action == ActionDryRun
}

// ErrorMessage returns the failure text, or "" when there was none.
func (d Decision) ErrorMessage() string {
	if d.Err == nil {
		return ""
	}
	return d.Err.Error()
}

// ToLogString formats the decision for structured logging.
// Example: `[SKIP] path=/tmp/a.txt object=file size=12 reason=too_new age=3d (min=7d)`
func (d Decision) ToLogString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] path=%s object=%s size=%d reason=%s",
		d.Action, d.Path, d.Kind, d.Size, d.Reason)

	if d.AgeDays >= 0 && d.Kind == KindFile {
		fmt.Fprintf(&b, " age=%dd (min=%dd)", d.AgeDays, d.MinAge)
	}
	if d.Err != nil {
		escaped := strings.ReplaceAll(d.Err.Error(), `"`, `\"`)
		fmt.Fprintf(&b, ` error="%s"`, escaped)
	}
	return b.String()
}

// ToHumanReadable formats the decision for reports.
func (d Decision) ToHumanReadable() string {
	switch d.Reason {
	case ReasonEligible:
		if d.Action == ActionDryRun {
			return fmt.Sprintf("Would delete, %d days old", d.AgeDays)
		}
		return fmt.Sprintf("Deleted, %d days old", d.AgeDays)
	case ReasonSafePath:
		return "Protected by safe path"
	case ReasonExcludedExtension:
		return "Excluded file type"
	case ReasonProtectedName:
		return "Protected file name"
	case ReasonTooNew:
		return fmt.Sprintf("Newer than %d days", d.MinAge)
	case ReasonAgeUnknown:
		return "Modification time unavailable"
	case ReasonUnsafeTarget:
		return "Blocked by safety validator"
	case ReasonDeleteFailed:
		return "Delete failed (in use or access denied)"
	case ReasonInaccessible:
		return "Not accessible"
	case ReasonUnsupportedType:
		return "Not a regular file or directory"
	}
	return "Unknown reason"
}
