package shotlocker

import (
	"slices"
	"time"
)

const (
	// DefaultNamespace is the top-level key prefix for all edit folders
	DefaultNamespace = "ShotLocker"

	// EnableTagKey marks a bucket as a locker or an edit as active
	EnableTagKey = "ShotLocker"

	// AccessTagKey holds the colon-joined access tokens of an object
	AccessTagKey = "ShotLockerAccess"

	// AccessTokenSeparator joins tokens inside the access tag value
	AccessTokenSeparator = ":"

	// ExecutionPrefix prefixes the deterministic processing execution name
	ExecutionPrefix = "ShotLocker-Put-Object-StepFn-"

	// UploadFunctionName identifies the upload-trigger function in notification configs
	UploadFunctionName = "ShotLocker-Upload-Edit"

	// DefaultPartition is the ARN partition used when none is configured
	DefaultPartition = "aws"
)

// enabledTagValues is the closed, case-sensitive set of tag values read as enabled.
var enabledTagValues = []string{"Enable", "enable", "Enabled", "enabled", "True", "true", "t", "1", "On", "on"}

// EditExtensions are the accepted edit document extensions.
var EditExtensions = []string{".xml", ".aaf", ".otio"}

// IsEnabledValue reports whether v is one of the accepted enable tag values.
func IsEnabledValue(v string) bool {
	return slices.Contains(enabledTagValues, v)
}

// EnableValue returns the tag value written for an enabled flag.
func EnableValue(enabled bool) string {
	if enabled {
		return "true"
	}
	return "false"
}

// Tag is a single key/value object or bucket tag
type Tag struct {
	Key   string `json:"Key" yaml:"key"`
	Value string `json:"Value" yaml:"value"`
}

// TagValue returns the value of key in tags.
func TagValue(tags []Tag, key string) (string, bool) {
	for _, t := range tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// SetTag sets key to value in tags and reports whether the set changed.
func SetTag(tags []Tag, key, value string) ([]Tag, bool) {
	for i, t := range tags {
		if t.Key == key {
			if t.Value == value {
				return tags, false
			}
			out := slices.Clone(tags)
			out[i].Value = value
			return out, true
		}
	}
	return append(slices.Clone(tags), Tag{Key: key, Value: value}), true
}

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// NotificationConfig is the subset of a bucket notification configuration
// this system manages. Passthrough carries adapter-owned configuration that
// must be written back unchanged.
type NotificationConfig struct {
	Lambda      []LambdaNotification
	Passthrough any
}

// LambdaNotification invokes a function for matching object events
type LambdaNotification struct {
	ID          string
	FunctionARN string
	Events      []string
	Prefix      string
	Suffix      string
}

// Machine names a workflow definition
type Machine string

const (
	MachineProcessEdit      Machine = "ProcessEdit"
	MachineAddEditAccess    Machine = "AddEditAccess"
	MachineRemoveEditAccess Machine = "RemoveEditAccess"
	MachineBucketDisable    Machine = "BucketDisable"
)

// Machines lists every workflow definition
var Machines = []Machine{MachineProcessEdit, MachineAddEditAccess, MachineRemoveEditAccess, MachineBucketDisable}

// ExecutionStatus is the state of a workflow execution
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionTimedOut  ExecutionStatus = "TIMED_OUT"
	ExecutionAborted   ExecutionStatus = "ABORTED"
)

// TagMode selects whether a token is added to or removed from objects
type TagMode string

const (
	TagAdd    TagMode = "add"
	TagRemove TagMode = "remove"
)

// ParseTagMode parses "add" or "remove", defaulting to add when empty.
func ParseTagMode(s string) (TagMode, error) {
	switch TagMode(s) {
	case "", TagAdd:
		return TagAdd, nil
	case TagRemove:
		return TagRemove, nil
	default:
		return "", &EditError{Op: "parse tag mode", Err: ErrValidation}
	}
}

// Edit is the derived state of one edit folder
type Edit struct {
	Name          string          `json:"name" yaml:"name"`
	Original      string          `json:"original,omitempty" yaml:"original,omitempty"`
	CreateTime    *time.Time      `json:"create_time,omitempty" yaml:"create_time,omitempty"`
	Manifest      string          `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Results       string          `json:"results,omitempty" yaml:"results,omitempty"`
	ProcessStatus ExecutionStatus `json:"process_status,omitempty" yaml:"process_status,omitempty"`
	Active        bool            `json:"active" yaml:"active"`
}

// Locker is a bucket managed by this system
type Locker struct {
	Name   string `json:"name" yaml:"name"`
	Active bool   `json:"active" yaml:"active"`
}

// Event is the document passed between pipeline stages and used as
// workflow execution input
type Event struct {
	Bucket         string `json:"bucket"`
	Key            string `json:"key,omitempty"`
	EditID         string `json:"edit_id,omitempty"`
	ResultsKey     string `json:"results_key,omitempty"`
	OriginalKey    string `json:"original_key,omitempty"`
	Mode           string `json:"mode,omitempty"`
	KeepS3Refs     *bool  `json:"keep_s3_ref,omitempty"`
	ReplaceMissing *bool  `json:"replace_missing,omitempty"`
}
