package provision

import (
	"errors"
	"time"

	"homeserver/homeprov/internal/layout"
	"homeserver/homeprov/internal/storage/blk"
)

// Outcome is how a provisioning run ended. Every outcome is a successful
// exit; hard failures are returned as errors instead.
type Outcome string

const (
	OutcomeProvisioned    Outcome = "provisioned"
	OutcomeAlreadyMounted Outcome = "already-mounted"
	OutcomeNoCandidates   Outcome = "no-candidates"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeDeclined       Outcome = "declined"
	OutcomeInvalid        Outcome = "invalid-selection"
	OutcomeUnsupported    Outcome = "unsupported-filesystem"
)

// Outcomes lists every outcome, for metrics.
var Outcomes = []Outcome{
	OutcomeProvisioned, OutcomeAlreadyMounted, OutcomeNoCandidates,
	OutcomeSkipped, OutcomeDeclined, OutcomeInvalid, OutcomeUnsupported,
}

// Action is what will be done to the selected disk.
type Action string

const (
	ActionCreateAndFormat Action = "create-and-format"
	ActionFormatExisting  Action = "format-existing"
	ActionUseExisting     Action = "use-existing"
	ActionReject          Action = "reject"
)

// Decision is the pure result of inspecting a target disk.
type Decision struct {
	Disk      blk.Device
	Action    Action
	Partition string
	// FSType is the type to create, or the existing type for use-existing.
	FSType       string
	NeedsConfirm bool
	Reason       string
}

// Destructive reports whether applying the decision erases data.
func (d Decision) Destructive() bool {
	return d.Action == ActionCreateAndFormat || d.Action == ActionFormatExisting
}

type StepKind string

const (
	StepPartition StepKind = "partition"
	StepSettle    StepKind = "settle"
	StepFormat    StepKind = "format"
	StepMkdir     StepKind = "mkdir"
	StepMount     StepKind = "mount"
	StepPersist   StepKind = "persist"
)

// Step is one action of a plan. Command is the equivalent shell invocation,
// shown in dry runs and in manual recovery instructions.
type Step struct {
	ID          string   `json:"id" yaml:"id"`
	Kind        StepKind `json:"kind" yaml:"kind"`
	Description string   `json:"description" yaml:"description"`
	Command     string   `json:"command" yaml:"command"`
	Destructive bool     `json:"destructive" yaml:"destructive"`
}

// Plan is the ordered list of steps for a decision.
type Plan struct {
	Disk      string `json:"disk" yaml:"disk"`
	Action    Action `json:"action" yaml:"action"`
	Partition string `json:"partition" yaml:"partition"`
	FSType    string `json:"fstype" yaml:"fstype"`
	MountPath string `json:"mountPath" yaml:"mountPath"`
	Steps     []Step `json:"steps" yaml:"steps"`
}

// Result summarizes a run.
type Result struct {
	Outcome    Outcome
	Candidates int
	Disk       string
	Partition  string
	UUID       string
	FSType     string
	MountPath  string
	FstabAdded bool
	Layout     *layout.Report
	Message    string
}

// Record is the persisted summary of the last run.
type Record struct {
	Time       time.Time `json:"time"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Disk       string    `json:"disk,omitempty"`
	Partition  string    `json:"partition,omitempty"`
	UUID       string    `json:"uuid,omitempty"`
	FSType     string    `json:"fstype,omitempty"`
	MountPath  string    `json:"mountPath"`
	FstabAdded bool      `json:"fstabAdded"`
}

var (
	ErrSkipped          = errors.New("selection skipped")
	ErrInvalidSelection = errors.New("not a candidate disk")
	ErrMissingTools     = errors.New("required tools missing")
)
