package availability

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrValidation marks caller input rejected before any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing template, exception or slot.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an optimistic concurrency failure on the template.
	ErrConflict = errors.New("version conflict")

	// ErrSlotUnavailable marks a slot transition whose precondition state no
	// longer holds, whether observed up front or lost to a concurrent writer.
	ErrSlotUnavailable = errors.New("slot is not available")
)

// ConflictError carries the winning template state alongside ErrConflict so
// callers can rebase their edit without a second read.
type ConflictError struct {
	CurrentVersion int
	CurrentRules   json.RawMessage
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("template changed concurrently, current version is %d", e.CurrentVersion)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Publish stages, reported on failures so operators can tell how far a publish
// got before stopping.
type PublishStage string

const (
	StageExpand        PublishStage = "expand"
	StageMerge         PublishStage = "merge"
	StageExistingQuery PublishStage = "existing-query"
	StageRemove        PublishStage = "remove-phase"
	StageInsert        PublishStage = "insert-phase"
	StageTemplateSave  PublishStage = "template-save"
)

// StageError wraps a publish failure with the stage it occurred in.
type StageError struct {
	Stage PublishStage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("publish failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// PartialInsertError reports a bulk slot insert that only partly succeeded.
// Inserted rows are durable; the counts say exactly how many landed.
type PartialInsertError struct {
	Succeeded int
	Failed    int
	Err       error
}

func (e *PartialInsertError) Error() string {
	return fmt.Sprintf("slot insert partially failed: %d inserted, %d failed: %v", e.Succeeded, e.Failed, e.Err)
}

func (e *PartialInsertError) Unwrap() error { return e.Err }
