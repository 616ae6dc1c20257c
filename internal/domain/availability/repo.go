package availability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TemplateRepository persists weekly availability templates.
type TemplateRepository interface {
	// GetByDoctor returns the doctor's active template, ErrNotFound if none.
	GetByDoctor(ctx context.Context, doctorID uuid.UUID) (*AvailabilityTemplate, error)
	// Create inserts a new template.
	Create(ctx context.Context, t *AvailabilityTemplate) error
	// UpdateVersioned replaces the rules and bumps the version, but only if
	// the stored version still equals expectedVersion. A lost race returns
	// ErrConflict; a missing template returns ErrNotFound.
	UpdateVersioned(ctx context.Context, doctorID uuid.UUID, expectedVersion int, rules json.RawMessage) (*AvailabilityTemplate, error)
}

// ExceptionRepository persists one-off availability overrides.
type ExceptionRepository interface {
	Create(ctx context.Context, e *AvailabilityException) error
	// Delete removes the doctor's exception, ErrNotFound if absent.
	Delete(ctx context.Context, doctorID, id uuid.UUID) error
	// ListByDoctor returns the doctor's exceptions ordered by date then
	// creation time. Nil bounds leave that side of the window open.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to *time.Time) ([]*AvailabilityException, error)
}

// SlotRepository persists bookable slots and their lifecycle state.
type SlotRepository interface {
	Create(ctx context.Context, s *Slot) error
	// CreateBatch inserts slots in one round trip. On failure it returns how
	// many inserts landed before the error.
	CreateBatch(ctx context.Context, slots []*Slot) (int, error)
	// GetByID returns the slot, ErrNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// ListByDoctorWindow returns all of the doctor's slots with dates in
	// [from, to], any state, ordered by date then start time.
	ListByDoctorWindow(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Slot, error)
	// ListAvailable returns a page of the doctor's Available slots in the
	// window plus the total count of matches.
	ListAvailable(ctx context.Context, doctorID uuid.UUID, from, to time.Time, limit, offset int) ([]*Slot, int, error)
	// DeleteIfAvailable removes the slot only while it is still Available and
	// reports whether a row was deleted.
	DeleteIfAvailable(ctx context.Context, id uuid.UUID) (bool, error)
	// UpdateIfState writes the slot's mutable fields only if the stored state
	// still equals expected. A lost race returns ErrSlotUnavailable.
	UpdateIfState(ctx context.Context, s *Slot, expected SlotState) error
	// ListExpiredReservations returns Reserved slots with no appointment
	// whose reservation deadline is at or before now.
	ListExpiredReservations(ctx context.Context, now time.Time) ([]*Slot, error)
}
