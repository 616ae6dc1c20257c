package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medsched/medsched/internal/platform/slothash"
)

// emptyRules is the rule document of a lazily created template.
var emptyRules = json.RawMessage(`{"weekdays":{}}`)

// Service owns template authoring, preview and the publish pipeline.
type Service struct {
	templates  TemplateRepository
	exceptions ExceptionRepository
	slots      SlotRepository
	lifecycle  *Lifecycle
	hasher     *slothash.Hasher
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(
	templates TemplateRepository,
	exceptions ExceptionRepository,
	slots SlotRepository,
	lifecycle *Lifecycle,
	hasher *slothash.Hasher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		templates:  templates,
		exceptions: exceptions,
		slots:      slots,
		lifecycle:  lifecycle,
		hasher:     hasher,
		logger:     logger.With().Str("component", "availability").Logger(),
		now:        time.Now,
	}
}

// GetTemplate returns the doctor's active template, creating an empty
// version 0 template on first access so editors always have a base version
// to publish against.
func (s *Service) GetTemplate(ctx context.Context, doctorID uuid.UUID) (*AvailabilityTemplate, error) {
	t, err := s.templates.GetByDoctor(ctx, doctorID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	t = &AvailabilityTemplate{
		DoctorID: doctorID,
		Version:  0,
		Rules:    emptyRules,
		TimeZone: "UTC",
	}
	if err := s.templates.Create(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor_id", doctorID.String()).Msg("created empty availability template")
	return t, nil
}

// PreviewSlot is one dry-run candidate with its persistence type.
type PreviewSlot struct {
	Date     time.Time `json:"date"`
	Start    string    `json:"start_time"`
	End      string    `json:"end_time"`
	SlotType string    `json:"slot_type"`
}

// PreviewConflict flags a candidate whose identity is already taken by a
// booked slot; publishing would keep the booked slot, not the candidate.
type PreviewConflict struct {
	Date          time.Time `json:"date"`
	Start         string    `json:"start_time"`
	ExistingState SlotState `json:"existing_state"`
}

// PreviewSummary aggregates a preview by generation path.
type PreviewSummary struct {
	Total     int `json:"total"`
	Rule      int `json:"rule"`
	Added     int `json:"added"`
	Modified  int `json:"modified"`
	Conflicts int `json:"conflicts"`
}

// PreviewResult is the outcome of a dry-run expansion.
type PreviewResult struct {
	Slots     []PreviewSlot     `json:"slots"`
	Conflicts []PreviewConflict `json:"conflicts"`
	Summary   PreviewSummary    `json:"summary"`
}

// PreviewTemplate expands candidate rules over a window without writing
// anything. Stored exceptions are applied and collisions with already booked
// slots are reported as conflicts.
func (s *Service) PreviewTemplate(ctx context.Context, doctorID uuid.UUID, rawRules json.RawMessage, from, to time.Time) (*PreviewResult, error) {
	if err := validateWindow(from, to); err != nil {
		return nil, err
	}
	rules, err := ParseWeeklyRules(rawRules)
	if err != nil {
		return nil, err
	}

	candidates := rules.Expand(from, to)
	exceptions, err := s.exceptions.ListByDoctor(ctx, doctorID, &from, &to)
	if err != nil {
		return nil, err
	}
	candidates = ApplyExceptions(candidates, exceptions)

	existing, err := s.slots.ListByDoctorWindow(ctx, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	booked := map[slotKey]SlotState{}
	for _, slot := range existing {
		if slot.State == SlotBooked {
			booked[keyOf(slot.Date, slot.StartTime)] = slot.State
		}
	}

	result := &PreviewResult{Slots: []PreviewSlot{}, Conflicts: []PreviewConflict{}}
	for _, c := range candidates {
		result.Slots = append(result.Slots, PreviewSlot{Date: c.Date, Start: c.Start, End: c.End, SlotType: c.SlotType()})
		switch c.SlotType() {
		case SlotTypeAdded:
			result.Summary.Added++
		case SlotTypeModified:
			result.Summary.Modified++
		default:
			result.Summary.Rule++
		}
		if state, ok := booked[keyOf(c.Date, c.Start)]; ok {
			result.Conflicts = append(result.Conflicts, PreviewConflict{Date: c.Date, Start: c.Start, ExistingState: state})
		}
	}
	result.Summary.Total = len(result.Slots)
	result.Summary.Conflicts = len(result.Conflicts)
	return result, nil
}

// PublishResult reports what a publish changed.
type PublishResult struct {
	Added      int `json:"added"`
	Kept       int `json:"kept"`
	Removed    int `json:"removed"`
	NewVersion int `json:"new_version"`
}

// PublishTemplate validates the rules, materializes slots over the window and
// saves the rules as the template's next version.
//
// The version check runs twice: once up front against baseVersion to reject
// stale editors before any write, and once more in the conditional template
// update at the end. Slot writes are not transactional with the version bump;
// if the final update loses a race, inserted slots remain durable and the
// caller gets a conflict naming the winning version.
func (s *Service) PublishTemplate(ctx context.Context, doctorID uuid.UUID, rawRules json.RawMessage, baseVersion int, from, to time.Time, mode RegenerateMode) (*PublishResult, error) {
	if err := validateWindow(from, to); err != nil {
		return nil, err
	}
	if mode != AppendMissing && mode != ReplaceUnbooked {
		return nil, fmt.Errorf("%w: unknown regenerate mode %q", ErrValidation, mode)
	}

	tmpl, err := s.templates.GetByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if tmpl.Version != baseVersion {
		return nil, &ConflictError{CurrentVersion: tmpl.Version, CurrentRules: tmpl.Rules}
	}

	rules, err := ParseWeeklyRules(rawRules)
	if err != nil {
		return nil, err
	}
	candidates := rules.Expand(from, to)

	exceptions, err := s.exceptions.ListByDoctor(ctx, doctorID, &from, &to)
	if err != nil {
		return nil, &StageError{Stage: StageMerge, Err: err}
	}
	candidates = ApplyExceptions(candidates, exceptions)

	// Collapse to persistent identity (doctor, date, start). Later duplicates
	// of the same identity in the candidate stream are dropped here.
	desired := map[slotKey]Candidate{}
	var order []slotKey
	for _, c := range candidates {
		k := keyOf(c.Date, c.Start)
		if _, ok := desired[k]; !ok {
			desired[k] = c
			order = append(order, k)
		}
	}

	existing, err := s.slots.ListByDoctorWindow(ctx, doctorID, from, to)
	if err != nil {
		return nil, &StageError{Stage: StageExistingQuery, Err: err}
	}
	existingByKey := map[slotKey]*Slot{}
	for _, slot := range existing {
		existingByKey[keyOf(slot.Date, slot.StartTime)] = slot
	}

	result := &PublishResult{}
	if mode == ReplaceUnbooked {
		for _, slot := range existing {
			if _, wanted := desired[keyOf(slot.Date, slot.StartTime)]; wanted {
				continue
			}
			if slot.State != SlotAvailable {
				continue
			}
			deleted, err := s.slots.DeleteIfAvailable(ctx, slot.ID)
			if err != nil {
				return nil, &StageError{Stage: StageRemove, Err: err}
			}
			// A reservation racing the delete wins; the slot just stays.
			if deleted {
				result.Removed++
			}
		}
	}

	newVersion := baseVersion + 1
	var toInsert []*Slot
	for _, k := range order {
		if _, ok := existingByKey[k]; ok {
			result.Kept++
			continue
		}
		c := desired[k]
		toInsert = append(toInsert, &Slot{
			DoctorID:              doctorID,
			Date:                  c.Date,
			StartTime:             c.Start,
			EndTime:               c.End,
			State:                 SlotAvailable,
			SlotType:              c.SlotType(),
			SourceTemplateVersion: newVersion,
			SlotHash:              s.hasher.Hash(doctorID.String(), c.Date, c.Start, c.End),
		})
	}

	if len(toInsert) > 0 {
		inserted, err := s.slots.CreateBatch(ctx, toInsert)
		if err != nil {
			s.logger.Warn().Err(err).Int("inserted", inserted).Int("total", len(toInsert)).
				Msg("bulk slot insert failed, retrying remaining rows one by one")
			retried, retryErr := s.insertOneByOne(ctx, toInsert[inserted:])
			inserted += retried
			if retryErr != nil {
				var partial *PartialInsertError
				if errors.As(retryErr, &partial) {
					partial.Succeeded = inserted
				}
				return nil, &StageError{Stage: StageInsert, Err: retryErr}
			}
		}
		result.Added = inserted
	}

	updated, err := s.templates.UpdateVersioned(ctx, doctorID, baseVersion, rawRules)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			conflict := &ConflictError{CurrentVersion: baseVersion}
			if current, getErr := s.templates.GetByDoctor(ctx, doctorID); getErr == nil {
				conflict.CurrentVersion = current.Version
				conflict.CurrentRules = current.Rules
			}
			s.logger.Warn().Str("doctor_id", doctorID.String()).Int("added", result.Added).
				Msg("template version race after slot writes, inserted slots remain")
			return nil, &StageError{Stage: StageTemplateSave, Err: conflict}
		}
		return nil, &StageError{Stage: StageTemplateSave, Err: err}
	}
	result.NewVersion = updated.Version

	s.logger.Info().Str("doctor_id", doctorID.String()).Int("version", result.NewVersion).
		Int("added", result.Added).Int("kept", result.Kept).Int("removed", result.Removed).
		Str("mode", string(mode)).Msg("published availability template")
	return result, nil
}

// insertOneByOne retries a failed bulk insert row by row so one bad row does
// not discard the rest. Any failure surfaces as a PartialInsertError with
// exact counts.
func (s *Service) insertOneByOne(ctx context.Context, slots []*Slot) (int, error) {
	var succeeded, failed int
	var firstErr error
	for _, slot := range slots {
		if err := s.slots.Create(ctx, slot); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		succeeded++
	}
	if failed > 0 {
		return succeeded, &PartialInsertError{Succeeded: succeeded, Failed: failed, Err: firstErr}
	}
	return succeeded, nil
}

// CreateException validates and stores a one-off override.
func (s *Service) CreateException(ctx context.Context, e *AvailabilityException) error {
	if e.Date.IsZero() {
		return fmt.Errorf("%w: exception date is required", ErrValidation)
	}
	if !validExceptionKinds[e.Kind] {
		return fmt.Errorf("%w: unknown exception kind %q", ErrValidation, e.Kind)
	}
	switch e.Kind {
	case ExceptionAddSlots:
		if len(e.AddSlots) == 0 {
			return fmt.Errorf("%w: add_slots exception needs at least one slot", ErrValidation)
		}
		for _, b := range e.AddSlots {
			if err := validateBlock(b.Start, b.End); err != nil {
				return fmt.Errorf("%w: %v", ErrValidation, err)
			}
		}
	case ExceptionModify:
		if len(e.Modifications) == 0 {
			return fmt.Errorf("%w: modify exception needs at least one modification", ErrValidation)
		}
		for _, m := range e.Modifications {
			if _, err := parseClock(m.OriginalStart); err != nil {
				return fmt.Errorf("%w: %v", ErrValidation, err)
			}
			if err := validateBlock(m.Start, m.End); err != nil {
				return fmt.Errorf("%w: %v", ErrValidation, err)
			}
		}
	}
	e.Date = DateOnly(e.Date)
	return s.exceptions.Create(ctx, e)
}

// DeleteException removes a stored override. Already generated slots are not
// touched; the change only affects future publishes.
func (s *Service) DeleteException(ctx context.Context, doctorID, id uuid.UUID) error {
	return s.exceptions.Delete(ctx, doctorID, id)
}

// ListExceptions returns the doctor's overrides, optionally windowed.
func (s *Service) ListExceptions(ctx context.Context, doctorID uuid.UUID, from, to *time.Time) ([]*AvailabilityException, error) {
	return s.exceptions.ListByDoctor(ctx, doctorID, from, to)
}

// ListPublishedSlots returns a page of the doctor's Available slots in the
// window. Expired reservations are swept first so lapsed holds show up as
// available again without waiting for the background sweep.
func (s *Service) ListPublishedSlots(ctx context.Context, doctorID uuid.UUID, from, to time.Time, limit, offset int) ([]*Slot, int, error) {
	if err := validateWindow(from, to); err != nil {
		return nil, 0, err
	}
	if _, err := s.lifecycle.SweepExpired(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("lazy reservation sweep failed")
	}
	return s.slots.ListAvailable(ctx, doctorID, from, to, limit, offset)
}

type slotKey struct {
	date  string
	start string
}

func keyOf(date time.Time, start string) slotKey {
	return slotKey{date: DateOnly(date).Format("2006-01-02"), start: start}
}

func validateWindow(from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return fmt.Errorf("%w: window bounds are required", ErrValidation)
	}
	if DateOnly(from).After(DateOnly(to)) {
		return fmt.Errorf("%w: window start is after window end", ErrValidation)
	}
	return nil
}
