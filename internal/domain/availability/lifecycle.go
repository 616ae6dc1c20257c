package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// History actions written by lifecycle transitions.
const (
	historyReserved = "reserved"
	historyBooked   = "booked"
	historyReleased = "released"
)

const expiredReservationDetail = "Reservation expired"

// Lifecycle drives slot state transitions. Every transition is a single
// conditional write against the state the caller observed, so two concurrent
// callers can both read Available but only one transition succeeds; the loser
// gets ErrSlotUnavailable.
type Lifecycle struct {
	slots      SlotRepository
	defaultTTL time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

func NewLifecycle(slots SlotRepository, defaultTTL time.Duration, logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		slots:      slots,
		defaultTTL: defaultTTL,
		logger:     logger.With().Str("component", "slot-lifecycle").Logger(),
		now:        time.Now,
	}
}

// Reserve places a temporary hold on an Available slot. A zero ttl uses the
// configured default. A slot whose reservation has already lapsed is released
// in place first, so an expired hold does not block the next patient.
func (l *Lifecycle) Reserve(ctx context.Context, slotID, patientID uuid.UUID, ttl time.Duration) (*Slot, error) {
	if ttl < 0 {
		return nil, fmt.Errorf("%w: reservation ttl must not be negative", ErrValidation)
	}
	if ttl == 0 {
		ttl = l.defaultTTL
	}

	slot, err := l.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if l.reservationLapsed(slot) {
		if err := l.releaseExpired(ctx, slot); err != nil && !errors.Is(err, ErrSlotUnavailable) {
			return nil, err
		}
		slot, err = l.slots.GetByID(ctx, slotID)
		if err != nil {
			return nil, err
		}
	}
	if slot.State != SlotAvailable {
		return nil, ErrSlotUnavailable
	}

	now := l.now().UTC()
	expires := now.Add(ttl)
	slot.State = SlotReserved
	slot.ReservedBy = &patientID
	slot.ReservedAt = &now
	slot.ReservationExpires = &expires
	slot.AppendHistory(HistoryEntry{
		At:         now,
		Action:     historyReserved,
		PriorState: SlotAvailable,
		PatientID:  &patientID,
	})

	if err := l.slots.UpdateIfState(ctx, slot, SlotAvailable); err != nil {
		return nil, err
	}
	l.logger.Info().Str("slot_id", slotID.String()).Str("patient_id", patientID.String()).
		Time("expires", expires).Msg("slot reserved")
	return slot, nil
}

// Book finalizes a slot into an appointment. Valid from Available or
// Reserved; a lapsed reservation does not block booking because booking
// supersedes the hold.
func (l *Lifecycle) Book(ctx context.Context, slotID uuid.UUID, appointmentRef string, patientID uuid.UUID) (*Slot, error) {
	if appointmentRef == "" {
		return nil, fmt.Errorf("%w: appointment reference is required", ErrValidation)
	}

	slot, err := l.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.State == SlotBooked {
		return nil, ErrSlotUnavailable
	}

	now := l.now().UTC()
	prior := slot.State
	slot.State = SlotBooked
	slot.AppointmentRef = &appointmentRef
	slot.BookedBy = &patientID
	slot.ReservationExpires = nil
	slot.AppendHistory(HistoryEntry{
		At:             now,
		Action:         historyBooked,
		PriorState:     prior,
		PatientID:      &patientID,
		AppointmentRef: &appointmentRef,
	})

	if err := l.slots.UpdateIfState(ctx, slot, prior); err != nil {
		return nil, err
	}
	l.logger.Info().Str("slot_id", slotID.String()).Str("appointment_ref", appointmentRef).
		Msg("slot booked")
	return slot, nil
}

// Release returns a slot to Available from any state, recording who held it
// and why it was released. Releasing an Available slot is a no-op write that
// still appends the audit entry.
func (l *Lifecycle) Release(ctx context.Context, slotID uuid.UUID, reason string) (*Slot, error) {
	slot, err := l.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if err := l.release(ctx, slot, reason); err != nil {
		return nil, err
	}
	l.logger.Info().Str("slot_id", slotID.String()).Str("reason", reason).Msg("slot released")
	return slot, nil
}

// release transitions the given slot snapshot back to Available, conditioned
// on the snapshot's state still holding.
func (l *Lifecycle) release(ctx context.Context, slot *Slot, reason string) error {
	now := l.now().UTC()
	entry := HistoryEntry{
		At:         now,
		Action:     historyReleased,
		Detail:     reason,
		PriorState: slot.State,
	}
	if slot.ReservedBy != nil {
		entry.PatientID = slot.ReservedBy
	} else if slot.BookedBy != nil {
		entry.PatientID = slot.BookedBy
	}
	if slot.AppointmentRef != nil {
		entry.AppointmentRef = slot.AppointmentRef
	}

	prior := slot.State
	slot.State = SlotAvailable
	slot.ReservedBy = nil
	slot.ReservedAt = nil
	slot.ReservationExpires = nil
	slot.AppointmentRef = nil
	slot.BookedBy = nil
	slot.AppendHistory(entry)

	return l.slots.UpdateIfState(ctx, slot, prior)
}

func (l *Lifecycle) releaseExpired(ctx context.Context, slot *Slot) error {
	return l.release(ctx, slot, expiredReservationDetail)
}

// reservationLapsed reports whether the slot holds an expired, unbooked
// reservation.
func (l *Lifecycle) reservationLapsed(slot *Slot) bool {
	return slot.State == SlotReserved &&
		slot.AppointmentRef == nil &&
		slot.ReservationExpires != nil &&
		!slot.ReservationExpires.After(l.now())
}

// SweepExpired releases every lapsed reservation and returns how many it
// released. Holds that a concurrent booking or release already resolved are
// skipped, so overlapping sweeps are harmless.
func (l *Lifecycle) SweepExpired(ctx context.Context) (int, error) {
	expired, err := l.slots.ListExpiredReservations(ctx, l.now().UTC())
	if err != nil {
		return 0, err
	}

	released := 0
	for _, slot := range expired {
		if err := l.releaseExpired(ctx, slot); err != nil {
			if errors.Is(err, ErrSlotUnavailable) {
				continue
			}
			return released, err
		}
		released++
	}
	if released > 0 {
		l.logger.Info().Int("released", released).Msg("expired reservations swept")
	}
	return released, nil
}
