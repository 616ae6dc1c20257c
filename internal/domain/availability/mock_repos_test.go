package availability

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

type mockTemplateRepo struct {
	templates    map[uuid.UUID]*AvailabilityTemplate
	beforeUpdate func()
}

func newMockTemplateRepo() *mockTemplateRepo {
	return &mockTemplateRepo{templates: map[uuid.UUID]*AvailabilityTemplate{}}
}

func (m *mockTemplateRepo) GetByDoctor(_ context.Context, doctorID uuid.UUID) (*AvailabilityTemplate, error) {
	t, ok := m.templates[doctorID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTemplateRepo) Create(_ context.Context, t *AvailabilityTemplate) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Active = true
	cp := *t
	m.templates[t.DoctorID] = &cp
	return nil
}

func (m *mockTemplateRepo) UpdateVersioned(_ context.Context, doctorID uuid.UUID, expectedVersion int, rules json.RawMessage) (*AvailabilityTemplate, error) {
	if m.beforeUpdate != nil {
		m.beforeUpdate()
	}
	t, ok := m.templates[doctorID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Version != expectedVersion {
		return nil, ErrConflict
	}
	t.Version++
	t.Rules = rules
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, nil
}

type mockExceptionRepo struct {
	exceptions []*AvailabilityException
	listErr    error
}

func newMockExceptionRepo() *mockExceptionRepo {
	return &mockExceptionRepo{}
}

func (m *mockExceptionRepo) Create(_ context.Context, e *AvailabilityException) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()
	cp := *e
	m.exceptions = append(m.exceptions, &cp)
	return nil
}

func (m *mockExceptionRepo) Delete(_ context.Context, doctorID, id uuid.UUID) error {
	for i, e := range m.exceptions {
		if e.ID == id && e.DoctorID == doctorID {
			m.exceptions = append(m.exceptions[:i], m.exceptions[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockExceptionRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, from, to *time.Time) ([]*AvailabilityException, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*AvailabilityException
	for _, e := range m.exceptions {
		if e.DoctorID != doctorID {
			continue
		}
		if from != nil && e.Date.Before(DateOnly(*from)) {
			continue
		}
		if to != nil && e.Date.After(DateOnly(*to)) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type mockSlotRepo struct {
	slots     map[uuid.UUID]*Slot
	batchErr  error
	createErr func(s *Slot) error
	listErr   error
}

func newMockSlotRepo() *mockSlotRepo {
	return &mockSlotRepo{slots: map[uuid.UUID]*Slot{}}
}

func (m *mockSlotRepo) insert(s *Slot) error {
	for _, existing := range m.slots {
		if existing.DoctorID == s.DoctorID && SameDate(existing.Date, s.Date) && existing.StartTime == s.StartTime {
			return errors.New("duplicate slot identity")
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	m.slots[s.ID] = &cp
	return nil
}

func (m *mockSlotRepo) Create(_ context.Context, s *Slot) error {
	if m.createErr != nil {
		if err := m.createErr(s); err != nil {
			return err
		}
	}
	return m.insert(s)
}

func (m *mockSlotRepo) CreateBatch(_ context.Context, slots []*Slot) (int, error) {
	if m.batchErr != nil {
		return 0, m.batchErr
	}
	for i, s := range slots {
		if err := m.insert(s); err != nil {
			return i, err
		}
	}
	return len(slots), nil
}

func (m *mockSlotRepo) GetByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	s, ok := m.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.History = append([]HistoryEntry(nil), s.History...)
	return &cp, nil
}

func (m *mockSlotRepo) sorted(filter func(*Slot) bool) []*Slot {
	var out []*Slot
	for _, s := range m.slots {
		if filter(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (m *mockSlotRepo) ListByDoctorWindow(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Slot, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.sorted(func(s *Slot) bool {
		return s.DoctorID == doctorID && !s.Date.Before(DateOnly(from)) && !s.Date.After(DateOnly(to))
	}), nil
}

func (m *mockSlotRepo) ListAvailable(_ context.Context, doctorID uuid.UUID, from, to time.Time, limit, offset int) ([]*Slot, int, error) {
	all := m.sorted(func(s *Slot) bool {
		return s.DoctorID == doctorID && s.State == SlotAvailable &&
			!s.Date.Before(DateOnly(from)) && !s.Date.After(DateOnly(to))
	})
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockSlotRepo) DeleteIfAvailable(_ context.Context, id uuid.UUID) (bool, error) {
	s, ok := m.slots[id]
	if !ok || s.State != SlotAvailable {
		return false, nil
	}
	delete(m.slots, id)
	return true, nil
}

func (m *mockSlotRepo) UpdateIfState(_ context.Context, s *Slot, expected SlotState) error {
	stored, ok := m.slots[s.ID]
	if !ok || stored.State != expected {
		return ErrSlotUnavailable
	}
	cp := *s
	cp.History = append([]HistoryEntry(nil), s.History...)
	m.slots[s.ID] = &cp
	return nil
}

func (m *mockSlotRepo) ListExpiredReservations(_ context.Context, now time.Time) ([]*Slot, error) {
	return m.sorted(func(s *Slot) bool {
		return s.State == SlotReserved && s.AppointmentRef == nil &&
			s.ReservationExpires != nil && !s.ReservationExpires.After(now)
	}), nil
}
