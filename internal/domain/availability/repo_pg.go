package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgTemplateRepository is the PostgreSQL TemplateRepository.
type PgTemplateRepository struct {
	pool *pgxpool.Pool
}

func NewPgTemplateRepository(pool *pgxpool.Pool) *PgTemplateRepository {
	return &PgTemplateRepository{pool: pool}
}

const templateColumns = `id, doctor_id, version, rules, time_zone, active, created_at, updated_at`

func scanTemplate(row pgx.Row) (*AvailabilityTemplate, error) {
	var t AvailabilityTemplate
	err := row.Scan(&t.ID, &t.DoctorID, &t.Version, &t.Rules, &t.TimeZone, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PgTemplateRepository) GetByDoctor(ctx context.Context, doctorID uuid.UUID) (*AvailabilityTemplate, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+templateColumns+`
		FROM availability_template
		WHERE doctor_id = $1 AND active`, doctorID)
	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (r *PgTemplateRepository) Create(ctx context.Context, t *AvailabilityTemplate) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Active = true
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_template (id, doctor_id, version, rules, time_zone, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.DoctorID, t.Version, t.Rules, t.TimeZone, t.Active, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (r *PgTemplateRepository) UpdateVersioned(ctx context.Context, doctorID uuid.UUID, expectedVersion int, rules json.RawMessage) (*AvailabilityTemplate, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE availability_template
		SET rules = $3, version = version + 1, updated_at = NOW()
		WHERE doctor_id = $1 AND active AND version = $2
		RETURNING `+templateColumns,
		doctorID, expectedVersion, rules)
	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing template from a lost version race.
		if _, getErr := r.GetByDoctor(ctx, doctorID); errors.Is(getErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return t, nil
}

// PgExceptionRepository is the PostgreSQL ExceptionRepository.
type PgExceptionRepository struct {
	pool *pgxpool.Pool
}

func NewPgExceptionRepository(pool *pgxpool.Pool) *PgExceptionRepository {
	return &PgExceptionRepository{pool: pool}
}

type exceptionPayload struct {
	AddSlots      []TimeBlock        `json:"add_slots,omitempty"`
	Modifications []SlotModification `json:"modifications,omitempty"`
}

func (r *PgExceptionRepository) Create(ctx context.Context, e *AvailabilityException) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()
	payload, err := json.Marshal(exceptionPayload{AddSlots: e.AddSlots, Modifications: e.Modifications})
	if err != nil {
		return fmt.Errorf("encode exception payload: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO availability_exception (id, doctor_id, exception_date, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.DoctorID, DateOnly(e.Date), e.Kind, payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create exception: %w", err)
	}
	return nil
}

func (r *PgExceptionRepository) Delete(ctx context.Context, doctorID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability_exception
		WHERE id = $1 AND doctor_id = $2`, id, doctorID)
	if err != nil {
		return fmt.Errorf("delete exception: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgExceptionRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to *time.Time) ([]*AvailabilityException, error) {
	query := `
		SELECT id, doctor_id, exception_date, kind, payload, created_at
		FROM availability_exception
		WHERE doctor_id = $1`
	args := []any{doctorID}
	if from != nil {
		args = append(args, DateOnly(*from))
		query += fmt.Sprintf(" AND exception_date >= $%d", len(args))
	}
	if to != nil {
		args = append(args, DateOnly(*to))
		query += fmt.Sprintf(" AND exception_date <= $%d", len(args))
	}
	query += " ORDER BY exception_date, created_at"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	defer rows.Close()

	var out []*AvailabilityException
	for rows.Next() {
		var e AvailabilityException
		var payload []byte
		if err := rows.Scan(&e.ID, &e.DoctorID, &e.Date, &e.Kind, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		var p exceptionPayload
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, fmt.Errorf("decode exception payload: %w", err)
			}
		}
		e.AddSlots = p.AddSlots
		e.Modifications = p.Modifications
		out = append(out, &e)
	}
	return out, rows.Err()
}

// PgSlotRepository is the PostgreSQL SlotRepository.
type PgSlotRepository struct {
	pool *pgxpool.Pool
}

func NewPgSlotRepository(pool *pgxpool.Pool) *PgSlotRepository {
	return &PgSlotRepository{pool: pool}
}

const slotColumns = `id, doctor_id, slot_date, start_time, end_time, state, slot_type,
	source_template_version, slot_hash, reserved_by, reserved_at, reservation_expires,
	appointment_ref, booked_by, history, created_at, updated_at`

const slotInsert = `
	INSERT INTO slot (id, doctor_id, slot_date, start_time, end_time, state, slot_type,
		source_template_version, slot_hash, reserved_by, reserved_at, reservation_expires,
		appointment_ref, booked_by, history, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var history []byte
	err := row.Scan(&s.ID, &s.DoctorID, &s.Date, &s.StartTime, &s.EndTime, &s.State, &s.SlotType,
		&s.SourceTemplateVersion, &s.SlotHash, &s.ReservedBy, &s.ReservedAt, &s.ReservationExpires,
		&s.AppointmentRef, &s.BookedBy, &history, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &s.History); err != nil {
			return nil, fmt.Errorf("decode slot history: %w", err)
		}
	}
	return &s, nil
}

func slotInsertArgs(s *Slot) ([]any, error) {
	history, err := json.Marshal(s.History)
	if err != nil {
		return nil, fmt.Errorf("encode slot history: %w", err)
	}
	return []any{
		s.ID, s.DoctorID, DateOnly(s.Date), s.StartTime, s.EndTime, s.State, s.SlotType,
		s.SourceTemplateVersion, s.SlotHash, s.ReservedBy, s.ReservedAt, s.ReservationExpires,
		s.AppointmentRef, s.BookedBy, history, s.CreatedAt, s.UpdatedAt,
	}, nil
}

func prepareSlotInsert(s *Slot) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.History == nil {
		s.History = []HistoryEntry{}
	}
}

func (r *PgSlotRepository) Create(ctx context.Context, s *Slot) error {
	prepareSlotInsert(s)
	args, err := slotInsertArgs(s)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, slotInsert, args...); err != nil {
		return fmt.Errorf("create slot: %w", err)
	}
	return nil
}

func (r *PgSlotRepository) CreateBatch(ctx context.Context, slots []*Slot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, s := range slots {
		prepareSlotInsert(s)
		args, err := slotInsertArgs(s)
		if err != nil {
			return 0, err
		}
		batch.Queue(slotInsert, args...)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := range slots {
		if _, err := results.Exec(); err != nil {
			return i, fmt.Errorf("batch insert slot %d of %d: %w", i+1, len(slots), err)
		}
	}
	return len(slots), nil
}

func (r *PgSlotRepository) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM slot WHERE id = $1`, id)
	s, err := scanSlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return s, nil
}

func (r *PgSlotRepository) collect(rows pgx.Rows) ([]*Slot, error) {
	defer rows.Close()
	var out []*Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PgSlotRepository) ListByDoctorWindow(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slot
		WHERE doctor_id = $1 AND slot_date BETWEEN $2 AND $3
		ORDER BY slot_date, start_time`,
		doctorID, DateOnly(from), DateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return r.collect(rows)
}

func (r *PgSlotRepository) ListAvailable(ctx context.Context, doctorID uuid.UUID, from, to time.Time, limit, offset int) ([]*Slot, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM slot
		WHERE doctor_id = $1 AND slot_date BETWEEN $2 AND $3 AND state = $4`,
		doctorID, DateOnly(from), DateOnly(to), SlotAvailable).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count available slots: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slot
		WHERE doctor_id = $1 AND slot_date BETWEEN $2 AND $3 AND state = $4
		ORDER BY slot_date, start_time
		LIMIT $5 OFFSET $6`,
		doctorID, DateOnly(from), DateOnly(to), SlotAvailable, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list available slots: %w", err)
	}
	slots, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return slots, total, nil
}

func (r *PgSlotRepository) DeleteIfAvailable(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM slot WHERE id = $1 AND state = $2`, id, SlotAvailable)
	if err != nil {
		return false, fmt.Errorf("delete slot: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateIfState is the single write path for lifecycle transitions. The state
// check in the WHERE clause makes each transition one atomic conditional
// write; zero affected rows means a concurrent writer got there first.
func (r *PgSlotRepository) UpdateIfState(ctx context.Context, s *Slot, expected SlotState) error {
	history, err := json.Marshal(s.History)
	if err != nil {
		return fmt.Errorf("encode slot history: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE slot
		SET state = $3, reserved_by = $4, reserved_at = $5, reservation_expires = $6,
			appointment_ref = $7, booked_by = $8, history = $9, updated_at = NOW()
		WHERE id = $1 AND state = $2`,
		s.ID, expected, s.State, s.ReservedBy, s.ReservedAt, s.ReservationExpires,
		s.AppointmentRef, s.BookedBy, history)
	if err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotUnavailable
	}
	return nil
}

func (r *PgSlotRepository) ListExpiredReservations(ctx context.Context, now time.Time) ([]*Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slot
		WHERE state = $1 AND appointment_ref IS NULL AND reservation_expires <= $2
		ORDER BY reservation_expires`,
		SlotReserved, now)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	return r.collect(rows)
}
