package availability

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Weekday is a three-letter weekday code used in rule JSON (MON..SUN).
type Weekday string

const (
	Monday    Weekday = "MON"
	Tuesday   Weekday = "TUE"
	Wednesday Weekday = "WED"
	Thursday  Weekday = "THU"
	Friday    Weekday = "FRI"
	Saturday  Weekday = "SAT"
	Sunday    Weekday = "SUN"
)

var weekdayCodes = map[time.Weekday]Weekday{
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
	time.Saturday:  Saturday,
	time.Sunday:    Sunday,
}

var validWeekdays = map[Weekday]bool{
	Monday: true, Tuesday: true, Wednesday: true, Thursday: true,
	Friday: true, Saturday: true, Sunday: true,
}

// WeekdayOf returns the rule code for a calendar date.
func WeekdayOf(t time.Time) Weekday {
	return weekdayCodes[t.Weekday()]
}

// TimeBlock is a [start, end) interval within a day, as "HH:MM" strings.
type TimeBlock struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Break suppresses candidates intersecting its interval on one weekday.
type Break struct {
	Weekday Weekday `json:"weekday"`
	Start   string  `json:"start"`
	End     string  `json:"end"`
}

// WeeklyRules is the typed form of a template's rule JSON. Malformed input is
// rejected by ParseWeeklyRules, so code past the parse can index times freely.
type WeeklyRules struct {
	WeekdayBlocks     map[Weekday][]TimeBlock `json:"weekdays"`
	SlotLengthMinutes int                     `json:"slotLengthMinutes"`
	BufferMinutes     int                     `json:"bufferMinutes"`
	Breaks            []Break                 `json:"breaks,omitempty"`
}

// AvailabilityTemplate maps to the availability_template table. At most one
// active template exists per doctor; version only ever increases and is bumped
// exactly once per successful publish.
type AvailabilityTemplate struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	DoctorID  uuid.UUID       `db:"doctor_id" json:"doctor_id"`
	Version   int             `db:"version" json:"version"`
	Rules     json.RawMessage `db:"rules" json:"rules"`
	TimeZone  string          `db:"time_zone" json:"time_zone"`
	Active    bool            `db:"active" json:"active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// GetVersionID returns the current version.
func (t *AvailabilityTemplate) GetVersionID() int { return t.Version }

// SetVersionID sets the current version.
func (t *AvailabilityTemplate) SetVersionID(v int) { t.Version = v }

// ExceptionKind discriminates the three one-off override types.
type ExceptionKind string

const (
	ExceptionBlackout ExceptionKind = "blackout"
	ExceptionAddSlots ExceptionKind = "add_slots"
	ExceptionModify   ExceptionKind = "modify"
)

var validExceptionKinds = map[ExceptionKind]bool{
	ExceptionBlackout: true, ExceptionAddSlots: true, ExceptionModify: true,
}

// SlotModification replaces one rule-generated slot's time with another.
type SlotModification struct {
	OriginalStart string `json:"originalStart"`
	Start         string `json:"start"`
	End           string `json:"end"`
}

// AvailabilityException maps to the availability_exception table. Exceptions
// are immutable once created (delete-only) and independent of template version;
// they are applied at generation time, never joined at storage time.
type AvailabilityException struct {
	ID            uuid.UUID          `db:"id" json:"id"`
	DoctorID      uuid.UUID          `db:"doctor_id" json:"doctor_id"`
	Date          time.Time          `db:"exception_date" json:"date"`
	Kind          ExceptionKind      `db:"kind" json:"kind"`
	AddSlots      []TimeBlock        `json:"add_slots,omitempty"`
	Modifications []SlotModification `json:"modifications,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
}

// SlotState is the lifecycle state of a persisted slot.
type SlotState string

const (
	SlotAvailable SlotState = "available"
	SlotReserved  SlotState = "reserved"
	SlotBooked    SlotState = "booked"
)

// Slot type records which generation path produced a slot.
const (
	SlotTypeRule     = "rule"
	SlotTypeAdded    = "added"
	SlotTypeModified = "modified"
)

// RegenerateMode selects what the publisher does with persisted slots that are
// absent from a freshly computed candidate set.
type RegenerateMode string

const (
	// AppendMissing only inserts candidates that do not exist yet.
	AppendMissing RegenerateMode = "append_missing"
	// ReplaceUnbooked additionally deletes still-Available slots that the new
	// rules no longer generate. Reserved and Booked slots are never touched.
	ReplaceUnbooked RegenerateMode = "replace_unbooked"
)

// HistoryEntry is one element of a slot's append-only transition log.
type HistoryEntry struct {
	At             time.Time  `json:"at"`
	Action         string     `json:"action"`
	Detail         string     `json:"detail,omitempty"`
	PriorState     SlotState  `json:"prior_state,omitempty"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty"`
	AppointmentRef *string    `json:"appointment_ref,omitempty"`
}

// Slot maps to the slot table. Identity is (doctor_id, slot_date, start_time);
// a slot is created by the publisher and mutated afterwards only through
// lifecycle transitions.
type Slot struct {
	ID                    uuid.UUID      `db:"id" json:"id"`
	DoctorID              uuid.UUID      `db:"doctor_id" json:"doctor_id"`
	Date                  time.Time      `db:"slot_date" json:"date"`
	StartTime             string         `db:"start_time" json:"start_time"`
	EndTime               string         `db:"end_time" json:"end_time"`
	State                 SlotState      `db:"state" json:"state"`
	SlotType              string         `db:"slot_type" json:"slot_type"`
	SourceTemplateVersion int            `db:"source_template_version" json:"source_template_version"`
	SlotHash              string         `db:"slot_hash" json:"slot_hash"`
	ReservedBy            *uuid.UUID     `db:"reserved_by" json:"reserved_by,omitempty"`
	ReservedAt            *time.Time     `db:"reserved_at" json:"reserved_at,omitempty"`
	ReservationExpires    *time.Time     `db:"reservation_expires" json:"reservation_expires,omitempty"`
	AppointmentRef        *string        `db:"appointment_ref" json:"appointment_ref,omitempty"`
	BookedBy              *uuid.UUID     `db:"booked_by" json:"booked_by,omitempty"`
	History               []HistoryEntry `db:"history" json:"history,omitempty"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updated_at"`
}

// AppendHistory records a lifecycle transition on the slot.
func (s *Slot) AppendHistory(e HistoryEntry) {
	s.History = append(s.History, e)
}

// Candidate is one generated (not yet persisted) slot for a concrete date.
type Candidate struct {
	Date     time.Time `json:"date"`
	Start    string    `json:"start_time"`
	End      string    `json:"end_time"`
	Added    bool      `json:"added,omitempty"`
	Modified bool      `json:"modified,omitempty"`
}

// SlotType maps the candidate's exception tags to a persisted slot type.
func (c Candidate) SlotType() string {
	switch {
	case c.Added:
		return SlotTypeAdded
	case c.Modified:
		return SlotTypeModified
	default:
		return SlotTypeRule
	}
}

// DateOnly truncates a timestamp to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether two timestamps fall on the same UTC calendar date.
func SameDate(a, b time.Time) bool {
	return DateOnly(a).Equal(DateOnly(b))
}
