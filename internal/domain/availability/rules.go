package availability

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const defaultSlotLengthMinutes = 30

// ParseWeeklyRules decodes and validates rule JSON. Defaults are applied here
// (slot length 30, buffer 0), so the returned rules are always complete.
func ParseWeeklyRules(raw json.RawMessage) (*WeeklyRules, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: rules are required", ErrValidation)
	}

	var rules WeeklyRules
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("%w: malformed rules JSON: %v", ErrValidation, err)
	}

	if rules.SlotLengthMinutes == 0 {
		rules.SlotLengthMinutes = defaultSlotLengthMinutes
	}
	if rules.SlotLengthMinutes < 0 {
		return nil, fmt.Errorf("%w: slotLengthMinutes must be positive", ErrValidation)
	}
	if rules.BufferMinutes < 0 {
		return nil, fmt.Errorf("%w: bufferMinutes must not be negative", ErrValidation)
	}

	for day, blocks := range rules.WeekdayBlocks {
		if !validWeekdays[day] {
			return nil, fmt.Errorf("%w: unknown weekday %q", ErrValidation, day)
		}
		for _, b := range blocks {
			if err := validateBlock(b.Start, b.End); err != nil {
				return nil, fmt.Errorf("%w: weekday %s: %v", ErrValidation, day, err)
			}
		}
	}
	for _, br := range rules.Breaks {
		if !validWeekdays[br.Weekday] {
			return nil, fmt.Errorf("%w: break has unknown weekday %q", ErrValidation, br.Weekday)
		}
		if err := validateBlock(br.Start, br.End); err != nil {
			return nil, fmt.Errorf("%w: break on %s: %v", ErrValidation, br.Weekday, err)
		}
	}

	return &rules, nil
}

func validateBlock(start, end string) error {
	s, err := parseClock(start)
	if err != nil {
		return err
	}
	e, err := parseClock(end)
	if err != nil {
		return err
	}
	if s >= e {
		return fmt.Errorf("start %s must be before end %s", start, end)
	}
	return nil
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(v string) (int, error) {
	if len(v) != 5 || v[2] != ':' {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", v)
	}
	h, err := strconv.Atoi(v[:2])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", v)
	}
	m, err := strconv.Atoi(v[3:])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", v)
	}
	if h < 0 || m < 0 || h > 23 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", v)
	}
	return h*60 + m, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Expand generates slot candidates for every date in [from, to] inclusive.
//
// Within a block, candidate starts advance by slot length plus buffer, and a
// candidate is emitted only when it fits entirely inside the block. Candidates
// intersecting a break on the same weekday are skipped. Output order is fixed:
// date ascending, then block order as declared, then start time ascending.
func (r *WeeklyRules) Expand(from, to time.Time) []Candidate {
	var out []Candidate

	step := r.SlotLengthMinutes + r.BufferMinutes
	for day := DateOnly(from); !day.After(DateOnly(to)); day = day.AddDate(0, 0, 1) {
		blocks := r.WeekdayBlocks[WeekdayOf(day)]
		for _, b := range blocks {
			blockStart, _ := parseClock(b.Start)
			blockEnd, _ := parseClock(b.End)
			for start := blockStart; start+r.SlotLengthMinutes <= blockEnd; start += step {
				end := start + r.SlotLengthMinutes
				if r.intersectsBreak(WeekdayOf(day), start, end) {
					continue
				}
				out = append(out, Candidate{
					Date:  day,
					Start: formatClock(start),
					End:   formatClock(end),
				})
			}
		}
	}
	return out
}

// intersectsBreak reports whether [start, end) overlaps any break on the given
// weekday. Touching endpoints do not count as overlap.
func (r *WeeklyRules) intersectsBreak(day Weekday, start, end int) bool {
	for _, br := range r.Breaks {
		if br.Weekday != day {
			continue
		}
		bs, _ := parseClock(br.Start)
		be, _ := parseClock(br.End)
		if end > bs && start < be {
			return true
		}
	}
	return false
}

// ApplyExceptions folds one-off overrides into a candidate set, in the order
// the exceptions are supplied. Blackouts remove every candidate on their date,
// additions append tagged candidates, and modifications remove the first
// candidate matching (date, originalStart) when present and append the
// replacement either way.
func ApplyExceptions(candidates []Candidate, exceptions []*AvailabilityException) []Candidate {
	out := candidates
	for _, exc := range exceptions {
		switch exc.Kind {
		case ExceptionBlackout:
			kept := out[:0:0]
			for _, c := range out {
				if !SameDate(c.Date, exc.Date) {
					kept = append(kept, c)
				}
			}
			out = kept
		case ExceptionAddSlots:
			for _, b := range exc.AddSlots {
				out = append(out, Candidate{
					Date:  DateOnly(exc.Date),
					Start: b.Start,
					End:   b.End,
					Added: true,
				})
			}
		case ExceptionModify:
			for _, mod := range exc.Modifications {
				for i, c := range out {
					if SameDate(c.Date, exc.Date) && c.Start == mod.OriginalStart {
						out = append(out[:i], out[i+1:]...)
						break
					}
				}
				out = append(out, Candidate{
					Date:     DateOnly(exc.Date),
					Start:    mod.Start,
					End:      mod.End,
					Modified: true,
				})
			}
		}
	}
	return out
}
