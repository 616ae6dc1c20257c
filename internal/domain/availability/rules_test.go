package availability

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// 2025-03-03 is a Monday.
var (
	monday  = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	tuesday = monday.AddDate(0, 0, 1)
	sunday  = monday.AddDate(0, 0, 6)
)

func mustParseRules(t *testing.T, raw string) *WeeklyRules {
	t.Helper()
	rules, err := ParseWeeklyRules(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rules
}

func TestParseWeeklyRulesDefaults(t *testing.T) {
	rules := mustParseRules(t, `{"weekdays":{"MON":[{"start":"09:00","end":"10:00"}]}}`)
	if rules.SlotLengthMinutes != 30 {
		t.Errorf("expected default slot length 30, got %d", rules.SlotLengthMinutes)
	}
	if rules.BufferMinutes != 0 {
		t.Errorf("expected default buffer 0, got %d", rules.BufferMinutes)
	}
}

func TestParseWeeklyRulesRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"empty rules":       ``,
		"malformed JSON":    `{`,
		"unknown weekday":   `{"weekdays":{"MOONDAY":[{"start":"09:00","end":"10:00"}]}}`,
		"bad time format":   `{"weekdays":{"MON":[{"start":"9am","end":"10:00"}]}}`,
		"inverted block":    `{"weekdays":{"MON":[{"start":"10:00","end":"09:00"}]}}`,
		"negative length":   `{"weekdays":{"MON":[{"start":"09:00","end":"10:00"}]},"slotLengthMinutes":-30}`,
		"negative buffer":   `{"weekdays":{"MON":[{"start":"09:00","end":"10:00"}]},"bufferMinutes":-5}`,
		"bad break weekday": `{"weekdays":{"MON":[{"start":"09:00","end":"10:00"}]},"breaks":[{"weekday":"XXX","start":"09:00","end":"09:30"}]}`,
		"hour out of range": `{"weekdays":{"MON":[{"start":"25:00","end":"26:00"}]}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWeeklyRules(json.RawMessage(raw))
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestExpandBasicBlock(t *testing.T) {
	rules := mustParseRules(t, `{"weekdays":{"MON":[{"start":"09:00","end":"10:00"}]},"slotLengthMinutes":30}`)
	got := rules.Expand(monday, monday)

	want := []Candidate{
		{Date: monday, Start: "09:00", End: "09:30"},
		{Date: monday, Start: "09:30", End: "10:00"},
	}
	assertCandidates(t, got, want)
}

func TestExpandBufferShrinksYield(t *testing.T) {
	rules := mustParseRules(t, `{"weekdays":{"MON":[{"start":"09:00","end":"10:00"}]},"slotLengthMinutes":30,"bufferMinutes":10}`)
	got := rules.Expand(monday, monday)

	// 09:00-09:30 fits; the next start is 09:40 and 09:40-10:10 does not.
	want := []Candidate{{Date: monday, Start: "09:00", End: "09:30"}}
	assertCandidates(t, got, want)
}

func TestExpandSkipsPartialFinalSlot(t *testing.T) {
	rules := mustParseRules(t, `{"weekdays":{"MON":[{"start":"09:00","end":"09:50"}]},"slotLengthMinutes":30}`)
	got := rules.Expand(monday, monday)

	want := []Candidate{{Date: monday, Start: "09:00", End: "09:30"}}
	assertCandidates(t, got, want)
}

func TestExpandSkipsBreakOverlap(t *testing.T) {
	rules := mustParseRules(t, `{
		"weekdays":{"MON":[{"start":"09:00","end":"12:00"}]},
		"slotLengthMinutes":60,
		"breaks":[{"weekday":"MON","start":"10:30","end":"11:00"}]
	}`)
	got := rules.Expand(monday, monday)

	// 10:00-11:00 overlaps the break; 09:00-10:00 and 11:00-12:00 survive.
	want := []Candidate{
		{Date: monday, Start: "09:00", End: "10:00"},
		{Date: monday, Start: "11:00", End: "12:00"},
	}
	assertCandidates(t, got, want)
}

func TestExpandBreakTouchingEndpointIsKept(t *testing.T) {
	rules := mustParseRules(t, `{
		"weekdays":{"MON":[{"start":"09:00","end":"10:00"}]},
		"slotLengthMinutes":30,
		"breaks":[{"weekday":"MON","start":"09:30","end":"09:45"}]
	}`)
	got := rules.Expand(monday, monday)

	// The break only touches 09:00-09:30 at its endpoint, so that slot stays.
	want := []Candidate{{Date: monday, Start: "09:00", End: "09:30"}}
	assertCandidates(t, got, want)
}

func TestExpandWindowInclusiveAndOrdered(t *testing.T) {
	rules := mustParseRules(t, `{
		"weekdays":{
			"MON":[{"start":"14:00","end":"15:00"},{"start":"09:00","end":"10:00"}],
			"SUN":[{"start":"08:00","end":"09:00"}]
		},
		"slotLengthMinutes":60
	}`)
	got := rules.Expand(monday, sunday)

	// Both window endpoints are included; block order is declaration order.
	want := []Candidate{
		{Date: monday, Start: "14:00", End: "15:00"},
		{Date: monday, Start: "09:00", End: "10:00"},
		{Date: sunday, Start: "08:00", End: "09:00"},
	}
	assertCandidates(t, got, want)
}

func TestExpandIsDeterministic(t *testing.T) {
	raw := `{
		"weekdays":{"MON":[{"start":"09:00","end":"11:00"}],"TUE":[{"start":"13:00","end":"14:00"}]},
		"slotLengthMinutes":30,
		"breaks":[{"weekday":"MON","start":"10:00","end":"10:30"}]
	}`
	first := mustParseRules(t, raw).Expand(monday, sunday)
	second := mustParseRules(t, raw).Expand(monday, sunday)
	assertCandidates(t, second, first)
}

func TestExpandEmptyWhenNoBlocksMatch(t *testing.T) {
	rules := mustParseRules(t, `{"weekdays":{"FRI":[{"start":"09:00","end":"10:00"}]}}`)
	if got := rules.Expand(monday, tuesday); len(got) != 0 {
		t.Errorf("expected no candidates, got %d", len(got))
	}
}

func TestApplyExceptionsBlackout(t *testing.T) {
	candidates := []Candidate{
		{Date: monday, Start: "09:00", End: "09:30"},
		{Date: monday, Start: "09:30", End: "10:00"},
		{Date: tuesday, Start: "09:00", End: "09:30"},
	}
	got := ApplyExceptions(candidates, []*AvailabilityException{
		{Date: monday, Kind: ExceptionBlackout},
	})

	want := []Candidate{{Date: tuesday, Start: "09:00", End: "09:30"}}
	assertCandidates(t, got, want)
}

func TestApplyExceptionsAddSlots(t *testing.T) {
	candidates := []Candidate{{Date: monday, Start: "09:00", End: "09:30"}}
	got := ApplyExceptions(candidates, []*AvailabilityException{
		{Date: monday, Kind: ExceptionAddSlots, AddSlots: []TimeBlock{{Start: "18:00", End: "18:30"}}},
	})

	want := []Candidate{
		{Date: monday, Start: "09:00", End: "09:30"},
		{Date: monday, Start: "18:00", End: "18:30", Added: true},
	}
	assertCandidates(t, got, want)
}

func TestApplyExceptionsModify(t *testing.T) {
	candidates := []Candidate{
		{Date: monday, Start: "09:00", End: "09:30"},
		{Date: monday, Start: "09:30", End: "10:00"},
	}
	got := ApplyExceptions(candidates, []*AvailabilityException{
		{Date: monday, Kind: ExceptionModify, Modifications: []SlotModification{
			{OriginalStart: "09:00", Start: "09:15", End: "09:45"},
		}},
	})

	want := []Candidate{
		{Date: monday, Start: "09:30", End: "10:00"},
		{Date: monday, Start: "09:15", End: "09:45", Modified: true},
	}
	assertCandidates(t, got, want)
}

func TestApplyExceptionsModifyMissingTargetStillAppends(t *testing.T) {
	candidates := []Candidate{{Date: monday, Start: "09:00", End: "09:30"}}
	got := ApplyExceptions(candidates, []*AvailabilityException{
		{Date: monday, Kind: ExceptionModify, Modifications: []SlotModification{
			{OriginalStart: "12:00", Start: "12:15", End: "12:45"},
		}},
	})

	// The removal finds nothing, the replacement is appended regardless.
	want := []Candidate{
		{Date: monday, Start: "09:00", End: "09:30"},
		{Date: monday, Start: "12:15", End: "12:45", Modified: true},
	}
	assertCandidates(t, got, want)
}

func TestApplyExceptionsInSuppliedOrder(t *testing.T) {
	candidates := []Candidate{{Date: monday, Start: "09:00", End: "09:30"}}

	// The blackout lands first and wipes the day, then the addition restores
	// a single evening slot. Reversed order would leave nothing.
	got := ApplyExceptions(candidates, []*AvailabilityException{
		{Date: monday, Kind: ExceptionBlackout},
		{Date: monday, Kind: ExceptionAddSlots, AddSlots: []TimeBlock{{Start: "18:00", End: "18:30"}}},
	})
	want := []Candidate{{Date: monday, Start: "18:00", End: "18:30", Added: true}}
	assertCandidates(t, got, want)
}

func assertCandidates(t *testing.T, got, want []Candidate) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Date.Equal(want[i].Date) || got[i].Start != want[i].Start ||
			got[i].End != want[i].End || got[i].Added != want[i].Added ||
			got[i].Modified != want[i].Modified {
			t.Errorf("candidate %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}
