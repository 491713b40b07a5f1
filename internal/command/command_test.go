package command

import (
	"errors"
	"testing"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want Command
	}{
		{
			name: "schedule quoted",
			in:   `schedule "Standup at 09:00" to team at today 08:55`,
			want: Schedule{Text: "Standup at 09:00", Alias: "team", When: "today 08:55"},
		},
		{
			name: "schedule without at",
			in:   `schedule "Demo tomorrow" to sales tomorrow 09:00`,
			want: Schedule{Text: "Demo tomorrow", Alias: "sales", When: "tomorrow 09:00"},
		},
		{
			name: "schedule relative",
			in:   `schedule "ping" to team in 20 minutes`,
			want: Schedule{Text: "ping", Alias: "team", When: "in 20 minutes"},
		},
		{
			name: "schedule case insensitive",
			in:   `SCHEDULE "x" TO team AT 14:00`,
			want: Schedule{Text: "x", Alias: "team", When: "14:00"},
		},
		{
			name: "two step",
			in:   `schedule to team at tomorrow 09:00`,
			want: ScheduleConfig{Alias: "team", When: "tomorrow 09:00"},
		},
		{
			name: "two step without at",
			in:   `schedule to team in 1 minute`,
			want: ScheduleConfig{Alias: "team", When: "in 1 minute"},
		},
		{
			name: "register with name",
			in:   `register group team 1203630@g.us Team Chat`,
			want: RegisterGroup{Alias: "team", GroupID: "1203630@g.us", Name: "Team Chat"},
		},
		{
			name: "register without name",
			in:   `register group ops 99887@g.us`,
			want: RegisterGroup{Alias: "ops", GroupID: "99887@g.us"},
		},
		{
			name: "unregister",
			in:   `unregister group team`,
			want: UnregisterGroup{Alias: "team"},
		},
		{name: "cancel", in: `cancel 42`, want: Cancel{JobID: 42}},
		{name: "list", in: `list`, want: List{}},
		{name: "groups", in: `GROUPS`, want: Groups{}},
		{name: "surrounding whitespace", in: "  list  ", want: List{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("Parse(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"",
		"hello there",
		"schedule to",
		`schedule "missing alias"`,
		"cancel abc",
		"cancel",
		"register group",
		"listing",
	}
	for _, in := range inputs {
		_, err := Parse(in)
		if err == nil {
			t.Fatalf("Parse(%q) succeeded, want error", in)
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Parse(%q) error type %T, want *ParseError", in, err)
		}
	}
}

func TestScheduleTakesPriorityOverTwoStep(t *testing.T) {
	t.Parallel()
	// A quoted form must never fall through to the two-step pattern.
	got, err := Parse(`schedule "hand off to bob" to team at 15:00`)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	want := Schedule{Text: "hand off to bob", Alias: "team", When: "15:00"}
	if got != want {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}
