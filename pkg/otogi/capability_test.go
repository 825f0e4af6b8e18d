package otogi

import "testing"

func TestInterestSetMatches(t *testing.T) {
	t.Parallel()

	command := &Event{
		Kind:    EventKindCommandReceived,
		Message: &Message{ID: "m1", Text: "/pepe"},
		Command: &CommandInvocation{Name: "pepe"},
	}

	tests := []struct {
		name     string
		interest InterestSet
		event    *Event
		want     bool
	}{
		{
			name:     "nil event",
			interest: InterestSet{},
			event:    nil,
			want:     false,
		},
		{
			name:     "empty interest matches anything",
			interest: InterestSet{},
			event:    &Event{Kind: EventKindMessageCreated},
			want:     true,
		},
		{
			name:     "kind mismatch",
			interest: InterestSet{Kinds: []EventKind{EventKindCommandReceived}},
			event:    &Event{Kind: EventKindMessageCreated, Message: &Message{ID: "m1"}},
			want:     false,
		},
		{
			name:     "require message rejects missing message",
			interest: InterestSet{RequireMessage: true},
			event:    &Event{Kind: EventKindMessageCreated},
			want:     false,
		},
		{
			name:     "require command rejects message event",
			interest: InterestSet{RequireCommand: true},
			event:    &Event{Kind: EventKindMessageCreated, Message: &Message{ID: "m1"}},
			want:     false,
		},
		{
			name: "command name matches case-insensitively",
			interest: InterestSet{
				Kinds:          []EventKind{EventKindCommandReceived},
				RequireCommand: true,
				CommandNames:   []string{"PEPE", "meme"},
			},
			event: command,
			want:  true,
		},
		{
			name:     "command name filter rejects other command",
			interest: InterestSet{CommandNames: []string{"meme"}},
			event:    command,
			want:     false,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := testCase.interest.Matches(testCase.event); got != testCase.want {
				t.Fatalf("Matches = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestInterestSetCloneIsolatesSlices(t *testing.T) {
	t.Parallel()

	original := InterestSet{
		Kinds:        []EventKind{EventKindCommandReceived},
		CommandNames: []string{"pepe"},
	}
	cloned := original.Clone()
	original.Kinds[0] = EventKindMessageCreated
	original.CommandNames[0] = "meme"

	if cloned.Kinds[0] != EventKindCommandReceived {
		t.Fatalf("cloned kind = %s, want %s", cloned.Kinds[0], EventKindCommandReceived)
	}
	if cloned.CommandNames[0] != "pepe" {
		t.Fatalf("cloned command name = %s, want pepe", cloned.CommandNames[0])
	}
}

func TestInterestSetAllows(t *testing.T) {
	t.Parallel()

	capability := InterestSet{
		Kinds:          []EventKind{EventKindCommandReceived},
		RequireCommand: true,
		CommandNames:   []string{"pepe", "meme"},
	}

	tests := []struct {
		name   string
		filter InterestSet
		want   bool
	}{
		{
			name:   "identical filter",
			filter: capability,
			want:   true,
		},
		{
			name: "narrower command set",
			filter: InterestSet{
				Kinds:          []EventKind{EventKindCommandReceived},
				RequireCommand: true,
				CommandNames:   []string{"meme"},
			},
			want: true,
		},
		{
			name:   "unrestricted kinds",
			filter: InterestSet{RequireCommand: true, CommandNames: []string{"pepe"}},
			want:   false,
		},
		{
			name: "missing command requirement",
			filter: InterestSet{
				Kinds:        []EventKind{EventKindCommandReceived},
				CommandNames: []string{"pepe"},
			},
			want: false,
		},
		{
			name: "foreign command",
			filter: InterestSet{
				Kinds:          []EventKind{EventKindCommandReceived},
				RequireCommand: true,
				CommandNames:   []string{"ping"},
			},
			want: false,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			if got := capability.Allows(testCase.filter); got != testCase.want {
				t.Fatalf("Allows = %v, want %v", got, testCase.want)
			}
		})
	}
}
