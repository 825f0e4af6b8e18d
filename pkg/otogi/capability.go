package otogi

// Capability describes what a module can process and what resources it requires.
type Capability struct {
	Name             string
	Description      string
	Interest         InterestSet
	RequiredServices []string
}

// InterestSet describes event selection criteria for one subscription.
type InterestSet struct {
	// Kinds restricts delivery to the listed event kinds when non-empty.
	Kinds []EventKind
	// RequireMessage drops events without a message payload.
	RequireMessage bool
	// RequireCommand drops events without a command payload.
	RequireCommand bool
	// CommandNames restricts command events to the listed names when non-empty.
	CommandNames []string
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !containsKind(i.Kinds, event.Kind) {
		return false
	}
	if i.RequireMessage && event.Message == nil {
		return false
	}
	if i.RequireCommand && event.Command == nil {
		return false
	}
	if len(i.CommandNames) > 0 {
		if event.Command == nil {
			return false
		}
		if !containsCommandName(i.CommandNames, event.Command.Name) {
			return false
		}
	}

	return true
}

// Allows reports whether filter is at least as narrow as this interest set.
//
// A module may only subscribe with filters covered by one of its capabilities.
func (i InterestSet) Allows(filter InterestSet) bool {
	if len(i.Kinds) > 0 && !allKindsIncluded(filter.Kinds, i.Kinds) {
		return false
	}
	if i.RequireMessage && !filter.RequireMessage {
		return false
	}
	if i.RequireCommand && !filter.RequireCommand {
		return false
	}
	if len(i.CommandNames) > 0 {
		if len(filter.CommandNames) == 0 {
			return false
		}
		for _, name := range filter.CommandNames {
			if !containsCommandName(i.CommandNames, name) {
				return false
			}
		}
	}

	return true
}

// Clone copies owned slices so caller mutation does not affect matching.
func (i InterestSet) Clone() InterestSet {
	cloned := i
	if len(i.Kinds) > 0 {
		cloned.Kinds = append([]EventKind(nil), i.Kinds...)
	}
	if len(i.CommandNames) > 0 {
		cloned.CommandNames = append([]string(nil), i.CommandNames...)
	}

	return cloned
}

func containsKind(kinds []EventKind, target EventKind) bool {
	for _, candidate := range kinds {
		if candidate == target {
			return true
		}
	}

	return false
}

// allKindsIncluded reports whether every requested kind is permitted.
// An empty request means "any kind" and is therefore not included in a restricted set.
func allKindsIncluded(requested []EventKind, permitted []EventKind) bool {
	if len(requested) == 0 {
		return false
	}
	for _, kind := range requested {
		if !containsKind(permitted, kind) {
			return false
		}
	}

	return true
}

func containsCommandName(names []string, target string) bool {
	target = normalizeCommandName(target)
	for _, candidate := range names {
		if normalizeCommandName(candidate) == target {
			return true
		}
	}

	return false
}
