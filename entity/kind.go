package entity

// Kind distinguishes the three entity roles spec.md §3 names: a single
// simulation-wide entity, patches tiling the grid, and agents nested inside
// patches (or other agents).
type Kind int

const (
	KindSimulation Kind = iota
	KindPatch
	KindAgent
)

func (k Kind) String() string {
	switch k {
	case KindSimulation:
		return "simulation"
	case KindPatch:
		return "patch"
	case KindAgent:
		return "agent"
	default:
		return "unknown"
	}
}

// Event names the substep an attribute handler applies to. EventConstant
// marks a handler with no event suffix, which only fires during the
// constant substep (spec.md §4.5).
type Event string

const (
	EventInit     Event = "init"
	EventStart    Event = "start"
	EventStep     Event = "step"
	EventEnd      Event = "end"
	EventConstant Event = "constant"
)
