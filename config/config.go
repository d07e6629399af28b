// Package config implements the ConfigGetter sealed interface of spec.md
// §4.9/§6: a read-only, dotted-name lookup over simulation metadata the
// DSL layer parses (grid corners, cell size, step range, export targets)
// and the core only ever consumes. The core never parses the DSL itself
// (SPEC_FULL.md §0) — Static is a plain resolved-value holder in the
// style of the teacher's VarGridConfig, not a parser.
package config

import "github.com/SchmidtDSE/josh-sub003/engineval"

// ConfigGetter is the pluggable contract Bridge.GetConfigOptional
// delegates to.
type ConfigGetter interface {
	// GetOptional resolves a dotted simulation option (e.g. "grid.size",
	// "steps.high"). ok is false, not an error, when the option was never
	// set — spec.md §4.9 names this operation "optional" precisely
	// because most DSL programs only set a handful of the recognized
	// options.
	GetOptional(name string) (value engineval.EngineValue, ok bool)
}

// Static is a map-backed reference ConfigGetter, the resolved-value
// counterpart to the teacher's VarGridConfig struct: a plain bag of
// already-parsed settings, with no parsing logic of its own.
type Static map[string]engineval.EngineValue

// GetOptional implements ConfigGetter.
func (s Static) GetOptional(name string) (engineval.EngineValue, bool) {
	v, ok := s[name]
	return v, ok
}

// Set installs or overwrites one dotted option. Provided for test
// fixtures and programmatic bridge construction; Static otherwise behaves
// as a read-only map once handed to a ConfigGetter consumer.
func (s Static) Set(name string, value engineval.EngineValue) {
	s[name] = value
}
