// Package rules derives at most one proactive message candidate from a
// user's life context.
//
// The engine is an ordered list of predicate+generator pairs: rules are
// checked in a fixed order and the first rule whose predicate (and optional
// probability roll) passes produces the candidate. Randomness comes from an
// injected Source so both rule order and probability thresholds are
// unit-testable.
package rules
