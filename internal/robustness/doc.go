// Package robustness implements the clamp/predication rewrite pass
// that makes potentially out-of-bounds memory, texture, and
// subgroup-matrix accesses safe: every index that could read or write
// outside its container is either proven in-bounds by package ira, or
// wrapped in a min clamp (or, for subgroup matrices, an if guard).
//
// Run mutates its module in place and returns a non-nil error only
// when pre-pass validation rejects the module; nothing is partially
// mutated in that case.
package robustness
