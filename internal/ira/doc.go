// Package ira implements integer range analysis over the structured
// shader IR in package ir: for every integer-typed IR value it
// computes a conservative inclusive range in either the signed or
// unsigned 64-bit domain.
//
// The analysis recognizes function parameters carrying known bounds
// (compute-shader built-ins), structured loops with a recognizable
// induction variable, arithmetic/shift/convert operations, and
// range-preserving min/max/mod calls. It is sound for proving values
// in-bounds only — an "unknown" result is always represented as
// Invalid and never surfaced as an error (see Range).
package ira
