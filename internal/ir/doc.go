// Package ir is the structured shader IR host that the integer range
// analysis (package ira) and the robustness transform (package
// robustness) operate over.
//
// Real production shader compilers keep this data structure, its
// builder, and its validator as a large surrounding subsystem; here it
// is reduced to what the analysis and transform passes actually need:
// iterate instructions, query opcodes/operands/result values/parent
// blocks, inspect types, read workgroup-size attributes, build new
// instructions, replace uses, and validate a module. Everything else —
// the parser, the surrounding compiler driver, non-robustness
// transforms — is out of scope and does not exist in this module.
package ir
