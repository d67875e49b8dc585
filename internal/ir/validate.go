package ir

import "fmt"

// Capability names a module-level feature the validator may be asked
// to require before the robustness transform is allowed to run.
// Capabilities are otherwise opaque to this module: the transform
// only forwards whatever set it was given.
type Capability string

// CapabilitySet is the set of capabilities a module is allowed to use.
type CapabilitySet map[Capability]struct{}

// Diagnostic is a single validation failure.
type Diagnostic struct {
	Function string
	Message  string
}

func (d Diagnostic) String() string {
	if d.Function == "" {
		return d.Message
	}
	return fmt.Sprintf("%s: %s", d.Function, d.Message)
}

// Validator accumulates diagnostics across one module validation pass,
// following the same accumulate-then-return shape as this repo's
// original AST validator.
type Validator struct {
	diags []Diagnostic
}

func NewValidator() *Validator { return &Validator{} }

func (v *Validator) addf(fnName, format string, args ...any) {
	v.diags = append(v.diags, Diagnostic{Function: fnName, Message: fmt.Sprintf(format, args...)})
}

// Validate runs the pre-pass structural validation required before any
// IR-mutating pass. It returns true with no diagnostics on success, or
// false with the accumulated diagnostics. caps is accepted for
// interface-compatibility with a real validator's capability gating;
// this reduced validator doesn't itself key any check off it.
func Validate(m *Module, caps CapabilitySet) (bool, []Diagnostic) {
	v := NewValidator()
	v.validateModule(m)
	return len(v.diags) == 0, v.diags
}

func (v *Validator) validateModule(m *Module) {
	if len(m.Functions) == 0 {
		v.addf("", "module %q must contain at least one function", m.Name)
		return
	}
	seen := make(map[string]bool, len(m.Functions))
	for _, fn := range m.Functions {
		if fn.Name == "" {
			v.addf("", "function has empty name")
		}
		if seen[fn.Name] {
			v.addf(fn.Name, "duplicate function name")
		}
		seen[fn.Name] = true
		v.validateFunction(fn)
	}
}

func (v *Validator) validateFunction(fn *Function) {
	if fn.Entry == nil {
		v.addf(fn.Name, "function has no entry block")
		return
	}
	// A missing workgroup_size on a local_invocation_index/id parameter
	// is not flagged here: ira's analysis asserts that structurally when
	// it's asked to range a value derived from one, rather than this
	// validator rejecting the module up front.
	for _, p := range fn.Params {
		if p.Builtin == LocalInvocationIndex {
			if !p.Typ.IsIntegerScalar() || p.Typ.IsSigned || p.Typ.Bits() != 32 {
				v.addf(fn.Name, "local_invocation_index parameter must be scalar u32")
			}
		}
		if p.Builtin == LocalInvocationID {
			if p.Typ.Kind != KindVector || p.Typ.VecWidth != 3 ||
				!p.Typ.Elem.IsIntegerScalar() || p.Typ.Elem.IsSigned || p.Typ.Elem.Bits() != 32 {
				v.addf(fn.Name, "local_invocation_id parameter must be vec3<u32>")
			}
		}
	}
	v.validateBlock(fn, fn.Entry)
}

func (v *Validator) validateBlock(fn *Function, blk *Block) {
	if blk == nil {
		return
	}
	for _, inst := range blk.Instructions {
		switch inst.Op {
		case OpIf:
			v.validateBlock(fn, inst.True)
			v.validateBlock(fn, inst.False)
		case OpLoop:
			v.validateBlock(fn, inst.Init)
			v.validateBlock(fn, inst.Body)
			v.validateBlock(fn, inst.Continuing)
		}
	}
}
