package robustness

import (
	"github.com/dshills/irguard/internal/ir"
	"github.com/dshills/irguard/internal/ira"
)

// processAccess implements Pass 2: walk inst's index list against the
// type being indexed at each step, clamping each index that needs it.
func (t *Transform) processAccess(fn *ir.Function, an *ira.Analysis, inst *ir.Instruction) {
	if t.bindingExcluded(inst) {
		return
	}
	composite := indexableType(inst.Base.Type())
	for pos := range inst.Indices {
		if composite == nil {
			break
		}
		limit, limitConst, limitOK, ok := t.limitFor(fn, inst, composite, inst.Base)
		if ok {
			t.rewriteIndex(fn, an, inst, inst.Indices[pos], limit, limitConst, limitOK, func(v ir.Value) {
				inst.Indices[pos] = v
			})
		}
		composite = nextComposite(composite)
	}
}

// processVectorElement implements Pass 3: the same discipline as
// Pass 2, with a single index and limit = vector width - 1.
func (t *Transform) processVectorElement(fn *ir.Function, an *ira.Analysis, inst *ir.Instruction) {
	if len(inst.Indices) != 1 {
		return
	}
	vecType := inst.Base.Type().Elem
	if vecType == nil || vecType.Kind != ir.KindVector {
		return
	}
	limit := int64(vecType.VecWidth) - 1
	limitVal := constU32(fn, limit)
	t.rewriteIndex(fn, an, inst, inst.Indices[0], limitVal, limit, true, func(v ir.Value) {
		inst.Indices[0] = v
	})
}

// indexableType returns the type an access's first index steps into:
// the pointee for a pointer base, or the base's own type for a
// by-value base.
func indexableType(baseType *ir.Type) *ir.Type {
	if baseType.Kind == ir.KindPointer {
		return baseType.Elem
	}
	return baseType
}

// nextComposite returns the type the following index in a chain steps
// into, or nil once no further modeled nesting applies.
func nextComposite(composite *ir.Type) *ir.Type {
	switch composite.Kind {
	case ir.KindVector, ir.KindArray:
		return composite.Elem
	default:
		return nil
	}
}

func constU32(fn *ir.Function, v int64) *ir.Const {
	return ir.NewConst(fn.AllocID(), ir.U32(), v)
}

// limitFor computes the per-step limit for indexing into composite:
// vector width-1, matrix column count-1, fixed array length-1, or a
// materialized arrayLength-1 for a runtime array. ok is false when the
// step isn't indexable (e.g. a scalar reached early) or when
// runtime-array clamping is globally disabled.
func (t *Transform) limitFor(fn *ir.Function, anchor *ir.Instruction, composite *ir.Type, base ir.Value) (limitVal ir.Value, limitConst int64, limitConstOK bool, ok bool) {
	switch composite.Kind {
	case ir.KindVector:
		k := int64(composite.VecWidth) - 1
		return constU32(fn, k), k, true, true
	case ir.KindMatrix:
		k := int64(composite.MatCols) - 1
		return constU32(fn, k), k, true, true
	case ir.KindArray:
		if composite.ArrayRuntime {
			if t.cfg.DisableRuntimeSizedArrayIndexClamping {
				return nil, 0, false, false
			}
			b := ir.NewBuilder(fn, anchor)
			length := b.Call(ir.BuiltinArrayLength, ir.U32(), base)
			one := b.ConstInt(ir.U32(), 1)
			limit := b.Sub(ir.U32(), length, one)
			return limit, 0, false, true
		}
		k := int64(composite.ArrayLen) - 1
		return constU32(fn, k), k, true, true
	default:
		return nil, 0, false, false
	}
}

// rewriteIndex implements the constant-or-clamp discipline shared by
// Pass 2 and Pass 3: fold two compile-time constants, skip when IRA
// proves the index already fits, otherwise emit a min clamp.
func (t *Transform) rewriteIndex(
	fn *ir.Function,
	an *ira.Analysis,
	anchor *ir.Instruction,
	idx ir.Value,
	limitVal ir.Value,
	limitConst int64,
	limitConstOK bool,
	setIdx func(ir.Value),
) {
	if limitConstOK {
		if c, isConst := idx.(*ir.Const); isConst {
			setIdx(foldConstClamp(fn, c, limitConst))
			return
		}
	}
	if t.cfg.UseIntegerRangeAnalysis && provablyInBounds(an.RangeOf(idx), limitConst, limitConstOK) {
		return
	}
	if limitConstOK && alreadyClampedTo(idx, limitConst) {
		return
	}
	b := ir.NewBuilder(fn, anchor)
	u32Idx := idx
	if idx.Type().IsSigned {
		u32Idx = b.Convert(ir.U32(), idx)
	}
	clamped := b.Min(ir.U32(), u32Idx, limitVal)
	setIdx(clamped)
}

func foldConstClamp(fn *ir.Function, c *ir.Const, limit int64) *ir.Const {
	v := constInt64(c)
	if v > limit {
		v = limit
	}
	return ir.NewConst(fn.AllocID(), c.Type(), v)
}

func constInt64(c *ir.Const) int64 {
	if c.Type().IsSigned {
		v, _ := c.IsIntConst()
		return v
	}
	v, _ := c.AsUnsigned()
	return int64(v)
}

// alreadyClampedTo reports whether idx is itself a call to min against
// the same constant limit, so a second run of the pass over
// already-rewritten IR doesn't stack a redundant clamp on top.
func alreadyClampedTo(idx ir.Value, limit int64) bool {
	call, ok := idx.(*ir.Instruction)
	if !ok || call.Op != ir.OpCall || call.Builtin != ir.BuiltinMin || len(call.Args) != 2 {
		return false
	}
	for _, arg := range call.Args {
		c, isConst := arg.(*ir.Const)
		if !isConst {
			continue
		}
		if v, ok := c.AsUnsigned(); ok && int64(v) == limit {
			return true
		}
	}
	return false
}

func provablyInBounds(r ira.Range, limit int64, limitOK bool) bool {
	if !limitOK || !r.IsValid() {
		return false
	}
	switch r.Kind {
	case ira.Signed:
		return r.SMin >= 0 && r.SMax <= limit
	case ira.Unsigned:
		return r.UMax <= uint64(limit)
	default:
		return false
	}
}
