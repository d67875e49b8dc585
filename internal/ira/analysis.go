package ira

import (
	"github.com/llir/llvm/ir/enum"
	"golang.org/x/tools/container/intsets"
	"golang.org/x/xerrors"

	"github.com/dshills/irguard/internal/ir"
)

// cacheKey identifies a cached range: a value identity, plus a vector
// component index for function parameters that are vectors (each
// component of a vector parameter carries its own independent range).
type cacheKey struct {
	id        uint64
	component uint32
}

// Analysis is the per-function analysis state: a memoized cache from
// IR values to their computed range, created on first query and
// living exactly as long as the caller holds it. It is not safe for
// concurrent use.
type Analysis struct {
	fn    *ir.Function
	cache map[cacheKey]Range

	// visiting breaks cycles in the value graph: a recursive re-entry
	// while a value's range is already being computed returns Invalid
	// rather than recursing forever.
	visiting intsets.Sparse
}

// New creates a per-function analysis handle. The returned Analysis
// is valid for as long as fn is not mutated underneath it; nothing in
// this package mutates the IR.
func New(fn *ir.Function) *Analysis {
	return &Analysis{
		fn:    fn,
		cache: make(map[cacheKey]Range),
	}
}

// RangeOf returns the range of v, memoizing the result. Function
// parameters that are integer vectors must be queried through
// RangeOfComponent instead.
func (a *Analysis) RangeOf(v ir.Value) Range {
	return a.rangeOf(v, 0)
}

// RangeOfComponent returns the range of component `index` of a
// vector-typed function parameter. Only built-in compute IDs (at most
// three lanes) are ever modeled as vectors.
func (a *Analysis) RangeOfComponent(param *ir.FunctionParam, index uint32) Range {
	return a.rangeOf(param, index)
}

func (a *Analysis) rangeOf(v ir.Value, component uint32) Range {
	if v == nil {
		return InvalidRange()
	}
	key := cacheKey{id: v.ValueID(), component: component}
	if r, ok := a.cache[key]; ok {
		return r
	}
	if a.visiting.Has(int(v.ValueID())) {
		return InvalidRange()
	}
	a.visiting.Insert(int(v.ValueID()))
	r := a.compute(v, component)
	a.visiting.Remove(int(v.ValueID()))
	a.cache[key] = r
	return r
}

func (a *Analysis) compute(v ir.Value, component uint32) Range {
	switch val := v.(type) {
	case *ir.FunctionParam:
		return a.paramRange(val, component)
	case *ir.Const:
		return constRange(val)
	case *ir.Instruction:
		return a.instrRange(val)
	default:
		return InvalidRange()
	}
}

func constRange(c *ir.Const) Range {
	if c.Int == nil {
		return InvalidRange()
	}
	if c.Type().IsSigned {
		v, ok := c.IsIntConst()
		if !ok {
			return InvalidRange()
		}
		return SignedR(v, v)
	}
	v, ok := c.AsUnsigned()
	if !ok {
		return InvalidRange()
	}
	return UnsignedR(v, v)
}

// paramRange computes the built-in bound for a compute-stage
// parameter: local_invocation_index gets [0, X*Y*Z-1];
// local_invocation_id gets per-component [0,X-1]/[0,Y-1]/[0,Z-1];
// everything else gets the saturated range for its scalar type.
func (a *Analysis) paramRange(p *ir.FunctionParam, component uint32) Range {
	switch p.Builtin {
	case ir.LocalInvocationIndex:
		ws := a.fn.WorkgroupSize
		if ws == nil {
			panic(xerrors.Errorf("ira: local_invocation_index parameter on %q, which has no constant workgroup_size", a.fn.Name))
		}
		total := uint64(ws[0]) * uint64(ws[1]) * uint64(ws[2])
		if total == 0 {
			return UnsignedR(0, 0)
		}
		return UnsignedR(0, total-1)
	case ir.LocalInvocationID:
		ws := a.fn.WorkgroupSize
		if ws == nil {
			panic(xerrors.Errorf("ira: local_invocation_id parameter on %q, which has no constant workgroup_size", a.fn.Name))
		}
		if component > 2 {
			return InvalidRange()
		}
		dim := ws[component]
		if dim == 0 {
			return UnsignedR(0, 0)
		}
		return UnsignedR(0, uint64(dim-1))
	default:
		return saturatedFor(p.Type())
	}
}

func saturatedFor(t *ir.Type) Range {
	scalar := t
	if t.Kind == ir.KindVector {
		scalar = t.Elem
	}
	if !scalar.IsIntegerScalar() {
		return InvalidRange()
	}
	if scalar.IsSigned {
		return SaturatedSigned()
	}
	return SaturatedUnsigned()
}

func (a *Analysis) instrRange(inst *ir.Instruction) Range {
	switch inst.Op {
	case ir.OpLet:
		return a.rangeOf(inst.Src, 0)
	case ir.OpLoad:
		return a.loadRange(inst)
	case ir.OpAccess:
		return a.accessRange(inst)
	case ir.OpBinary:
		return a.binaryRange(inst)
	case ir.OpConvert:
		return a.convertRange(inst)
	case ir.OpCall:
		return a.callRange(inst)
	default:
		return InvalidRange()
	}
}

// loadRange handles a load from a pointer: if the pointer denotes the
// control variable of a recognized loop, returns that loop's LCV
// range; otherwise Invalid. The analysis never tracks ranges through
// arbitrary memory.
func (a *Analysis) loadRange(inst *ir.Instruction) Range {
	varInst, ok := inst.Src.(*ir.Instruction)
	if !ok || varInst.Op != ir.OpVar {
		return InvalidRange()
	}
	loop, ok := a.enclosingRecognizedLoop(varInst)
	if !ok {
		return InvalidRange()
	}
	return ComputeLCVRange(loop, varInst)
}

// enclosingRecognizedLoop finds the Loop instruction (if any) in fn
// whose recognized control variable is varInst.
func (a *Analysis) enclosingRecognizedLoop(varInst *ir.Instruction) (*ir.Instruction, bool) {
	var found *ir.Instruction
	ir.WalkInstructions(a.fn, func(inst *ir.Instruction) {
		if found != nil || inst.Op != ir.OpLoop {
			return
		}
		lcv, ok := GetLoopControlVariable(inst)
		if ok && lcv == varInst {
			found = inst
		}
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

// accessRange handles access into a vector-typed function parameter
// at a constant index; anything else is Invalid.
func (a *Analysis) accessRange(inst *ir.Instruction) Range {
	param, ok := inst.Base.(*ir.FunctionParam)
	if !ok || param.Type().Kind != ir.KindVector {
		return InvalidRange()
	}
	if len(inst.Indices) != 1 {
		return InvalidRange()
	}
	c, ok := inst.Indices[0].(*ir.Const)
	if !ok {
		return InvalidRange()
	}
	idx, ok := c.AsUnsigned()
	if !ok {
		return InvalidRange()
	}
	return a.rangeOf(param, uint32(idx))
}

func (a *Analysis) binaryRange(inst *ir.Instruction) Range {
	x := a.rangeOf(inst.X, 0)
	y := a.rangeOf(inst.Y, 0)
	switch inst.BinOp {
	case ir.BinAdd:
		return Add(x, y)
	case ir.BinSub:
		return Sub(x, y)
	case ir.BinMul:
		return Mul(x, y)
	case ir.BinDiv:
		return Div(x, y)
	case ir.BinMod:
		return Mod(x, y)
	case ir.BinShl:
		return Shl(x, y)
	case ir.BinShr:
		return Shr(x, y)
	default:
		return InvalidRange()
	}
}

func (a *Analysis) convertRange(inst *ir.Instruction) Range {
	if !inst.Type().IsIntegerScalar() {
		return InvalidRange()
	}
	src := a.rangeOf(inst.Src, 0)
	if !src.IsValid() {
		return InvalidRange()
	}
	if inst.Type().IsSigned && src.Kind == Unsigned {
		return ConvertUnsignedToSigned(src)
	}
	if !inst.Type().IsSigned && src.Kind == Signed {
		return ConvertSignedToUnsigned(src)
	}
	return src
}

// callRange handles calls to the min/max scalar-integer builtins: any
// operand whose range is Invalid is first saturated to its scalar's
// domain before the primitive runs, and vector/non-integer overloads
// yield Invalid.
func (a *Analysis) callRange(inst *ir.Instruction) Range {
	if inst.Builtin != ir.BuiltinMin && inst.Builtin != ir.BuiltinMax {
		return InvalidRange()
	}
	if !inst.Type().IsIntegerScalar() || len(inst.Args) != 2 {
		return InvalidRange()
	}
	x := a.rangeOf(inst.Args[0], 0)
	y := a.rangeOf(inst.Args[1], 0)
	if !x.IsValid() {
		x = saturatedFor(inst.Args[0].Type())
	}
	if !y.IsValid() {
		y = saturatedFor(inst.Args[1].Type())
	}
	if inst.Builtin == ir.BuiltinMin {
		return MinBuiltin(x, y)
	}
	return MaxBuiltin(x, y)
}

// relOp is an abstract comparison family, independent of the
// signed/unsigned llir/llvm predicate variant and of which operand
// the LCV sits on.
type relOp int

const (
	relLT relOp = iota
	relLE
	relGT
	relGE
)

func familyOf(pred enum.IPred) (relOp, bool) {
	switch pred {
	case enum.IPredSLT, enum.IPredULT:
		return relLT, true
	case enum.IPredSLE, enum.IPredULE:
		return relLE, true
	case enum.IPredSGT, enum.IPredUGT:
		return relGT, true
	case enum.IPredSGE, enum.IPredUGE:
		return relGE, true
	default:
		return 0, false
	}
}

// mirror flips a relation when the LCV sits on the right of the
// comparison, e.g. "K > idx" becomes the canonical "idx < K".
func (r relOp) mirror() relOp {
	switch r {
	case relLT:
		return relGT
	case relGT:
		return relLT
	case relLE:
		return relGE
	case relGE:
		return relLE
	default:
		return r
	}
}

// ComputeLCVRange computes the range of loop's recognized control
// variable lcv. Returns Invalid if any of the three recognizer shapes
// don't match, or if the body-head shape's exit direction is
// inconsistent with the continuing block's update direction.
func ComputeLCVRange(loop, lcv *ir.Instruction) Range {
	if decl, ok := GetLoopControlVariable(loop); !ok || decl != lcv {
		return InvalidRange()
	}
	update, ok := GetUpdateBinary(loop, lcv)
	if !ok {
		return InvalidRange()
	}
	cmp, ok := GetBodyCompare(loop, lcv)
	if !ok {
		return InvalidRange()
	}
	load := loop.Body.Instructions[0]
	lcvLeft, k, ok := compareAgainstLoad(cmp, load)
	if !ok {
		return InvalidRange()
	}
	family, ok := familyOf(cmp.Pred)
	if !ok {
		return InvalidRange()
	}
	if !lcvLeft {
		family = family.mirror()
	}

	branch := loop.Body.Instructions[2]
	falseExits := blockIsOnlyExit(branch.False)
	if !falseExits {
		// The True arm exits instead: the loop continues while the
		// comparison is false, i.e. under the negated relation.
		family = negateRel(family)
	}

	signed := lcv.Type().Elem.IsSigned
	v0raw := constRaw(lcv.Initial.(*ir.Const))
	incr := update.BinOp == ir.BinAdd

	if signed {
		return computeSigned(family, incr, v0raw, k)
	}
	return computeUnsigned(family, incr, uint64(uint32(v0raw)), uint64(uint32(k)))
}

func negateRel(r relOp) relOp {
	switch r {
	case relLT:
		return relGE
	case relGE:
		return relLT
	case relLE:
		return relGT
	case relGT:
		return relLE
	default:
		return r
	}
}

// computeSigned implements the reduced relation table (after mirroring
// "K op idx" shapes into canonical "idx op K" form) over the signed
// domain.
func computeSigned(family relOp, incr bool, v0, k int64) Range {
	switch family {
	case relLT:
		if !incr {
			return InvalidRange()
		}
		if v0 >= k {
			return SignedR(v0, v0)
		}
		return SignedR(v0, k-1)
	case relLE:
		if incr {
			if v0 > k {
				return SignedR(v0, v0)
			}
			return SignedR(v0, k)
		}
		if k > v0 {
			return SignedR(v0, v0)
		}
		return SignedR(k, v0)
	case relGT:
		if incr {
			return InvalidRange()
		}
		if k >= v0 {
			return SignedR(v0, v0)
		}
		return SignedR(k+1, v0)
	case relGE:
		if incr {
			return InvalidRange()
		}
		if k > v0 {
			return SignedR(v0, v0)
		}
		return SignedR(k, v0)
	default:
		return InvalidRange()
	}
}

func computeUnsigned(family relOp, incr bool, v0, k uint64) Range {
	switch family {
	case relLT:
		if !incr {
			return InvalidRange()
		}
		if v0 >= k {
			return UnsignedR(v0, v0)
		}
		return UnsignedR(v0, k-1)
	case relLE:
		if incr {
			if v0 > k {
				return UnsignedR(v0, v0)
			}
			return UnsignedR(v0, k)
		}
		if k > v0 {
			return UnsignedR(v0, v0)
		}
		return UnsignedR(k, v0)
	case relGT:
		if incr {
			return InvalidRange()
		}
		if k >= v0 {
			return UnsignedR(v0, v0)
		}
		return UnsignedR(k+1, v0)
	case relGE:
		if incr {
			return InvalidRange()
		}
		if k > v0 {
			return UnsignedR(v0, v0)
		}
		return UnsignedR(k, v0)
	default:
		return InvalidRange()
	}
}
