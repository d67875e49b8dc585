package ira

import (
	"github.com/llir/llvm/ir/enum"

	"github.com/dshills/irguard/internal/ir"
)

// direction is the loop control variable's monotonic direction,
// determined by whether the continuing block's update binary adds or
// subtracts the literal 1.
type direction int

const (
	increment direction = iota
	decrement
)

// GetLoopControlVariable returns the pointer of the loop's control
// variable when loop's initializer block consists of exactly two
// instructions: a variable declaration with a constant integer
// initializer, and the next_iteration terminator.
//
// This is one of the three recognizer entry points exposed for tests
// and for the range evaluator.
func GetLoopControlVariable(loop *ir.Instruction) (*ir.Instruction, bool) {
	if loop.Op != ir.OpLoop || loop.Init == nil {
		return nil, false
	}
	insts := loop.Init.Instructions
	if len(insts) != 2 {
		return nil, false
	}
	decl, term := insts[0], insts[1]
	if decl.Op != ir.OpVar || decl.Initial == nil {
		return nil, false
	}
	if term.Op != ir.OpNextIteration {
		return nil, false
	}
	if c, ok := constOf(decl.Initial); !ok || c.Int == nil {
		return nil, false
	}
	return decl, true
}

// GetUpdateBinary returns the binary instruction in loop's continuing
// block that adds or subtracts the literal 1 from lcv, when the
// continuing block consists of exactly four instructions: load,
// binary add-or-sub-one, store, next_iteration.
func GetUpdateBinary(loop, lcv *ir.Instruction) (*ir.Instruction, bool) {
	if loop.Op != ir.OpLoop || loop.Continuing == nil {
		return nil, false
	}
	insts := loop.Continuing.Instructions
	if len(insts) != 4 {
		return nil, false
	}
	load, bin, store, term := insts[0], insts[1], insts[2], insts[3]

	if load.Op != ir.OpLoad || load.Src != ir.Value(lcv) {
		return nil, false
	}
	if bin.Op != ir.OpBinary {
		return nil, false
	}
	if bin.BinOp != ir.BinAdd && bin.BinOp != ir.BinSub {
		return nil, false
	}
	one, litOK, litIsRight := binaryLiteralOne(bin, load)
	if !litOK {
		return nil, false
	}
	if bin.BinOp == ir.BinSub && !litIsRight {
		// Only "temp - 1" is recognized, not "1 - temp" (minuend-only).
		return nil, false
	}
	if one.Type().IsSigned != lcv.Type().Elem.IsSigned {
		return nil, false
	}
	if store.Op != ir.OpStore || store.Base != ir.Value(lcv) || store.Src != ir.Value(bin) {
		return nil, false
	}
	if term.Op != ir.OpNextIteration {
		return nil, false
	}
	return bin, true
}

// binaryLiteralOne reports whether bin is "load <op> 1" or "1 <op>
// load", returning the literal operand and whether it sits on the
// right.
func binaryLiteralOne(bin, load *ir.Instruction) (lit *ir.Const, ok bool, litOnRight bool) {
	xIsLoad := bin.X == ir.Value(load)
	yIsLoad := bin.Y == ir.Value(load)
	if xIsLoad {
		if c, isConst := bin.Y.(*ir.Const); isConst && isOne(c) {
			return c, true, true
		}
	}
	if yIsLoad {
		if c, isConst := bin.X.(*ir.Const); isConst && isOne(c) {
			return c, true, false
		}
	}
	return nil, false, false
}

func isOne(c *ir.Const) bool {
	if c.Type().IsSigned {
		v, ok := c.IsIntConst()
		return ok && v == 1
	}
	v, ok := c.AsUnsigned()
	return ok && v == 1
}

func constOf(v ir.Value) (*ir.Const, bool) {
	c, ok := v.(*ir.Const)
	return c, ok
}

// GetBodyCompare returns the comparison instruction in the loop's body
// block that bounds lcv, when the first three instructions of the
// body are: load, a non-trivial comparison against a constant, and a
// two-armed conditional branch using that comparison — one arm
// exiting the loop, the other not — and no instruction anywhere else
// in the body (besides the leading load) uses the lcv pointer.
func GetBodyCompare(loop, lcv *ir.Instruction) (*ir.Instruction, bool) {
	if loop.Op != ir.OpLoop || loop.Body == nil {
		return nil, false
	}
	insts := loop.Body.Instructions
	if len(insts) < 3 {
		return nil, false
	}
	load, cmp, branch := insts[0], insts[1], insts[2]

	if load.Op != ir.OpLoad || load.Src != ir.Value(lcv) {
		return nil, false
	}
	if cmp.Op != ir.OpCompare {
		return nil, false
	}
	lcvLeft, k, ok := compareAgainstLoad(cmp, load)
	if !ok {
		return nil, false
	}
	if isImpossibleBoundary(lcv.Type().Elem.IsSigned, cmp.Pred, lcvLeft, k) {
		return nil, false
	}
	if branch.Op != ir.OpIf || branch.Cond != ir.Value(cmp) {
		return nil, false
	}
	trueExits := blockIsOnlyExit(branch.True)
	falseExits := blockIsOnlyExit(branch.False)
	if trueExits == falseExits {
		// Both or neither arm is a bare exit: not the required shape.
		return nil, false
	}
	if blockContainsExit(branch.False) && !falseExits {
		return nil, false
	}
	if blockContainsExit(branch.True) && !trueExits {
		return nil, false
	}

	// No instruction besides the leading load may use the LCV pointer
	// anywhere in the body.
	uses := 0
	ir.WalkInstructions(bodyAsFunction(loop.Body), func(inst *ir.Instruction) {
		if inst == load {
			return
		}
		for _, slot := range inst.Operands() {
			if *slot == ir.Value(lcv) {
				uses++
			}
		}
	})
	if uses > 0 {
		return nil, false
	}
	return cmp, true
}

// bodyAsFunction wraps a block in a throwaway Function so
// ir.WalkInstructions can recurse into nested if/loop blocks beneath
// it without a dedicated block-walking helper.
func bodyAsFunction(body *ir.Block) *ir.Function {
	return &ir.Function{Entry: body}
}

func blockIsOnlyExit(b *ir.Block) bool {
	return b != nil && len(b.Instructions) == 1 && b.Instructions[0].Op == ir.OpExitLoop
}

func blockContainsExit(b *ir.Block) bool {
	if b == nil {
		return false
	}
	found := false
	ir.WalkInstructions(bodyAsFunction(b), func(inst *ir.Instruction) {
		if inst.Op == ir.OpExitLoop {
			found = true
		}
	})
	return found
}

// compareAgainstLoad reports whether cmp compares load against a
// constant, returning which side load is on and the constant's value
// (as a raw bit pattern, reinterpreted by the caller per signedness).
func compareAgainstLoad(cmp, load *ir.Instruction) (lcvLeft bool, k int64, ok bool) {
	if cmp.X == ir.Value(load) {
		if c, isConst := cmp.Y.(*ir.Const); isConst {
			return true, constRaw(c), true
		}
	}
	if cmp.Y == ir.Value(load) {
		if c, isConst := cmp.X.(*ir.Const); isConst {
			return false, constRaw(c), true
		}
	}
	return false, 0, false
}

func constRaw(c *ir.Const) int64 {
	if c.Type().IsSigned {
		v, _ := c.IsIntConst()
		return v
	}
	v, _ := c.AsUnsigned()
	return int64(v)
}

// isImpossibleBoundary rejects comparisons that are always false at a
// scalar boundary: idx<0u, idx>u32::MAX, idx>=u32::MIN, and their
// operand-mirrored counterparts (0u>idx, u32::MAX<idx, u32::MIN<=idx),
// canonicalized via the same family/mirror reduction ComputeLCVRange
// uses for the comparison itself. Signed comparisons have no such
// degenerate boundary within i32's range (every signed constant
// compared against is itself representable), so this only fires for
// the unsigned domain.
func isImpossibleBoundary(signed bool, pred enum.IPred, lcvLeft bool, k int64) bool {
	if signed {
		return false
	}
	family, ok := familyOf(pred)
	if !ok {
		return false
	}
	if !lcvLeft {
		family = family.mirror()
	}
	u := uint64(uint32(k))
	switch family {
	case relLT:
		return u == 0 // idx < 0u
	case relGT:
		return u == u32Max // idx > u32::MAX
	case relGE:
		return u == 0 // idx >= u32::MIN
	default:
		return false
	}
}
