package robustness

import (
	"github.com/llir/llvm/ir/enum"

	"github.com/dshills/irguard/internal/ir"
	"github.com/dshills/irguard/internal/ira"
)

// Argument layout this pass assumes for the subgroup-matrix builtins:
// subgroupMatrixLoad(data, offset, stride) -> matrix (matrix shape and
// layout carried on the result type); subgroupMatrixStore(data, offset,
// matrix, stride).
func (t *Transform) processSubgroupMatrix(fn *ir.Function, an *ira.Analysis, inst *ir.Instruction) {
	switch inst.Builtin {
	case ir.BuiltinSubgroupMatrixLoad:
		t.processSubgroupMatrixLoad(fn, inst)
	case ir.BuiltinSubgroupMatrixStore:
		t.processSubgroupMatrixStore(fn, inst)
	}
}

func (t *Transform) processSubgroupMatrixLoad(fn *ir.Function, inst *ir.Instruction) {
	mt := inst.Typ
	data, offset := inst.Args[0], inst.Args[1]
	stride, strideConst, strideOK := t.repairStride(fn, inst, mt.SGLayout, mt.MatRows, mt.MatCols, inst.Args[2])
	inst.Args[2] = stride

	if !t.cfg.PredicateSubgroupMatrix {
		return
	}
	arrType := data.Type().Elem
	length, lengthConst, lengthOK := t.arrayElementCount(fn, inst, data, arrType, mt.SGComponent)
	if staticallySafe(offset, strideConst, strideOK, lengthConst, lengthOK, mt.SGLayout, mt.MatRows, mt.MatCols) {
		return
	}
	t.guardLoad(fn, inst, offset, stride, length, mt.SGLayout, mt.MatRows, mt.MatCols)
}

func (t *Transform) processSubgroupMatrixStore(fn *ir.Function, inst *ir.Instruction) {
	data, offset, matrix := inst.Args[0], inst.Args[1], inst.Args[2]
	mt := matrix.Type()
	stride, strideConst, strideOK := t.repairStride(fn, inst, mt.SGLayout, mt.MatRows, mt.MatCols, inst.Args[3])
	inst.Args[3] = stride

	if !t.cfg.PredicateSubgroupMatrix {
		return
	}
	arrType := data.Type().Elem
	length, lengthConst, lengthOK := t.arrayElementCount(fn, inst, data, arrType, mt.SGComponent)
	if staticallySafe(offset, strideConst, strideOK, lengthConst, lengthOK, mt.SGLayout, mt.MatRows, mt.MatCols) {
		return
	}
	t.guardStore(fn, inst, offset, stride, length, mt.SGLayout, mt.MatRows, mt.MatCols)
}

// minStride is the smallest stride that keeps consecutive major-order
// vectors from overlapping: a column-major matrix's columns are each
// `rows` elements long, a row-major matrix's rows are each `cols`.
func minStride(layout ir.MatrixLayout, rows, cols uint32) uint32 {
	if layout == ir.ColumnMajor {
		return rows
	}
	return cols
}

// majorDim is the number of major-order vectors the matrix is laid out
// as (columns for column-major, rows for row-major).
func majorDim(layout ir.MatrixLayout, rows, cols uint32) uint32 {
	if layout == ir.ColumnMajor {
		return cols
	}
	return rows
}

// repairStride rewrites stride up to the layout's minimum: a constant
// stride below the minimum becomes the minimum constant; a dynamic
// stride is wrapped in max(stride, min_stride). Always applied,
// regardless of Config.PredicateSubgroupMatrix.
func (t *Transform) repairStride(fn *ir.Function, anchor *ir.Instruction, layout ir.MatrixLayout, rows, cols uint32, stride ir.Value) (repaired ir.Value, constVal int64, constOK bool) {
	min := minStride(layout, rows, cols)
	if c, isConst := stride.(*ir.Const); isConst {
		v, _ := c.AsUnsigned()
		if v < uint64(min) {
			return constU32(fn, int64(min)), int64(min), true
		}
		return stride, int64(v), true
	}
	b := ir.NewBuilder(fn, anchor)
	minC := b.ConstInt(ir.U32(), int64(min))
	return b.Max(ir.U32(), stride, minC), 0, false
}

// arrayElementCount returns data's backing array length, in the same
// units as offset and stride. An 8-bit packed component stores four
// lanes per 32-bit word, so a fixed array's element length is first
// floor-divided by four (the array must be sized in whole words).
func (t *Transform) arrayElementCount(fn *ir.Function, anchor *ir.Instruction, data ir.Value, arrType *ir.Type, component *ir.Type) (length ir.Value, lengthConst int64, lengthConstOK bool) {
	packed := component.Bits() == 8
	if arrType.ArrayRuntime {
		b := ir.NewBuilder(fn, anchor)
		n := ir.Value(b.Call(ir.BuiltinArrayLength, ir.U32(), data))
		if packed {
			four := b.ConstInt(ir.U32(), 4)
			n = b.Div(ir.U32(), n, four)
		}
		return n, 0, false
	}
	k := int64(arrType.ArrayLen)
	if packed {
		k /= 4
	}
	return constU32(fn, k), k, true
}

// staticallySafe reports whether offset, stride, and length are all
// compile-time constants for which the access is provably in bounds,
// so no guard is needed at all.
func staticallySafe(offset ir.Value, strideConst int64, strideOK bool, lengthConst int64, lengthOK bool, layout ir.MatrixLayout, rows, cols uint32) bool {
	if !strideOK || !lengthOK {
		return false
	}
	oc, ok := offset.(*ir.Const)
	if !ok {
		return false
	}
	offsetConst, _ := oc.AsUnsigned()
	end := int64(offsetConst) + (int64(majorDim(layout, rows, cols))-1)*strideConst + int64(minStride(layout, rows, cols))
	return end <= lengthConst
}

func endValue(b *ir.Builder, offset, stride ir.Value, layout ir.MatrixLayout, rows, cols uint32) *ir.Instruction {
	majorMinus1 := b.ConstInt(ir.U32(), int64(majorDim(layout, rows, cols))-1)
	term := b.Mul(ir.U32(), majorMinus1, stride)
	sum := b.Add(ir.U32(), offset, term)
	minS := b.ConstInt(ir.U32(), int64(minStride(layout, rows, cols)))
	return b.Add(ir.U32(), sum, minS)
}

// guardLoad wraps inst's call in an if(end <= length) guard: a stack
// variable is declared ahead of the guard, the call moves into the
// guard's True block and stores its result into that variable, and
// every other use of the call's original result is redirected to a
// load of the variable taken after the guard.
func (t *Transform) guardLoad(fn *ir.Function, inst *ir.Instruction, offset, stride, length ir.Value, layout ir.MatrixLayout, rows, cols uint32) {
	blk := inst.Block
	b := ir.NewBuilder(fn, inst)
	stackVar := b.NewVar(inst.Typ)
	end := endValue(b, offset, stride, layout, rows, cols)
	cond := b.Compare(enum.IPredULE, end, length)
	ifInst := b.If(cond)

	ir.Remove(inst)
	inst.Block = ifInst.True
	ifInst.True.Instructions = append(ifInst.True.Instructions, inst)

	loadBack := ir.NewInstruction(fn.AllocID(), ir.OpLoad)
	loadBack.Typ = inst.Typ
	loadBack.Src = stackVar
	loadBack.Block = blk
	insertAfter(blk, ifInst, loadBack)

	ir.ReplaceAllUsesWith(fn, inst, loadBack)

	storeInst := ir.NewInstruction(fn.AllocID(), ir.OpStore)
	storeInst.Base = stackVar
	storeInst.Src = inst
	storeInst.Block = ifInst.True
	ifInst.True.Instructions = append(ifInst.True.Instructions, storeInst)
}

// guardStore wraps inst's call in an if(end <= length) guard; the
// store is simply skipped when out of bounds, no stack variable
// needed.
func (t *Transform) guardStore(fn *ir.Function, inst *ir.Instruction, offset, stride, length ir.Value, layout ir.MatrixLayout, rows, cols uint32) {
	b := ir.NewBuilder(fn, inst)
	end := endValue(b, offset, stride, layout, rows, cols)
	cond := b.Compare(enum.IPredULE, end, length)
	ifInst := b.If(cond)

	ir.Remove(inst)
	inst.Block = ifInst.True
	ifInst.True.Instructions = append(ifInst.True.Instructions, inst)
}

// insertAfter splices inst into blk immediately following after,
// mirroring Builder.insert's before-anchor splice in the other
// direction; used once the anchor (the guard's If) already sits where
// the guarded call used to be.
func insertAfter(blk *ir.Block, after *ir.Instruction, inst *ir.Instruction) {
	idx := -1
	for i, in := range blk.Instructions {
		if in == after {
			idx = i
			break
		}
	}
	if idx < 0 {
		blk.Instructions = append(blk.Instructions, inst)
		return
	}
	blk.Instructions = append(blk.Instructions, nil)
	copy(blk.Instructions[idx+2:], blk.Instructions[idx+1:])
	blk.Instructions[idx+1] = inst
}
