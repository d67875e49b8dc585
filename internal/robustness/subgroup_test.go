package robustness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/irguard/internal/ir"
)

// TestSubgroupMatrixLoadStaticallySafeIsUnchanged: a 4x4 column-major
// u32 matrix loaded at offset 0, stride 4, from a fixed length-16
// array never needs a guard: (cols-1)*stride+rows = 3*4+4 = 16 <= 16.
func TestSubgroupMatrixLoadStaticallySafeIsUnchanged(t *testing.T) {
	fn := &ir.Function{Name: "main"}
	fn.Entry = ir.NewBlock(fn.AllocID(), fn)

	arrType := ir.FixedArray(ir.U32(), 16)
	data := ir.NewInstruction(fn.AllocID(), ir.OpVar)
	data.Typ = ir.Pointer(arrType, ir.AddrSpaceStorage)
	data.Block = fn.Entry

	offset := ir.NewConst(fn.AllocID(), ir.U32(), 0)
	stride := ir.NewConst(fn.AllocID(), ir.U32(), 4)
	matType := ir.SubgroupMatrix(4, 4, ir.U32(), ir.ColumnMajor)

	load := ir.NewInstruction(fn.AllocID(), ir.OpCall)
	load.Typ = matType
	load.Builtin = ir.BuiltinSubgroupMatrixLoad
	load.Args = []ir.Value{data, offset, stride}
	load.Block = fn.Entry
	fn.Entry.Instructions = []*ir.Instruction{data, load}

	runOn(t, fn, Config{PredicateSubgroupMatrix: true})

	require.Len(t, fn.Entry.Instructions, 2, "a statically-safe access gets no guard")
	assert.Equal(t, ir.OpCall, fn.Entry.Instructions[1].Op)
	assert.Same(t, stride, load.Args[2], "a stride already at the layout minimum is left alone")
}

// TestSubgroupMatrixLoadBelowMinStrideIsRepaired checks stride repair
// fires even when PredicateSubgroupMatrix is off.
func TestSubgroupMatrixLoadBelowMinStrideIsRepaired(t *testing.T) {
	fn := &ir.Function{Name: "main"}
	fn.Entry = ir.NewBlock(fn.AllocID(), fn)

	arrType := ir.FixedArray(ir.U32(), 16)
	data := ir.NewInstruction(fn.AllocID(), ir.OpVar)
	data.Typ = ir.Pointer(arrType, ir.AddrSpaceStorage)
	data.Block = fn.Entry

	offset := ir.NewConst(fn.AllocID(), ir.U32(), 0)
	stride := ir.NewConst(fn.AllocID(), ir.U32(), 2) // below minStride (4)
	matType := ir.SubgroupMatrix(4, 4, ir.U32(), ir.ColumnMajor)

	load := ir.NewInstruction(fn.AllocID(), ir.OpCall)
	load.Typ = matType
	load.Builtin = ir.BuiltinSubgroupMatrixLoad
	load.Args = []ir.Value{data, offset, stride}
	load.Block = fn.Entry
	fn.Entry.Instructions = []*ir.Instruction{data, load}

	runOn(t, fn, Config{})

	repaired, ok := load.Args[2].(*ir.Const)
	require.True(t, ok)
	v, _ := repaired.AsUnsigned()
	assert.Equal(t, uint64(4), v)
}

// TestSubgroupMatrixLoadRuntimeArrayIsGuarded: a runtime-sized backing
// array makes the bound un-provable statically, so a guard must be
// emitted (load moves inside the guard, result flows through a stack
// variable, and every other use is redirected to it).
func TestSubgroupMatrixLoadRuntimeArrayIsGuarded(t *testing.T) {
	fn := &ir.Function{Name: "main"}
	fn.Entry = ir.NewBlock(fn.AllocID(), fn)

	arrType := ir.RuntimeArray(ir.U32())
	data := ir.NewInstruction(fn.AllocID(), ir.OpVar)
	data.Typ = ir.Pointer(arrType, ir.AddrSpaceStorage)
	data.Block = fn.Entry

	offsetParam := ir.NewFunctionParam(fn.AllocID(), "offset", ir.U32(), ir.NoBuiltin)
	strideParam := ir.NewFunctionParam(fn.AllocID(), "stride", ir.U32(), ir.NoBuiltin)
	fn.Params = []*ir.FunctionParam{offsetParam, strideParam}
	matType := ir.SubgroupMatrix(4, 4, ir.U32(), ir.ColumnMajor)

	load := ir.NewInstruction(fn.AllocID(), ir.OpCall)
	load.Typ = matType
	load.Builtin = ir.BuiltinSubgroupMatrixLoad
	load.Args = []ir.Value{data, offsetParam, strideParam}
	load.Block = fn.Entry

	use := ir.NewInstruction(fn.AllocID(), ir.OpLet)
	use.Typ = matType
	use.Src = load
	use.Block = fn.Entry

	fn.Entry.Instructions = []*ir.Instruction{data, load, use}

	runOn(t, fn, Config{PredicateSubgroupMatrix: true})

	var ifInst *ir.Instruction
	for _, inst := range fn.Entry.Instructions {
		if inst.Op == ir.OpIf {
			ifInst = inst
		}
	}
	require.NotNil(t, ifInst, "an unprovable bound must be guarded")
	require.Len(t, ifInst.True.Instructions, 2)
	assert.Same(t, load, ifInst.True.Instructions[0], "the original call moves into the guard")

	store := ifInst.True.Instructions[1]
	require.Equal(t, ir.OpStore, store.Op)
	assert.Same(t, load, store.Src)

	stackVar := store.Base
	assert.NotSame(t, use, stackVar)

	require.NotSame(t, load, use.Src, "other uses must no longer reference the moved call directly")
	loadBack, ok := use.Src.(*ir.Instruction)
	require.True(t, ok)
	assert.Equal(t, ir.OpLoad, loadBack.Op)
	assert.Same(t, stackVar, loadBack.Src)
}

func TestSubgroupMatrixStoreGuardSkipsCallOutOfBounds(t *testing.T) {
	fn := &ir.Function{Name: "main"}
	fn.Entry = ir.NewBlock(fn.AllocID(), fn)

	arrType := ir.RuntimeArray(ir.U32())
	data := ir.NewInstruction(fn.AllocID(), ir.OpVar)
	data.Typ = ir.Pointer(arrType, ir.AddrSpaceStorage)
	data.Block = fn.Entry

	offsetParam := ir.NewFunctionParam(fn.AllocID(), "offset", ir.U32(), ir.NoBuiltin)
	strideParam := ir.NewFunctionParam(fn.AllocID(), "stride", ir.U32(), ir.NoBuiltin)
	matType := ir.SubgroupMatrix(4, 4, ir.U32(), ir.ColumnMajor)
	matrixVal := ir.NewFunctionParam(fn.AllocID(), "m", matType, ir.NoBuiltin)
	fn.Params = []*ir.FunctionParam{offsetParam, strideParam, matrixVal}

	store := ir.NewInstruction(fn.AllocID(), ir.OpCall)
	store.Builtin = ir.BuiltinSubgroupMatrixStore
	store.Args = []ir.Value{data, offsetParam, matrixVal, strideParam}
	store.Block = fn.Entry
	fn.Entry.Instructions = []*ir.Instruction{data, store}

	runOn(t, fn, Config{PredicateSubgroupMatrix: true})

	var ifInst *ir.Instruction
	for _, inst := range fn.Entry.Instructions {
		if inst.Op == ir.OpIf {
			ifInst = inst
		}
	}
	require.NotNil(t, ifInst)
	require.Len(t, ifInst.True.Instructions, 1)
	assert.Same(t, store, ifInst.True.Instructions[0])
}
