package robustness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/irguard/internal/ir"
)

// storageAccessFixture builds `var<storage> data: array<u32, N>` (or a
// runtime-sized array when fixedLen < 0) with a single access into it
// through idx.
type storageAccessFixture struct {
	fn     *ir.Function
	varIns *ir.Instruction
	access *ir.Instruction
}

func newStorageAccessFixture(t *testing.T, fixedLen int, idx ir.Value, binding ir.Binding) storageAccessFixture {
	t.Helper()
	fn := &ir.Function{Name: "main"}
	fn.Entry = ir.NewBlock(fn.AllocID(), fn)

	var arrType *ir.Type
	if fixedLen < 0 {
		arrType = ir.RuntimeArray(ir.U32())
	} else {
		arrType = ir.FixedArray(ir.U32(), uint32(fixedLen))
	}
	ptrType := ir.Pointer(arrType, ir.AddrSpaceStorage)

	v := ir.NewInstruction(fn.AllocID(), ir.OpVar)
	v.Typ = ptrType
	v.VarAddrSpace = ir.AddrSpaceStorage
	v.VarBinding = &binding
	v.Block = fn.Entry

	access := ir.NewInstruction(fn.AllocID(), ir.OpAccess)
	access.Typ = ir.Pointer(ir.U32(), ir.AddrSpaceStorage)
	access.Base = v
	access.Indices = []ir.Value{idx}
	access.Block = fn.Entry

	fn.Entry.Instructions = []*ir.Instruction{v, access}
	return storageAccessFixture{fn: fn, varIns: v, access: access}
}

func runOn(t *testing.T, fn *ir.Function, cfg Config) {
	t.Helper()
	m := &ir.Module{Name: "m", Functions: []*ir.Function{fn}}
	require.NoError(t, Run(m, cfg))
}

func TestConstantIndexClampedToArrayLength(t *testing.T) {
	idx := ir.NewConst(1000, ir.U32(), 5)
	f := newStorageAccessFixture(t, 4, idx, ir.Binding{Group: 0, Index: 0})
	runOn(t, f.fn, Config{ClampStorage: true})

	c, ok := f.access.Indices[0].(*ir.Const)
	require.True(t, ok)
	v, _ := c.AsUnsigned()
	assert.Equal(t, uint64(3), v)
}

func TestConstantIndexAlreadyInBoundsIsUnchanged(t *testing.T) {
	idx := ir.NewConst(1000, ir.U32(), 2)
	f := newStorageAccessFixture(t, 4, idx, ir.Binding{Group: 0, Index: 0})
	runOn(t, f.fn, Config{ClampStorage: true})

	c, ok := f.access.Indices[0].(*ir.Const)
	require.True(t, ok)
	v, _ := c.AsUnsigned()
	assert.Equal(t, uint64(2), v)
}

// modIndex builds a parameter mod 6, a dynamic value IRA can prove is
// in [0,5] regardless of the parameter's own range.
func modIndex(fn *ir.Function) ir.Value {
	p := ir.NewFunctionParam(fn.AllocID(), "n", ir.U32(), ir.NoBuiltin)
	fn.Params = append(fn.Params, p)
	six := ir.NewConst(fn.AllocID(), ir.U32(), 6)
	mod := ir.NewInstruction(fn.AllocID(), ir.OpBinary)
	mod.Typ = ir.U32()
	mod.BinOp = ir.BinMod
	mod.X, mod.Y = p, six
	mod.Block = fn.Entry
	fn.Entry.Instructions = append(fn.Entry.Instructions, mod)
	return mod
}

func TestDynamicIndexProvablyInBoundsIsSkipped(t *testing.T) {
	fn := &ir.Function{Name: "main"}
	fn.Entry = ir.NewBlock(fn.AllocID(), fn)
	idx := modIndex(fn)

	ptrType := ir.Pointer(ir.FixedArray(ir.U32(), 8), ir.AddrSpaceStorage)
	v := ir.NewInstruction(fn.AllocID(), ir.OpVar)
	v.Typ = ptrType
	v.VarAddrSpace = ir.AddrSpaceStorage
	v.VarBinding = &ir.Binding{Group: 0, Index: 0}
	v.Block = fn.Entry
	access := ir.NewInstruction(fn.AllocID(), ir.OpAccess)
	access.Typ = ir.Pointer(ir.U32(), ir.AddrSpaceStorage)
	access.Base = v
	access.Indices = []ir.Value{idx}
	access.Block = fn.Entry
	fn.Entry.Instructions = append(fn.Entry.Instructions, v, access)

	runOn(t, fn, Config{ClampStorage: true, UseIntegerRangeAnalysis: true})
	assert.Same(t, idx, access.Indices[0], "a provably in-bounds [0,5] index into a length-8 array is never wrapped")
}

func TestDynamicIndexNotProvablyInBoundsIsClamped(t *testing.T) {
	fn := &ir.Function{Name: "main"}
	fn.Entry = ir.NewBlock(fn.AllocID(), fn)
	idx := modIndex(fn)

	ptrType := ir.Pointer(ir.FixedArray(ir.U32(), 4), ir.AddrSpaceStorage)
	v := ir.NewInstruction(fn.AllocID(), ir.OpVar)
	v.Typ = ptrType
	v.VarAddrSpace = ir.AddrSpaceStorage
	v.VarBinding = &ir.Binding{Group: 0, Index: 0}
	v.Block = fn.Entry
	access := ir.NewInstruction(fn.AllocID(), ir.OpAccess)
	access.Typ = ir.Pointer(ir.U32(), ir.AddrSpaceStorage)
	access.Base = v
	access.Indices = []ir.Value{idx}
	access.Block = fn.Entry
	fn.Entry.Instructions = append(fn.Entry.Instructions, v, access)

	runOn(t, fn, Config{ClampStorage: true, UseIntegerRangeAnalysis: true})

	call, ok := access.Indices[0].(*ir.Instruction)
	require.True(t, ok)
	require.Equal(t, ir.OpCall, call.Op)
	require.Equal(t, ir.BuiltinMin, call.Builtin)
	assert.Same(t, idx, call.Args[0])
	limit, ok := call.Args[1].(*ir.Const)
	require.True(t, ok)
	v2, _ := limit.AsUnsigned()
	assert.Equal(t, uint64(3), v2)
}

func TestIgnoredBindingIsNeverClamped(t *testing.T) {
	idx := ir.NewConst(1000, ir.U32(), 9)
	binding := ir.Binding{Group: 1, Index: 2}
	f := newStorageAccessFixture(t, 4, idx, binding)
	runOn(t, f.fn, Config{
		ClampStorage:    true,
		BindingsIgnored: map[ir.Binding]struct{}{binding: {}},
	})
	assert.Same(t, idx, f.access.Indices[0])
}

func TestRuntimeArrayClampingDisabledSkipsArrayLengthCall(t *testing.T) {
	idx := ir.NewConst(1000, ir.U32(), 9)
	f := newStorageAccessFixture(t, -1, idx, ir.Binding{Group: 0, Index: 0})
	runOn(t, f.fn, Config{ClampStorage: true, DisableRuntimeSizedArrayIndexClamping: true})

	assert.Same(t, idx, f.access.Indices[0])
	for _, inst := range f.fn.Entry.Instructions {
		if inst.Op == ir.OpCall {
			assert.NotEqual(t, ir.BuiltinArrayLength, inst.Builtin)
		}
	}
}

func TestRuntimeArrayIndexClampedViaArrayLength(t *testing.T) {
	idx := ir.NewFunctionParam(2000, "n", ir.U32(), ir.NoBuiltin)
	f := newStorageAccessFixture(t, -1, idx, ir.Binding{Group: 0, Index: 0})
	f.fn.Params = []*ir.FunctionParam{idx}
	runOn(t, f.fn, Config{ClampStorage: true})

	call, ok := f.access.Indices[0].(*ir.Instruction)
	require.True(t, ok)
	require.Equal(t, ir.OpCall, call.Op)
	require.Equal(t, ir.BuiltinMin, call.Builtin)

	sub, ok := call.Args[1].(*ir.Instruction)
	require.True(t, ok)
	require.Equal(t, ir.BinSub, sub.BinOp)
	lenCall, ok := sub.X.(*ir.Instruction)
	require.True(t, ok)
	assert.Equal(t, ir.BuiltinArrayLength, lenCall.Builtin)
}

func TestRepeatRunIsIdempotent(t *testing.T) {
	idx := ir.NewFunctionParam(3000, "n", ir.U32(), ir.NoBuiltin)
	f := newStorageAccessFixture(t, 4, idx, ir.Binding{Group: 0, Index: 0})
	f.fn.Params = []*ir.FunctionParam{idx}
	runOn(t, f.fn, Config{ClampStorage: true})

	firstCount := len(f.fn.Entry.Instructions)
	runOn(t, f.fn, Config{ClampStorage: true})
	assert.Equal(t, firstCount, len(f.fn.Entry.Instructions), "a second pass must not stack a redundant clamp")
}

func TestValidationFailureLeavesModuleUntouched(t *testing.T) {
	idx := ir.NewConst(1000, ir.U32(), 5)
	f := newStorageAccessFixture(t, 4, idx, ir.Binding{Group: 0, Index: 0})
	f.fn.Name = "" // fails validation
	m := &ir.Module{Name: "m", Functions: []*ir.Function{f.fn}}

	err := Run(m, Config{ClampStorage: true})
	require.Error(t, err)
	assert.Same(t, idx, f.access.Indices[0])
}
