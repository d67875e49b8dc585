package robustness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/irguard/internal/ir"
)

// TestTextureLoadClampsLevelBeforeCoord builds a textureLoad with a
// dynamic level and a dynamic coord and checks that the coordinate's
// bounding dimensions query is taken against the *clamped* level, not
// the original one.
func TestTextureLoadClampsLevelBeforeCoord(t *testing.T) {
	fn := &ir.Function{Name: "main"}
	fn.Entry = ir.NewBlock(fn.AllocID(), fn)

	texType := ir.Texture(ir.Tex2D, false)
	tex := ir.NewFunctionParam(fn.AllocID(), "t", texType, ir.NoBuiltin)
	coord := ir.NewFunctionParam(fn.AllocID(), "coord", ir.Vector(ir.U32(), 2), ir.NoBuiltin)
	level := ir.NewFunctionParam(fn.AllocID(), "lvl", ir.U32(), ir.NoBuiltin)
	fn.Params = []*ir.FunctionParam{tex, coord, level}

	call := ir.NewInstruction(fn.AllocID(), ir.OpCall)
	call.Typ = ir.Vector(ir.U32(), 4)
	call.Builtin = ir.BuiltinTextureLoad
	call.Args = []ir.Value{tex, coord, level}
	call.Block = fn.Entry
	fn.Entry.Instructions = []*ir.Instruction{call}

	runOn(t, fn, Config{ClampTexture: true})

	clampedLevel, ok := call.Args[2].(*ir.Instruction)
	require.True(t, ok, "level must be rewritten to a clamp call")
	require.Equal(t, ir.BuiltinMin, clampedLevel.Builtin)
	assert.NotSame(t, level, clampedLevel)

	clampedCoord, ok := call.Args[1].(*ir.Instruction)
	require.True(t, ok, "coord must be rewritten to a clamp call")
	require.Equal(t, ir.BuiltinMin, clampedCoord.Builtin)

	limit, ok := clampedCoord.Args[1].(*ir.Instruction)
	require.True(t, ok)
	require.Equal(t, ir.BinSub, limit.BinOp)
	dims, ok := limit.X.(*ir.Instruction)
	require.True(t, ok)
	require.Equal(t, ir.BuiltinTextureDimensions, dims.Builtin)
	require.Len(t, dims.Args, 2)
	assert.Same(t, clampedLevel, dims.Args[1], "the dimensions query bounding coord must use the already-clamped level")
}

func TestTextureDimensionsClampsLevel(t *testing.T) {
	fn := &ir.Function{Name: "main"}
	fn.Entry = ir.NewBlock(fn.AllocID(), fn)

	tex := ir.NewFunctionParam(fn.AllocID(), "t", ir.Texture(ir.Tex2D, false), ir.NoBuiltin)
	level := ir.NewFunctionParam(fn.AllocID(), "lvl", ir.U32(), ir.NoBuiltin)
	fn.Params = []*ir.FunctionParam{tex, level}

	call := ir.NewInstruction(fn.AllocID(), ir.OpCall)
	call.Typ = ir.Vector(ir.U32(), 2)
	call.Builtin = ir.BuiltinTextureDimensions
	call.Args = []ir.Value{tex, level}
	call.Block = fn.Entry
	fn.Entry.Instructions = []*ir.Instruction{call}

	runOn(t, fn, Config{ClampTexture: true})

	clamped, ok := call.Args[1].(*ir.Instruction)
	require.True(t, ok)
	assert.Equal(t, ir.BuiltinMin, clamped.Builtin)
}

func TestTextureStoreClampsCoordThenArrayIndex(t *testing.T) {
	fn := &ir.Function{Name: "main"}
	fn.Entry = ir.NewBlock(fn.AllocID(), fn)

	texType := ir.StorageTexture(ir.Tex2D, true)
	tex := ir.NewFunctionParam(fn.AllocID(), "t", texType, ir.NoBuiltin)
	coord := ir.NewFunctionParam(fn.AllocID(), "coord", ir.Vector(ir.U32(), 2), ir.NoBuiltin)
	value := ir.NewFunctionParam(fn.AllocID(), "v", ir.Vector(ir.U32(), 4), ir.NoBuiltin)
	arrayIdx := ir.NewFunctionParam(fn.AllocID(), "layer", ir.U32(), ir.NoBuiltin)
	fn.Params = []*ir.FunctionParam{tex, coord, value, arrayIdx}

	call := ir.NewInstruction(fn.AllocID(), ir.OpCall)
	call.Builtin = ir.BuiltinTextureStore
	call.Args = []ir.Value{tex, coord, value, arrayIdx}
	call.Block = fn.Entry
	fn.Entry.Instructions = []*ir.Instruction{call}

	runOn(t, fn, Config{ClampTexture: true})

	_, ok := call.Args[1].(*ir.Instruction)
	assert.True(t, ok, "coord must be clamped")
	_, ok = call.Args[3].(*ir.Instruction)
	assert.True(t, ok, "array index must be clamped")
	assert.Same(t, value, call.Args[2], "the stored value itself is never touched")
}
