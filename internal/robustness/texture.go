package robustness

import (
	"github.com/dshills/irguard/internal/ir"
	"github.com/dshills/irguard/internal/ira"
)

// Argument layout this pass assumes for the three texture builtins:
// textureDimensions(tex[, level]); textureLoad(tex, coord[,
// arrayIndex][, level]), arrayIndex present iff the texture type is
// arrayed and level present iff it is sampled; textureStore(tex,
// coord, value[, arrayIndex]).
func (t *Transform) processTexture(fn *ir.Function, an *ira.Analysis, inst *ir.Instruction) {
	switch inst.Builtin {
	case ir.BuiltinTextureDimensions:
		t.processTextureDimensions(fn, inst)
	case ir.BuiltinTextureLoad:
		t.processTextureLoad(fn, an, inst)
	case ir.BuiltinTextureStore:
		t.processTextureStore(fn, an, inst)
	}
}

func (t *Transform) processTextureDimensions(fn *ir.Function, inst *ir.Instruction) {
	if len(inst.Args) < 2 {
		return
	}
	t.clampLevel(fn, inst, inst.Args[0], &inst.Args[1])
}

// processTextureLoad clamps, in order, the array index, the mip level,
// and finally the coordinate — level must be clamped before the
// dimensions query that bounds the coordinate is issued, since that
// query is taken at the clamped level.
func (t *Transform) processTextureLoad(fn *ir.Function, an *ira.Analysis, inst *ir.Instruction) {
	tex := inst.Args[0]
	texType := tex.Type()
	pos := 2
	arrayIdxPos, levelPos := -1, -1
	if texType.TexArrayed {
		arrayIdxPos = pos
		pos++
	}
	if texType.TexSampled {
		levelPos = pos
		pos++
	}
	if arrayIdxPos >= 0 {
		t.clampArrayIndex(fn, inst, tex, &inst.Args[arrayIdxPos])
	}
	var level ir.Value
	if levelPos >= 0 {
		t.clampLevel(fn, inst, tex, &inst.Args[levelPos])
		level = inst.Args[levelPos]
	}
	t.clampCoord(fn, an, inst, tex, level, &inst.Args[1])
}

// processTextureStore clamps the coordinate at the base level, then
// the array index; textureStore has no level argument.
func (t *Transform) processTextureStore(fn *ir.Function, an *ira.Analysis, inst *ir.Instruction) {
	tex := inst.Args[0]
	t.clampCoord(fn, an, inst, tex, nil, &inst.Args[1])
	if tex.Type().TexArrayed && len(inst.Args) > 3 {
		t.clampArrayIndex(fn, inst, tex, &inst.Args[3])
	}
}

func (t *Transform) clampLevel(fn *ir.Function, anchor *ir.Instruction, tex ir.Value, level *ir.Value) {
	b := ir.NewBuilder(fn, anchor)
	numLevels := b.Call(ir.BuiltinTextureNumLevels, ir.U32(), tex)
	one := b.ConstInt(ir.U32(), 1)
	limit := b.Sub(ir.U32(), numLevels, one)
	*level = clampToUnsigned(b, *level, limit)
}

func (t *Transform) clampArrayIndex(fn *ir.Function, anchor *ir.Instruction, tex ir.Value, arrayIndex *ir.Value) {
	b := ir.NewBuilder(fn, anchor)
	numLayers := b.Call(ir.BuiltinTextureNumLayers, ir.U32(), tex)
	one := b.ConstInt(ir.U32(), 1)
	limit := b.Sub(ir.U32(), numLayers, one)
	*arrayIndex = clampToUnsigned(b, *arrayIndex, limit)
}

// clampCoord bounds coord to a fresh textureDimensions query at level
// (or the base level, when level is nil). Coordinates are vectors (or,
// for Tex1D, a scalar); min is component-wise either way, so no
// decomposition is needed.
func (t *Transform) clampCoord(fn *ir.Function, an *ira.Analysis, anchor *ir.Instruction, tex ir.Value, level ir.Value, coord *ir.Value) {
	coordType := (*coord).Type()
	uType := toUnsignedType(coordType)
	b := ir.NewBuilder(fn, anchor)
	var dims *ir.Instruction
	if level != nil {
		dims = b.Call(ir.BuiltinTextureDimensions, uType, tex, level)
	} else {
		dims = b.Call(ir.BuiltinTextureDimensions, uType, tex)
	}
	var one *ir.Const
	if uType.Kind == ir.KindVector {
		one = b.ConstSplat(uType, 1)
	} else {
		one = b.ConstInt(uType, 1)
	}
	limit := b.Sub(uType, dims, one)
	*coord = clampToUnsigned(b, *coord, limit)
}

func clampToUnsigned(b *ir.Builder, idx ir.Value, limit ir.Value) *ir.Instruction {
	u := idx
	if isSignedType(idx.Type()) {
		u = b.Convert(toUnsignedType(idx.Type()), idx)
	}
	return b.Min(toUnsignedType(idx.Type()), u, limit)
}

func isSignedType(t *ir.Type) bool {
	if t.Kind == ir.KindVector {
		return t.Elem.IsSigned
	}
	return t.IsSigned
}

func toUnsignedType(t *ir.Type) *ir.Type {
	if t.Kind == ir.KindVector {
		return ir.Vector(ir.U32(), t.VecWidth)
	}
	return ir.U32()
}
