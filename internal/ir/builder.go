package ir

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
)

// Builder is the small set of instruction-emitting operations used by
// the robustness transform. Every emitted instruction is inserted
// immediately before a fixed anchor instruction, in the anchor's own
// block — this is what keeps the transform's insertions immediately
// before the instruction that consumes them.
type Builder struct {
	fn     *Function
	before *Instruction
}

// NewBuilder returns a Builder that inserts new instructions directly
// before anchor, in anchor's own block.
func NewBuilder(fn *Function, anchor *Instruction) *Builder {
	return &Builder{fn: fn, before: anchor}
}

func (b *Builder) allocID() uint64 {
	return b.fn.AllocID()
}

func (b *Builder) insert(inst *Instruction) *Instruction {
	inst.id = b.allocID()
	blk := b.before.Block
	inst.Block = blk
	idx := indexOfInstruction(blk.Instructions, b.before)
	if idx < 0 {
		// Anchor is a structured terminator (exit_loop/next_iteration)
		// not tracked in its own block's slice lookup context; append.
		blk.Instructions = append(blk.Instructions, inst)
		return inst
	}
	blk.Instructions = append(blk.Instructions, nil)
	copy(blk.Instructions[idx+1:], blk.Instructions[idx:])
	blk.Instructions[idx] = inst
	return inst
}

func indexOfInstruction(list []*Instruction, target *Instruction) int {
	for idx, inst := range list {
		if inst == target {
			return idx
		}
	}
	return -1
}

// ConstInt materializes an integer constant of the given scalar type.
// Constants aren't inserted into a block; they're free-standing values
// the way llir/llvm's own constant.Int values are.
func (b *Builder) ConstInt(typ *Type, v int64) *Const {
	return &Const{id: b.allocID(), Typ: typ, Int: constant.NewInt(typ.Scalar, v)}
}

// ConstSplat materializes a vector constant whose every lane equals v,
// the only vector-constant shape this IR models: the literal used to
// turn a dynamic dimensions query into an inclusive limit.
func (b *Builder) ConstSplat(vecType *Type, v int64) *Const {
	return &Const{id: b.allocID(), Typ: vecType, Int: constant.NewInt(vecType.Elem.Scalar, v)}
}

func (b *Builder) binary(op BinOp, typ *Type, x, y Value) *Instruction {
	return b.insert(&Instruction{Op: OpBinary, Typ: typ, BinOp: op, X: x, Y: y})
}

func (b *Builder) Add(typ *Type, x, y Value) *Instruction { return b.binary(BinAdd, typ, x, y) }
func (b *Builder) Sub(typ *Type, x, y Value) *Instruction { return b.binary(BinSub, typ, x, y) }
func (b *Builder) Mul(typ *Type, x, y Value) *Instruction { return b.binary(BinMul, typ, x, y) }
func (b *Builder) Div(typ *Type, x, y Value) *Instruction { return b.binary(BinDiv, typ, x, y) }

// Min emits a call to the min builtin.
func (b *Builder) Min(typ *Type, x, y Value) *Instruction {
	return b.insert(&Instruction{Op: OpCall, Typ: typ, Builtin: BuiltinMin, Args: []Value{x, y}})
}

// Max emits a call to the max builtin.
func (b *Builder) Max(typ *Type, x, y Value) *Instruction {
	return b.insert(&Instruction{Op: OpCall, Typ: typ, Builtin: BuiltinMax, Args: []Value{x, y}})
}

// Convert emits an integer<->integer conversion of src to dstType.
func (b *Builder) Convert(dstType *Type, src Value) *Instruction {
	return b.insert(&Instruction{Op: OpConvert, Typ: dstType, Src: src})
}

// Access emits a pointer/value access of base through the given index
// chain, producing resultType.
func (b *Builder) Access(resultType *Type, base Value, indices ...Value) *Instruction {
	return b.insert(&Instruction{Op: OpAccess, Typ: resultType, Base: base, Indices: indices})
}

// Load emits a load from a pointer.
func (b *Builder) Load(resultType *Type, ptr Value) *Instruction {
	return b.insert(&Instruction{Op: OpLoad, Typ: resultType, Src: ptr})
}

// Store emits a store of val to ptr. Produces no result.
func (b *Builder) Store(ptr, val Value) *Instruction {
	return b.insert(&Instruction{Op: OpStore, Base: ptr, Src: val})
}

// Compare emits a comparison producing a bool.
func (b *Builder) Compare(pred enum.IPred, x, y Value) *Instruction {
	return b.insert(&Instruction{Op: OpCompare, Typ: Bool(), Pred: pred, X: x, Y: y})
}

// If emits an if instruction with fresh, empty True/False blocks and
// returns it; the caller populates the blocks' instructions directly.
func (b *Builder) If(cond Value) *Instruction {
	inst := &Instruction{
		Op:    OpIf,
		Cond:  cond,
		True:  &Block{id: b.allocID(), Parent: b.before.Block.Parent},
		False: &Block{id: b.allocID(), Parent: b.before.Block.Parent},
	}
	return b.insert(inst)
}

// NewVar declares a new function-scope stack variable of typ,
// zero-initialized, producing a pointer to it.
func (b *Builder) NewVar(typ *Type) *Instruction {
	ptrType := Pointer(typ, AddrSpaceFunction)
	return b.insert(&Instruction{Op: OpVar, Typ: ptrType, VarAddrSpace: AddrSpaceFunction})
}

// Call emits a call to a named builtin.
func (b *Builder) Call(builtin Builtin, resultType *Type, args ...Value) *Instruction {
	return b.insert(&Instruction{Op: OpCall, Typ: resultType, Builtin: builtin, Args: args})
}
