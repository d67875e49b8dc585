package ir

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
)

// Value is anything that carries a type and can be used as an
// operand: a function parameter, a constant, or an instruction result.
type Value interface {
	ValueID() uint64
	Type() *Type
}

// Opcode identifies the operation an Instruction performs.
type Opcode int

const (
	OpConstant Opcode = iota
	OpLet                  // aliasing move: propagates Src's range unchanged
	OpBinary               // arithmetic/shift, see BinOp
	OpConvert              // integer<->integer or integer<->float conversion
	OpCompare              // produces a bool; Pred + X, Y
	OpAccess               // base + Indices -> pointer or value
	OpLoad                 // Src is the pointer being read
	OpStore                // Base is pointer, Src is stored value
	OpVar                  // declares a new pointer-typed variable
	OpCall                 // Builtin + Args
	OpLoadVectorElement    // Base ptr, Indices[0] element index
	OpStoreVectorElement   // Base ptr, Indices[0] element index, Src value
	OpIf                   // Cond -> True/False blocks
	OpLoop                 // Init/Body/Continuing blocks
	OpExitLoop             // loop-exit terminator
	OpNextIteration        // loop back-edge terminator
	OpBreakIf
	OpReturn
)

// BinOp identifies an arithmetic or shift binary operator.
type BinOp int

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinShl
	BinShr
)

// Builtin names the handful of builtin calls the transform and
// evaluator recognize.
type Builtin string

const (
	BuiltinMin                 Builtin = "min"
	BuiltinMax                 Builtin = "max"
	BuiltinArrayLength         Builtin = "arrayLength"
	BuiltinTextureDimensions   Builtin = "textureDimensions"
	BuiltinTextureNumLevels    Builtin = "textureNumLevels"
	BuiltinTextureNumLayers    Builtin = "textureNumLayers"
	BuiltinTextureLoad         Builtin = "textureLoad"
	BuiltinTextureStore        Builtin = "textureStore"
	BuiltinSubgroupMatrixLoad  Builtin = "subgroupMatrixLoad"
	BuiltinSubgroupMatrixStore Builtin = "subgroupMatrixStore"
)

// Binding is a (group, binding) pair identifying a storage/uniform
// resource binding point.
type Binding struct {
	Group, Index uint32
}

// Key packs a Binding into a single int, suitable for use with
// golang.org/x/tools/container/intsets.Sparse.
func (b Binding) Key() int { return int(b.Group)<<32 | int(b.Index) }

// ParamBuiltin identifies the two compute-shader built-ins the
// evaluator gives special-cased bounds.
type ParamBuiltin int

const (
	NoBuiltin ParamBuiltin = iota
	LocalInvocationIndex
	LocalInvocationID
)

// Const is an IR constant. Only integer scalar constants carry a
// backing llir/llvm constant.Int; every other kind of constant
// (floats, aggregates) evaluates to Invalid in the range evaluator.
type Const struct {
	id  uint64
	Typ *Type
	Int *constant.Int // non-nil only for integer scalar constants
}

func (c *Const) ValueID() uint64 { return c.id }
func (c *Const) Type() *Type     { return c.Typ }

// NewConst builds a free-standing integer constant with an explicit
// id. Used directly by test fixtures and by anything assembling IR
// outside of a Builder's anchor-relative insertion; Builder.ConstInt
// is the in-pass equivalent that allocates its own id.
func NewConst(id uint64, typ *Type, v int64) *Const {
	return &Const{id: id, Typ: typ, Int: constant.NewInt(typ.Scalar, v)}
}

// IsIntConst reports whether c is a concrete integer scalar constant,
// and if so returns its value as a signed 64-bit view; AsUnsigned
// returns the unsigned view.
func (c *Const) IsIntConst() (v int64, ok bool) {
	if c.Int == nil {
		return 0, false
	}
	return c.Int.X.Int64(), true
}

// AsUnsigned returns c's value reinterpreted as unsigned.
func (c *Const) AsUnsigned() (v uint64, ok bool) {
	if c.Int == nil {
		return 0, false
	}
	return c.Int.X.Uint64(), true
}

// FunctionParam is a function parameter, possibly bound to one of the
// two recognized compute-shader built-ins.
type FunctionParam struct {
	id      uint64
	name    string
	Typ     *Type
	Builtin ParamBuiltin
}

func (p *FunctionParam) ValueID() uint64 { return p.id }
func (p *FunctionParam) Type() *Type     { return p.Typ }
func (p *FunctionParam) Name() string    { return p.name }

// NewFunctionParam builds a function parameter with an explicit id.
func NewFunctionParam(id uint64, name string, typ *Type, builtin ParamBuiltin) *FunctionParam {
	return &FunctionParam{id: id, name: name, Typ: typ, Builtin: builtin}
}

// Instruction is a single IR operation. Not every field is meaningful
// for every Op; see the Opcode constants above for which fields a
// given opcode reads. Instructions that produce no result (store,
// exit_loop, next_iteration, return) have a nil result Type.
type Instruction struct {
	id    uint64
	Op    Opcode
	Typ   *Type // result type, nil if this instruction produces no value
	Block *Block

	// Generic operands, used by OpLet, OpConvert, OpStore (value),
	// OpLoad (pointer), OpStoreVectorElement (value).
	Src Value

	// OpBinary / OpCompare
	X, Y Value
	BinOp BinOp
	Pred  enum.IPred

	// OpAccess / OpLoadVectorElement / OpStoreVectorElement / OpStore (Base only)
	Base    Value
	Indices []Value

	// OpCall
	Builtin Builtin
	Args    []Value

	// OpVar
	VarAddrSpace AddrSpace
	VarBinding   *Binding
	Initial      Value // non-nil for "var x = <const>" declarations

	// OpIf
	Cond        Value
	True, False *Block

	// OpLoop
	Init, Body, Continuing *Block

	// debug name, optional
	Name string
}

func (i *Instruction) ValueID() uint64 { return i.id }
func (i *Instruction) Type() *Type     { return i.Typ }

// NewInstruction builds a bare instruction with an explicit id and
// opcode, for callers assembling IR directly rather than through a
// Builder (test fixtures, and whatever upstream component materializes
// whole functions at once). The caller sets whichever fields the
// opcode reads and appends it to a Block's Instructions directly.
func NewInstruction(id uint64, op Opcode) *Instruction {
	return &Instruction{id: id, Op: op}
}

// Operands returns pointers into this instruction's operand slots, in
// the same spirit as llir/llvm's own Instruction.Operands(): a
// mutation pass can range over these and swap values in place via
// SetOperand without needing an opcode-specific switch at every call
// site.
func (i *Instruction) Operands() []*Value {
	var ops []*Value
	switch i.Op {
	case OpLet, OpConvert, OpLoad:
		ops = append(ops, &i.Src)
	case OpStore:
		ops = append(ops, &i.Base, &i.Src)
	case OpBinary, OpCompare:
		ops = append(ops, &i.X, &i.Y)
	case OpAccess, OpLoadVectorElement:
		ops = append(ops, &i.Base)
		for idx := range i.Indices {
			ops = append(ops, &i.Indices[idx])
		}
	case OpStoreVectorElement:
		ops = append(ops, &i.Base)
		for idx := range i.Indices {
			ops = append(ops, &i.Indices[idx])
		}
		ops = append(ops, &i.Src)
	case OpCall:
		for idx := range i.Args {
			ops = append(ops, &i.Args[idx])
		}
	case OpIf:
		ops = append(ops, &i.Cond)
	}
	return ops
}

// Block is a straight-line sequence of instructions. Loop and If
// instructions own nested Blocks (Init/Body/Continuing, True/False)
// rather than branching to flat basic blocks elsewhere in the
// function, matching the structured-control-flow IR this analysis was
// designed against.
type Block struct {
	id           uint64
	Instructions []*Instruction
	Parent       *Function
}

// NewBlock builds an empty block with an explicit id.
func NewBlock(id uint64, parent *Function) *Block {
	return &Block{id: id, Parent: parent}
}

// Function is a single shader entry point or helper function.
type Function struct {
	Name          string
	Params        []*FunctionParam
	WorkgroupSize *[3]uint32 // nil unless this is a compute entry point with a constant workgroup size
	Entry         *Block
	nextID        uint64
}

// AllocID hands out the next unique value id scoped to fn, the same
// counter Builder itself draws from.
func (fn *Function) AllocID() uint64 {
	fn.nextID++
	return fn.nextID
}

// Module is the top-level compilation unit.
type Module struct {
	Name      string
	Functions []*Function
}
