package ir

// ReplaceAllUsesWith rewrites every operand slot across fn that holds
// old to instead hold new. Used after predicating a subgroup-matrix
// load, where the call's original result is replaced by a load of the
// guard's stack variable.
func ReplaceAllUsesWith(fn *Function, old, new Value) {
	walkInstructions(fn, func(inst *Instruction) {
		for _, slot := range inst.Operands() {
			if *slot == old {
				*slot = new
			}
		}
		if inst.Op == OpIf && inst.Cond == old {
			inst.Cond = new
		}
	})
}

// SetOperand overwrites the operand at the given index (as returned by
// Instruction.Operands()) with v.
func SetOperand(inst *Instruction, index int, v Value) {
	ops := inst.Operands()
	*ops[index] = v
}

// Remove deletes inst from its parent block.
func Remove(inst *Instruction) {
	blk := inst.Block
	if blk == nil {
		return
	}
	idx := indexOfInstruction(blk.Instructions, inst)
	if idx < 0 {
		return
	}
	blk.Instructions = append(blk.Instructions[:idx], blk.Instructions[idx+1:]...)
	inst.Block = nil
}

// walkInstructions visits every instruction in fn, including those
// nested inside loop/if blocks, in block order.
func walkInstructions(fn *Function, visit func(*Instruction)) {
	var walkBlock func(*Block)
	walkBlock = func(blk *Block) {
		if blk == nil {
			return
		}
		// Copy the slice: visit may insert/remove instructions.
		insts := make([]*Instruction, len(blk.Instructions))
		copy(insts, blk.Instructions)
		for _, inst := range insts {
			visit(inst)
			switch inst.Op {
			case OpIf:
				walkBlock(inst.True)
				walkBlock(inst.False)
			case OpLoop:
				walkBlock(inst.Init)
				walkBlock(inst.Body)
				walkBlock(inst.Continuing)
			}
		}
	}
	walkBlock(fn.Entry)
}

// WalkInstructions exposes walkInstructions to other packages in this
// module (ira, robustness) that need to collect work items in
// instruction order.
func WalkInstructions(fn *Function, visit func(*Instruction)) {
	walkInstructions(fn, visit)
}
