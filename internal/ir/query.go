package ir

// RootVar walks back through access and let chains starting at v and
// returns the OpVar instruction at the root, if any. Used by the
// robustness transform's binding filter to find the (group, binding)
// pair a storage/uniform access ultimately traces to.
func RootVar(v Value) (*Instruction, bool) {
	for {
		inst, ok := v.(*Instruction)
		if !ok {
			return nil, false
		}
		switch inst.Op {
		case OpVar:
			return inst, true
		case OpAccess, OpLet:
			v = inst.Base
			if inst.Op == OpLet {
				v = inst.Src
			}
			if v == nil {
				return nil, false
			}
		default:
			return nil, false
		}
	}
}
