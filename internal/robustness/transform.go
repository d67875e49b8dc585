package robustness

import (
	stderrors "errors"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/tools/container/intsets"

	"github.com/dshills/irguard/internal/ir"
	"github.com/dshills/irguard/internal/ira"
)

// Transform holds the configuration for one run of the pass. It is
// not safe for concurrent use against the same module.
type Transform struct {
	cfg     Config
	ignored intsets.Sparse
}

// New builds a Transform from cfg, indexing BindingsIgnored into a
// sparse int set keyed by Binding.Key() for the hot-path membership
// test the binding filter performs on every storage/uniform access.
func New(cfg Config) *Transform {
	t := &Transform{cfg: cfg}
	for b := range cfg.BindingsIgnored {
		t.ignored.Insert(b.Key())
	}
	return t
}

// Run validates m and, on success, rewrites it in place. A validation
// failure leaves m untouched.
func Run(m *ir.Module, cfg Config) error {
	return New(cfg).Run(m)
}

func (t *Transform) Run(m *ir.Module) error {
	if ok, diags := ir.Validate(m, nil); !ok {
		return errors.Wrap(diagnosticsError(diags), "robustness: module failed pre-pass validation")
	}
	for _, fn := range m.Functions {
		t.runFunction(fn)
	}
	return nil
}

func diagnosticsError(diags []ir.Diagnostic) error {
	msgs := make([]string, len(diags))
	for i, d := range diags {
		msgs[i] = d.String()
	}
	return stderrors.New(strings.Join(msgs, "; "))
}

func (t *Transform) runFunction(fn *ir.Function) {
	items := t.collectWorkItems(fn)
	if len(items) == 0 {
		return
	}
	an := ira.New(fn)
	for _, item := range items {
		switch item.kind {
		case kindAccess:
			t.processAccess(fn, an, item.inst)
		case kindVectorElement:
			t.processVectorElement(fn, an, item.inst)
		case kindTexture:
			t.processTexture(fn, an, item.inst)
		case kindSubgroupMatrix:
			t.processSubgroupMatrix(fn, an, item.inst)
		}
	}
}

type workKind int

const (
	kindAccess workKind = iota
	kindVectorElement
	kindTexture
	kindSubgroupMatrix
)

type workItem struct {
	inst *ir.Instruction
	kind workKind
}

// collectWorkItems implements Pass 1: a single pre-mutation walk of
// fn, so later passes never see a work list invalidated by their own
// insertions.
func (t *Transform) collectWorkItems(fn *ir.Function) []workItem {
	var items []workItem
	ir.WalkInstructions(fn, func(inst *ir.Instruction) {
		switch inst.Op {
		case ir.OpAccess:
			if t.accessEligible(inst) {
				items = append(items, workItem{inst, kindAccess})
			}
		case ir.OpLoadVectorElement, ir.OpStoreVectorElement:
			if inst.Base.Type().Kind == ir.KindPointer && t.cfg.addrSpaceClamped(inst.Base.Type().AddrSpace) {
				items = append(items, workItem{inst, kindVectorElement})
			}
		case ir.OpCall:
			switch inst.Builtin {
			case ir.BuiltinTextureDimensions, ir.BuiltinTextureLoad, ir.BuiltinTextureStore:
				if t.cfg.ClampTexture {
					items = append(items, workItem{inst, kindTexture})
				}
			case ir.BuiltinSubgroupMatrixLoad, ir.BuiltinSubgroupMatrixStore:
				items = append(items, workItem{inst, kindSubgroupMatrix})
			}
		}
	})
	return items
}

func (t *Transform) accessEligible(inst *ir.Instruction) bool {
	baseType := inst.Base.Type()
	if baseType.Kind == ir.KindPointer {
		return t.cfg.addrSpaceClamped(baseType.AddrSpace)
	}
	return t.cfg.ClampValue
}

// bindingExcluded implements the root-variable binding filter for
// storage/uniform pointer accesses.
func (t *Transform) bindingExcluded(inst *ir.Instruction) bool {
	baseType := inst.Base.Type()
	if baseType.Kind != ir.KindPointer {
		return false
	}
	if baseType.AddrSpace != ir.AddrSpaceStorage && baseType.AddrSpace != ir.AddrSpaceUniform {
		return false
	}
	root, ok := ir.RootVar(inst.Base)
	if !ok || root.VarBinding == nil {
		return false
	}
	return t.ignored.Has(root.VarBinding.Key())
}
