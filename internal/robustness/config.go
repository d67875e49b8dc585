package robustness

import "github.com/dshills/irguard/internal/ir"

// Config enumerates the pass's enable switches. The zero Config clamps
// nothing and predicates nothing: every enable is opt-in.
type Config struct {
	ClampFunction      bool
	ClampPrivate       bool
	ClampWorkgroup     bool
	ClampUniform       bool
	ClampStorage       bool
	ClampImmediateData bool

	// ClampValue enables clamping of indices into by-value aggregates
	// (an access whose base is not a pointer).
	ClampValue bool

	// ClampTexture enables the texture-call rewrite (Pass 4).
	ClampTexture bool

	// DisableRuntimeSizedArrayIndexClamping skips clamping the
	// runtime-array dimension of an index chain; index clamping then
	// emits no arrayLength call. It does not affect subgroup-matrix
	// predication (Pass 5), which still calls arrayLength for a
	// runtime-sized backing array.
	DisableRuntimeSizedArrayIndexClamping bool

	// PredicateSubgroupMatrix additionally emits the if-guarded
	// variant of subgroup-matrix load/store (Pass 5). Stride repair
	// happens regardless of this setting.
	PredicateSubgroupMatrix bool

	// UseIntegerRangeAnalysis gates whether ira is consulted to elide
	// provably-unnecessary clamps. When false, every non-constant
	// index is clamped unconditionally.
	UseIntegerRangeAnalysis bool

	// BindingsIgnored excludes storage/uniform variables at these
	// (group, binding) points from all clamping.
	BindingsIgnored map[ir.Binding]struct{}
}

func (c Config) addrSpaceClamped(space ir.AddrSpace) bool {
	switch space {
	case ir.AddrSpaceFunction:
		return c.ClampFunction
	case ir.AddrSpacePrivate:
		return c.ClampPrivate
	case ir.AddrSpaceWorkgroup:
		return c.ClampWorkgroup
	case ir.AddrSpaceUniform:
		return c.ClampUniform
	case ir.AddrSpaceStorage:
		return c.ClampStorage
	case ir.AddrSpaceImmediateData:
		return c.ClampImmediateData
	default:
		return false
	}
}

