package engineval

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/SchmidtDSE/josh-sub003/units"
)

// casterKey identifies a (src, dst) widening path.
type casterKey struct {
	src, dst Tag
}

// casterFn converts a value of the src tag to the dst tag, preserving its
// numeric magnitude (units are carried by the caller, not the caster).
type casterFn func(EngineValue) (EngineValue, error)

// caster holds the static widening table bool -> int -> decimal -> string
// plus a memoization cache of resolved multi-hop paths, mirroring spec.md
// §4.2's "the caster memoizes known (src-type, dst-type) paths."
type caster struct {
	direct map[casterKey]casterFn
	memo   sync.Map // casterKey -> []casterFn (resolved hop chain)
}

var defaultCaster = newCaster()

func newCaster() *caster {
	c := &caster{direct: make(map[casterKey]casterFn)}
	c.direct[casterKey{TagBool, TagInt}] = func(v EngineValue) (EngineValue, error) {
		b := v.(BoolScalar)
		n := int64(0)
		if b.Value {
			n = 1
		}
		return IntScalar{Value: n, U: units.CountUnits()}, nil
	}
	c.direct[casterKey{TagInt, TagDecimal}] = func(v EngineValue) (EngineValue, error) {
		i := v.(IntScalar)
		return DecimalScalar{Value: decimal.NewFromInt(i.Value), U: i.U}, nil
	}
	c.direct[casterKey{TagDecimal, TagString}] = func(v EngineValue) (EngineValue, error) {
		d := v.(DecimalScalar)
		return StringScalar{Value: d.Value.String()}, nil
	}
	c.direct[casterKey{TagInt, TagString}] = func(v EngineValue) (EngineValue, error) {
		i := v.(IntScalar)
		return StringScalar{Value: decimal.NewFromInt(i.Value).String()}, nil
	}
	c.direct[casterKey{TagBool, TagString}] = func(v EngineValue) (EngineValue, error) {
		b := v.(BoolScalar)
		return StringScalar{Value: b.String()}, nil
	}
	return c
}

// widenTo casts v up to the target tag following bool -> int -> decimal ->
// string, one adjacent hop at a time. It never widens downward.
func (c *caster) widenTo(v EngineValue, target Tag) (EngineValue, error) {
	if v.Tag() == target {
		return v, nil
	}
	key := casterKey{v.Tag(), target}
	if cached, ok := c.memo.Load(key); ok {
		chain := cached.([]casterFn)
		return c.applyChain(v, chain)
	}
	chain := c.buildChain(v.Tag(), target)
	if chain == nil {
		return nil, ErrUnsupportedOp
	}
	c.memo.Store(key, chain)
	return c.applyChain(v, chain)
}

func (c *caster) applyChain(v EngineValue, chain []casterFn) (EngineValue, error) {
	cur := v
	for _, fn := range chain {
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// buildChain walks the fixed widening order to assemble src->target as a
// sequence of adjacent single-hop casts (e.g. bool->string via
// bool->int->decimal->string). Direct entries that skip a step of the order
// are not used; it returns nil if an adjacent hop is absent from the table.
func (c *caster) buildChain(src, target Tag) []casterFn {
	order := []Tag{TagBool, TagInt, TagDecimal, TagString}
	srcIdx, dstIdx := -1, -1
	for i, t := range order {
		if t == src {
			srcIdx = i
		}
		if t == target {
			dstIdx = i
		}
	}
	if srcIdx < 0 || dstIdx < 0 || srcIdx > dstIdx {
		return nil
	}
	var chain []casterFn
	cur := src
	for i := srcIdx; i < dstIdx; i++ {
		next := order[i+1]
		fn, ok := c.direct[casterKey{cur, next}]
		if !ok {
			return nil
		}
		chain = append(chain, fn)
		cur = next
	}
	return chain
}
