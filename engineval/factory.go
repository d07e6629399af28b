package engineval

import (
	"github.com/shopspring/decimal"

	"github.com/SchmidtDSE/josh-sub003/units"
)

// Factory builds EngineValues without the caller needing to name the
// concrete scalar types directly. It exists for collaborators outside this
// module's own Go call graph (the bridge's interpreter-facing
// getEngineValueFactory()) that construct values from DSL literals and
// must not import package engineval's struct layout to do it.
type Factory struct{}

// NewFactory returns the reference Factory implementation.
func NewFactory() Factory { return Factory{} }

func (Factory) Int(v int64, u units.Units) EngineValue {
	return IntScalar{Value: v, U: u}
}

func (Factory) Decimal(v decimal.Decimal, u units.Units) EngineValue {
	return DecimalScalar{Value: v, U: u}
}

func (Factory) Bool(v bool) EngineValue {
	return BoolScalar{Value: v}
}

func (Factory) String(v string) EngineValue {
	return StringScalar{Value: v}
}

func (Factory) EntityRef(ref EntityHandle) EngineValue {
	return EntityReferenceValue{Ref: ref}
}

func (Factory) Distribution(d Distribution) EngineValue {
	return DistributionValue{Dist: d}
}
