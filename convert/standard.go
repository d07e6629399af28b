package convert

import (
	"github.com/shopspring/decimal"

	"github.com/SchmidtDSE/josh-sub003/units"
)

// Seeder applies a deterministic set of RegisterScale calls against c. The
// functional-composition shape mirrors the builder.Constructor pattern
// elsewhere in the pack: each Seeder is independent, validated, and applied
// in a fixed order so the same seeder slice always produces the same graph.
type Seeder func(c *Converter) error

// StandardBuilder returns a Converter pre-loaded with the common SI-ish and
// calendar conversions spec.md's worked examples assume (meters/centimeters,
// years/days), plus any additional seeders. Order is deterministic; a
// failing seeder aborts immediately rather than leaving a half-seeded graph.
func StandardBuilder(extra ...Seeder) (*Converter, error) {
	c := New()
	seeders := append([]Seeder{seedLength, seedTime}, extra...)
	for _, seed := range seeders {
		if err := seed(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func mustParse(s string) units.Units {
	u, err := units.Parse(s)
	if err != nil {
		panic(err) // programmer error: literal unit strings below are fixed
	}
	return u
}

func seedLength(c *Converter) error {
	m := mustParse("m")
	cm := mustParse("cm")
	km := mustParse("km")
	if err := c.RegisterScale(m, cm, decimal.NewFromInt(100)); err != nil {
		return err
	}
	return c.RegisterScale(km, m, decimal.NewFromInt(1000))
}

func seedTime(c *Converter) error {
	year := mustParse("year")
	day := mustParse("day")
	hour := mustParse("hour")
	if err := c.RegisterScale(year, day, decimal.NewFromInt(365)); err != nil {
		return err
	}
	return c.RegisterScale(day, hour, decimal.NewFromInt(24))
}
