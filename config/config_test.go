package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SchmidtDSE/josh-sub003/engineval"
)

func TestStaticGetOptionalFound(t *testing.T) {
	s := Static{}
	s.Set("steps.high", engineval.IntScalar{Value: 10})

	v, ok := s.GetOptional("steps.high")
	assert.True(t, ok)
	assert.Equal(t, int64(10), v.(engineval.IntScalar).Value)
}

func TestStaticGetOptionalMissing(t *testing.T) {
	s := Static{}
	_, ok := s.GetOptional("grid.size")
	assert.False(t, ok)
}
