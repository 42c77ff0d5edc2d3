package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypes(t *testing.T) {
	{ // Test boundary condition names
		bc, err := NewEMBC("Silver-Muller")
		assert.NoError(t, err)
		assert.Equal(t, EMBC_SilverMuller, bc)
		assert.Equal(t, "silver-muller", bc.String())
		_, err = NewEMBC("mirror")
		assert.Error(t, err)

		pbc, err := NewPartBC(" supp ")
		assert.NoError(t, err)
		assert.Equal(t, PartBC_Supp, pbc)
		assert.Equal(t, "supp", pbc.String())
		_, err = NewPartBC("bounce")
		assert.Error(t, err)
	}
	{ // Test geometry names
		g, err := NewGeometry("2d3v")
		assert.NoError(t, err)
		assert.Equal(t, 2, g.NDim())
		assert.Equal(t, "2d3v", g.String())
		_, err = NewGeometry("4d")
		assert.Error(t, err)
	}
}
