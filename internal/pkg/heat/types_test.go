package heat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name             string
		score, high, low float64
		want             Tier
	}{
		{"above high is hot", 100, 80, 20, Hot},
		{"exactly high is warm", 80, 80, 20, Warm},
		{"between watermarks is warm", 50, 80, 20, Warm},
		{"exactly low is warm", 20, 80, 20, Warm},
		{"below low is cold", 10, 80, 20, Cold},
		{"zero score below positive low is cold", 0, 80, 20, Cold},
		{"zero watermarks, zero score is warm", 0, 0, 0, Warm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.score, tt.high, tt.low))
		})
	}
}

func TestZeroIsZero(t *testing.T) {
	z := Zero("vol-1")
	assert.True(t, z.IsZero())
	assert.Equal(t, "vol-1", z.VolumeID)

	nonZero := z
	nonZero.Samples = 1
	assert.False(t, nonZero.IsZero())
}
