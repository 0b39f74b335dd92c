package catalog

import (
	"encoding/json"
	"testing"

	"smm-store/internal/pricing"
	"smm-store/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeScenario(t *testing.T) {
	var svc provider.Service
	require.NoError(t, json.Unmarshal([]byte(`{"service": 42, "rate": "10", "min": 100, "max": 1000, "name": "X", "category": "Y"}`), &svc))

	base := Normalize(svc)
	assert.Equal(t, int64(42), base.ID)
	assert.Equal(t, "X", base.Name)
	assert.Equal(t, "Y", base.Category)
	assert.Equal(t, "1.6500", base.Rate)
	assert.Equal(t, int64(100), base.Min)
	assert.Equal(t, int64(1000), base.Max)
	assert.Nil(t, base.Description)

	assert.Equal(t, "2.3100", pricing.EffectiveRate(base.Rate, nil))
}

func TestBaseRate(t *testing.T) {
	assert.Equal(t, "0.0000", BaseRate(""))
	assert.Equal(t, "0.0578", BaseRate("0.35"))
	assert.Equal(t, "165.0000", BaseRate("1000"))
}

func TestNormalizeAllLastDuplicateWins(t *testing.T) {
	desc := "second"
	out := NormalizeAll([]provider.Service{
		{ID: 1, Name: "a", Rate: "1"},
		{ID: 2, Name: "b", Rate: "2"},
		{ID: 1, Name: "c", Rate: "3", Description: &desc},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].Name)
	assert.Equal(t, "0.4950", out[0].Rate)
	assert.Equal(t, "second", *out[0].Description)
	assert.Equal(t, "b", out[1].Name)
}
