package generic_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/maintenance-engine/generic"
)

func TestAmount_DecimalArithmetic(t *testing.T) {
	// 0.1 + 0.2 must be exactly 0.3
	sum := generic.MustAmount("0.1").Add(generic.MustAmount("0.2"))
	assert.True(t, sum.Equal(generic.MustAmount("0.3")))

	assert.Equal(t, "5200.00", generic.MustAmount("5000").Add(generic.NewAmountFromInt(200)).String())
	assert.Equal(t, "0.01", generic.MustAmount("0.005").Round().String())
	assert.Equal(t, "0.00", generic.MustAmount("-5").Max(generic.Zero()).String())

	_, err := generic.ParseAmount("five")
	assert.Error(t, err)
	assert.Panics(t, func() { generic.MustAmount("x") })
}

func TestAmount_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Owed generic.Amount `json:"owed"`
	}{generic.MustAmount("5200")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"owed":"5200.00"}`, string(data))

	var fromString, fromNumber generic.Amount
	require.NoError(t, json.Unmarshal([]byte(`"199.99"`), &fromString))
	require.NoError(t, json.Unmarshal([]byte(`199.99`), &fromNumber))
	assert.True(t, fromString.Equal(fromNumber))
}
