package mongodb

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mamadbah2/fieldops/internal/domain/models"
)

func TestDecimalCodecKeepsPrecision(t *testing.T) {
	reg := newRegistry()

	bale := models.ShippedBale{
		ID:           "b1",
		Barcode:      "BALE001",
		Mass:         decimal.RequireFromString("70.125"),
		ReceivedMass: decimal.RequireFromString("69.9"),
	}

	raw, err := bson.MarshalWithRegistry(reg, bale)
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, "70.125", doc["mass"].(interface{ String() string }).String())

	var decoded models.ShippedBale
	require.NoError(t, bson.UnmarshalWithRegistry(reg, raw, &decoded))
	assert.True(t, bale.Mass.Equal(decoded.Mass))
	assert.True(t, bale.ReceivedMass.Equal(decoded.ReceivedMass))
}

func TestDecimalCodecAcceptsLegacyNumbers(t *testing.T) {
	reg := newRegistry()

	cases := map[string]bson.M{
		"double": {"remaining_mass": 50.5},
		"int32":  {"remaining_mass": int32(50)},
		"int64":  {"remaining_mass": int64(50)},
		"string": {"remaining_mass": "50"},
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			raw, err := bson.Marshal(doc)
			require.NoError(t, err)

			var line models.ShippingInstructionLine
			require.NoError(t, bson.UnmarshalWithRegistry(reg, raw, &line))
			assert.True(t, line.RemainingMass.GreaterThanOrEqual(decimal.NewFromInt(50)))
		})
	}
}
