package stock_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockledger/stock"
)

func TestParseWindow_Dates_WidenToWholeDays(t *testing.T) {
	w, err := stock.ParseWindow("2025-03-01", "2025-03-07")

	require.NoError(t, err)
	assert.Equal(t, day(1, 0, 0), w.Start)
	assert.Equal(t, day(8, 0, 0).Add(-time.Nanosecond), w.End)
	assert.True(t, w.Contains(day(7, 23, 59)))
	assert.False(t, w.Contains(day(8, 0, 0)))
}

func TestParseWindow_RFC3339(t *testing.T) {
	w, err := stock.ParseWindow("2025-03-01T10:00:00+02:00", "2025-03-01T18:00:00Z")

	require.NoError(t, err)
	assert.Equal(t, day(1, 8, 0), w.Start)
	assert.Equal(t, time.UTC, w.Start.Location())
}

func TestParseWindow_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
	}{
		{"inverted", "2025-03-07", "2025-03-01"},
		{"missing from", "", "2025-03-01"},
		{"missing to", "2025-03-01", ""},
		{"garbage", "yesterday", "2025-03-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := stock.ParseWindow(tt.from, tt.to)

			assert.ErrorIs(t, err, stock.ErrInvalidRange)
			assert.True(t, stock.IsClientError(err))
		})
	}
}

func TestWindow_SingleInstant_IsValid(t *testing.T) {
	w := stock.Window{Start: day(1, 0, 0), End: day(1, 0, 0)}

	assert.NoError(t, w.Validate())
}

func TestMissingBoundaryError_Message(t *testing.T) {
	err := error(&stock.MissingBoundaryError{Item: rice, Side: stock.BoundaryClosing, At: day(2, 0, 0)})

	assert.True(t, errors.Is(err, stock.ErrMissingBoundary))
	assert.Equal(t, "missing closing snapshot for item RICE at or after 2025-03-02T00:00:00Z", err.Error())
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestClassifier_Defaults(t *testing.T) {
	c := stock.DefaultClassifier()

	cls, ok := c.Classify("Transfer")
	require.True(t, ok)
	assert.Equal(t, stock.DirTransfer, cls.Direction)

	_, ok = c.Classify("Repack")
	assert.False(t, ok)
	assert.Contains(t, c.Codes(), "StockTake")
}

func TestClassifier_Nil_BehavesAsDefault(t *testing.T) {
	var c *stock.Classifier

	_, ok := c.Classify("Transfer")
	assert.True(t, ok)
	assert.Equal(t, stock.DefaultClassifier().Codes(), c.Codes())
}

func TestNewClassifier_Override(t *testing.T) {
	// GIVEN: A site that books damaged bags under "Damage"
	c, err := stock.NewClassifier(map[string]string{"Damage": "Wastage", "AdjIn": "Stock Return"})
	require.NoError(t, err)

	// THEN: Damage is outbound wastage and AdjIn is remapped
	cls, ok := c.Classify("Damage")
	require.True(t, ok)
	assert.Equal(t, stock.TypeWastage, cls.Type)
	assert.Equal(t, stock.DirOutbound, cls.Direction)

	cls, _ = c.Classify("AdjIn")
	assert.Equal(t, stock.TypeReturn, cls.Type)
}

func TestNewClassifier_UnknownTypeName_Rejected(t *testing.T) {
	_, err := stock.NewClassifier(map[string]string{"Damage": "Broken"})

	assert.ErrorIs(t, err, stock.ErrUnknownType)
}

func TestNormalize_ClassifierOverride_Applied(t *testing.T) {
	c, err := stock.NewClassifier(map[string]string{"Repack": "Adjustment Out"})
	require.NoError(t, err)

	events, err := stock.NewNormalizer(c).Normalize(
		[]stock.RawRecord{op("o-1", "Repack", day(1, 12, 0), stock.Store1, "3")}, rice, marchFirst())

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, stock.TypeAdjOut, events[0].Type)
	assertLevels(t, "-3", "0", events[0].Delta)
}
