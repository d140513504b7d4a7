package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaRecord_JSON(t *testing.T) {
	rec := DeltaRecord{
		Symbol:        "AAPL",
		CurValue:      "150",
		OrigOrder:     "a.json",
		ProcTimeStamp: "1700000000000",
	}
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"symbol":"AAPL","curValue":"150","origOrder":"a.json","procTimeStamp":"1700000000000"}`, string(b))
	assert.False(t, rec.HasDelta())
	assert.Equal(t, "", rec.DeltaOrEmpty())

	d := "-5"
	rec.Delta = &d
	b, err = json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"delta":"-5"`)
	assert.True(t, rec.HasDelta())
	assert.Equal(t, "-5", rec.DeltaOrEmpty())
}
