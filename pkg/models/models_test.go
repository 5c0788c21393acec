package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchRunCounters(t *testing.T) {
	run := &BatchRun{Items: []*WorkItem{
		{ID: "a", Status: ItemVerified},
		{ID: "b", Status: ItemFailed},
		{ID: "c", Status: ItemSent},
		{ID: "d", Status: ItemPending},
	}}

	run.RecomputeCounters()
	assert.Equal(t, Counters{Succeeded: 1, Failed: 1}, run.Counters)
	assert.Equal(t, 1, run.PendingCount())
	assert.False(t, run.AllTerminal())
	assert.Equal(t, "c", run.Item("c").ID)
	assert.Nil(t, run.Item("z"))

	run.Items[2].Status = ItemVerified
	run.Items[3].Status = ItemFailed
	assert.True(t, run.AllTerminal())
}

func TestTransactionIntentUint32(t *testing.T) {
	intent := TransactionIntent{
		"Sequence":           uint32(4),
		"Fee":                "12",
		"LastLedgerSequence": float64(120),
		"Flags":              json.Number("2147483648"),
		"Negative":           -1,
	}

	seq, ok := intent.Uint32("Sequence")
	assert.True(t, ok)
	assert.Equal(t, uint32(4), seq)

	lls, ok := intent.Uint32("LastLedgerSequence")
	assert.True(t, ok)
	assert.Equal(t, uint32(120), lls)

	flags, ok := intent.Uint32("Flags")
	assert.True(t, ok)
	assert.Equal(t, uint32(0x80000000), flags)

	_, ok = intent.Uint32("Fee")
	assert.False(t, ok)
	_, ok = intent.Uint32("Negative")
	assert.False(t, ok)
}

func TestTransactionIntentUint32OutOfRange(t *testing.T) {
	intent := TransactionIntent{
		"Int64":   int64(1) << 32,
		"Uint64":  uint64(math.MaxUint32) + 1,
		"Float":   float64(5000000000),
		"Number":  json.Number("4294967296"),
		"Partial": 1.5,
		"Max":     json.Number("4294967295"),
	}

	for _, field := range []string{"Int64", "Uint64", "Float", "Number", "Partial"} {
		_, ok := intent.Uint32(field)
		assert.False(t, ok, field)
	}

	top, ok := intent.Uint32("Max")
	assert.True(t, ok)
	assert.Equal(t, uint32(math.MaxUint32), top)
}

func TestTransactionIntentCloneIsDeep(t *testing.T) {
	intent := TransactionIntent{
		"Account": "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh",
		"Amount":  map[string]interface{}{"currency": "USD", "value": "1"},
	}
	clone := intent.Clone()
	require.NotNil(t, clone)

	clone["Amount"].(map[string]interface{})["value"] = "2"
	assert.Equal(t, "1", intent["Amount"].(map[string]interface{})["value"])
	assert.Equal(t, intent.Account(), clone.Account())
}
