package billing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalKind_Valid(t *testing.T) {
	for _, s := range []SignalKind{SignalChangePrice, SignalChangeQuantity, SignalAddItem, SignalRemoveItem, SignalAddCredits} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, SignalKind("pause").Valid())
	assert.False(t, SignalKind("").Valid())
}

func TestStatusKind_Final(t *testing.T) {
	assert.True(t, StatusApplied.Final())
	assert.True(t, StatusFailed.Final())
	assert.False(t, StatusPending.Final())
}

func TestChangePreview_MarshalJSON(t *testing.T) {
	t.Run("disabled preview is sparse", func(t *testing.T) {
		preview := Disabled(SignalAddItem, "sub_1", ReasonTargetPriceNotFound)
		data, err := json.Marshal(preview)
		require.NoError(t, err)
		assert.JSONEq(t, `{"enabled":false,"signal":"add_item","subscription_id":"sub_1","reason":"target price not found"}`, string(data))
	})

	t.Run("enabled preview carries computed fields", func(t *testing.T) {
		preview := seatPreview(t)
		data, err := json.Marshal(preview)
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, true, decoded["enabled"])
		assert.Equal(t, string(preview.CommitDescriptor), decoded["commit_descriptor"])
		assert.NotContains(t, decoded, "reason")
		for _, key := range []string{"effective", "totals", "lines", "operations", "actions", "state_fingerprint"} {
			assert.Contains(t, decoded, key)
		}
	})

	t.Run("enabled preview survives a round trip", func(t *testing.T) {
		preview := seatPreview(t)
		data, err := json.Marshal(preview)
		require.NoError(t, err)

		var decoded ChangePreview
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.NoError(t, defaultSigner().Verify(&decoded))
	})
}

func TestSubscriptionPreviewResult_MarshalJSON(t *testing.T) {
	disabled := NewSubscriptionPreviewResult("sub_1", Disabled(SignalChangePrice, "sub_1", ReasonCurrencyMismatch))
	data, err := json.Marshal(disabled)
	require.NoError(t, err)
	assert.JSONEq(t, `{"subscription_id":"sub_1","enabled":false,"reason":"currency mismatch"}`, string(data))

	enabled := NewSubscriptionPreviewResult("sub_123", seatPreview(t))
	data, err = json.Marshal(enabled)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, true, decoded["enabled"])
	assert.Contains(t, decoded, "preview")
	assert.NotContains(t, decoded, "reason")
}
