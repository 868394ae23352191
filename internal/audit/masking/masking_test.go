package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecretKeepsSuffix(t *testing.T) {
	assert.Equal(t, "****7890", MaskSecret("0123457890"))
	assert.Equal(t, "RCP_****xyz9", MaskSecret("RCP_abcdxyz9"))
	assert.Equal(t, "****", MaskSecret("123"))
	assert.Equal(t, "", MaskSecret("  "))
}

func TestMaskSensitiveOnlyTouchesSensitiveKeys(t *testing.T) {
	in := map[string]any{
		"account_number": "0123456789",
		"amount":         int64(90_000),
		"destination": map[string]any{
			"bank_code":      "058",
			"account_number": "9876543210",
		},
	}

	out := MaskSensitive(in)
	assert.Equal(t, "****6789", out["account_number"])
	assert.Equal(t, int64(90_000), out["amount"])
	nested := out["destination"].(map[string]any)
	assert.Equal(t, "058", nested["bank_code"])
	assert.Equal(t, "****3210", nested["account_number"])

	// input is not mutated
	assert.Equal(t, "0123456789", in["account_number"])
}

func TestMaskSensitiveEmpty(t *testing.T) {
	assert.Nil(t, MaskSensitive(nil))
	assert.Nil(t, MaskSensitive(map[string]any{"": "x"}))
}
