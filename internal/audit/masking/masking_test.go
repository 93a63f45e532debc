package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskFields(t *testing.T) {
	out := MaskFields(map[string]any{
		"email":       "jane.doe@example.com",
		"phone":       "+6281234567890",
		"plan_name":   "Gold",
		"total":       "3499",
		"member":      map[string]any{"email": "x@y.io"},
		"attachments": []any{map[string]any{"phone": "12"}},
	})

	assert.Equal(t, "j****@example.com", out["email"])
	assert.Equal(t, "****7890", out["phone"])
	assert.Equal(t, "Gold", out["plan_name"])
	assert.Equal(t, "x****@y.io", out["member"].(map[string]any)["email"])
	assert.Equal(t, "****", out["attachments"].([]any)[0].(map[string]any)["phone"])
}

func TestMaskFieldsEmpty(t *testing.T) {
	assert.Nil(t, MaskFields(nil))
	assert.Nil(t, MaskFields(map[string]any{" ": "x"}))
}
