// Package masking redacts member contact details before they reach audit storage.
package masking

import "strings"

const maskToken = "****"

var sensitiveKeys = map[string]struct{}{
	"email":         {},
	"phone":         {},
	"date_of_birth": {},
	"signature":     {},
	"card_number":   {},
}

// MaskSecret redacts a value while keeping a short suffix for recognition.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(value string) string {
	trimmed := strings.TrimSpace(value)
	at := strings.LastIndex(trimmed, "@")
	if at <= 0 {
		return MaskSecret(trimmed)
	}
	return trimmed[:1] + maskToken + trimmed[at:]
}

// MaskFields returns a copy of input with sensitive keys masked, recursing into
// nested maps and slices. Other values pass through.
func MaskFields(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if _, ok := sensitiveKeys[strings.ToLower(trimmedKey)]; ok {
			masked[trimmedKey] = maskScalar(trimmedKey, value)
			continue
		}
		masked[trimmedKey] = maskNested(value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskScalar(key string, value any) any {
	s, ok := value.(string)
	if !ok {
		return maskToken
	}
	if strings.EqualFold(key, "email") {
		return MaskEmail(s)
	}
	return MaskSecret(s)
}

func maskNested(value any) any {
	switch cast := value.(type) {
	case map[string]any:
		return MaskFields(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskNested(item))
		}
		return out
	default:
		return value
	}
}
