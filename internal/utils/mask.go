package utils

import (
	"encoding/json"
	"strconv"
	"strings"
)

// RedactedPlaceholder replaces fully sensitive values in masked payloads.
const RedactedPlaceholder = "***"

// secretKeys are field names whose values are fully redacted. Compared
// case-insensitively after stripping '-' and '_'.
var secretKeys = map[string]bool{
	"appsecret":     true,
	"appkey":        true,
	"secret":        true,
	"secretkey":     true,
	"token":         true,
	"accesstoken":   true,
	"password":      true,
	"hashkey":       true,
	"merchantkey":   true,
	"webhooksecret": true,
}

// cardKeys are field names holding a card number. The value keeps its first
// 8 digits (the BIN) and the remainder is replaced with 'X' so the masked
// value has the original length.
var cardKeys = map[string]bool{
	"cardnumber":       true,
	"qnbpaycardnumber": true,
	"ccno":             true,
	"pan":              true,
}

// MaskJSON masks sensitive fields recursively through a JSON document and
// returns the masked document. It never fails: on any decode error the input
// is returned unchanged so that audit logging always proceeds.
func MaskJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	masked := maskValue("", v)
	out, err := json.Marshal(masked)
	if err != nil {
		return raw
	}
	return out
}

// MaskMap masks a decoded map in place-safe fashion and returns the result.
func MaskMap(m map[string]interface{}) map[string]interface{} {
	out, _ := maskValue("", m).(map[string]interface{})
	return out
}

// maskValue walks the JSON value structurally. Objects recurse per key,
// arrays per element; scalars are masked according to the key they sit under.
func maskValue(key string, v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			out[k] = maskValue(k, child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, child := range t {
			out[i] = maskValue(key, child)
		}
		return out
	default:
		return maskLeaf(key, v)
	}
}

// maskLeaf applies the deny-list to a scalar leaf. Leaves of shapes we do not
// recognize pass through unchanged.
func maskLeaf(key string, v interface{}) interface{} {
	norm := normalizeKey(key)

	if secretKeys[norm] {
		switch v.(type) {
		case string, float64, json.Number:
			return RedactedPlaceholder
		default:
			return v
		}
	}

	if cardKeys[norm] {
		switch t := v.(type) {
		case string:
			return MaskCardNumber(t)
		case float64:
			return MaskCardNumber(strconv.FormatFloat(t, 'f', -1, 64))
		case json.Number:
			return MaskCardNumber(t.String())
		default:
			return v
		}
	}

	return v
}

// MaskCardNumber keeps the first 8 characters of a card number and pads the
// remainder with 'X' up to the original length.
func MaskCardNumber(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8] + strings.Repeat("X", len(s)-8)
}

func normalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "-", "")
	key = strings.ReplaceAll(key, "_", "")
	return key
}
