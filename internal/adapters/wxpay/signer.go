package wxpay

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// canonicalString builds "k1=v1&k2=v2&key=<secret>" over the sorted non-empty fields, skipping sign.
// Values are trimmed the way the channel trims them when it verifies, so
// surrounding whitespace is outside the signature.
func canonicalString(params map[string]string, key string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == FieldSign || strings.TrimSpace(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strings.TrimSpace(params[k]))
		sb.WriteByte('&')
	}
	sb.WriteString("key=")
	sb.WriteString(key)
	return sb.String()
}

// Sign computes the request signature over params.
// Both algorithms render uppercase hexadecimal.
func Sign(params map[string]string, key string, signType SignType) (string, error) {
	payload := []byte(canonicalString(params, key))

	switch signType {
	case SignTypeMD5:
		sum := md5.Sum(payload)
		return strings.ToUpper(hex.EncodeToString(sum[:])), nil
	case SignTypeHMACSHA256:
		h := hmac.New(sha256.New, []byte(key))
		h.Write(payload)
		return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
	default:
		return "", fmt.Errorf("unsupported sign type %q", signType)
	}
}

// Verify recomputes the signature and compares it with the sign field.
// A map without a sign field is accepted; callers check return_code before trusting it.
func Verify(params map[string]string, key string, signType SignType) bool {
	got, ok := params[FieldSign]
	if !ok {
		return true
	}
	want, err := Sign(params, key, signType)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(got))
}

// SignLegacy is the merchant-management signature: MD5 rendered as lowercase hex
// with leading zeros dropped.
func SignLegacy(params map[string]string, key string) string {
	sum := md5.Sum([]byte(canonicalString(params, key)))
	s := strings.TrimLeft(hex.EncodeToString(sum[:]), "0")
	if s == "" {
		return "0"
	}
	return s
}

// ParseSignType maps a configured sign type name, defaulting to MD5 when empty
func ParseSignType(s string) (SignType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "MD5":
		return SignTypeMD5, nil
	case "HMAC-SHA256", "HMACSHA256":
		return SignTypeHMACSHA256, nil
	default:
		return "", fmt.Errorf("unsupported sign type %q", s)
	}
}
