package wxpay

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/kevin07696/cashier-settlement/internal/domain"
)

// Encode serializes a flat field map as <xml><key>value</key>...</xml>.
// Keys are written in sorted order so the body is deterministic.
func Encode(params map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("<xml>")
	for _, k := range keys {
		if !validTagName(k) {
			return nil, fmt.Errorf("field %q is not a valid tag name", k)
		}
		buf.WriteByte('<')
		buf.WriteString(k)
		buf.WriteByte('>')
		if err := xml.EscapeText(&buf, []byte(params[k])); err != nil {
			return nil, err
		}
		buf.WriteString("</")
		buf.WriteString(k)
		buf.WriteByte('>')
	}
	buf.WriteString("</xml>")
	return buf.Bytes(), nil
}

// Decode parses a flat tagged document back into a field map.
// Unknown fields are kept; text inside nested elements is folded into the enclosing field.
func Decode(body []byte) (map[string]string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, domain.WrapError(domain.ErrorCodeProtocolDecodeFailed, "empty response body", nil)
	}

	dec := xml.NewDecoder(bytes.NewReader(body))
	out := make(map[string]string)

	depth := 0
	var field string
	var text strings.Builder
	sawRoot := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeProtocolDecodeFailed, "malformed response body", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				sawRoot = true
			}
			if depth == 2 {
				field = t.Name.Local
				text.Reset()
			}
		case xml.CharData:
			if depth >= 2 {
				text.Write(t)
			}
		case xml.EndElement:
			if depth == 2 {
				out[field] = text.String()
			}
			depth--
		}
	}

	if !sawRoot || depth != 0 {
		return nil, domain.WrapError(domain.ErrorCodeProtocolDecodeFailed, "response body is not a tagged document", nil)
	}
	return out, nil
}

// NewNonce returns a fresh 32 character random token
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func validTagName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && (r == '-' || r == '.' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return !strings.HasPrefix(strings.ToLower(name), "xml")
}
