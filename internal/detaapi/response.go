// Package detaapi holds wire-level helpers shared by the Base and Drive clients.
package detaapi

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Paging is the cursor envelope returned by paginated endpoints.
type Paging struct {
	Size int    `json:"size"`
	Last string `json:"last,omitempty"`
}

// ErrorMessages extracts the server supplied error text. Deta services answer
// failures with {"errors": ["...", ...]}; anything else is returned verbatim
// as a single message. An empty body yields nil.
func ErrorMessages(body []byte) []string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	var envelope struct {
		Errors []string `json:"errors"`
		Error  string   `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err == nil {
		if len(envelope.Errors) > 0 {
			return envelope.Errors
		}
		if envelope.Error != "" {
			return []string{envelope.Error}
		}
	}
	return []string{string(trimmed)}
}

// JoinMessages joins messages the way the service formats multi-error replies.
func JoinMessages(msgs []string) string {
	return strings.Join(msgs, "\n")
}

// Decode unmarshals body into out, treating an empty body as JSON null.
func Decode(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		trimmed = []byte("null")
	}
	return json.Unmarshal(trimmed, out)
}

// Encode marshals v without HTML escaping and without a trailing newline.
func Encode(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
