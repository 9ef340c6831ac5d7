package httpclient

import (
	"encoding/json"

	"github.com/kbukum/discoverykit/errors"
)

// DecodeJSON unmarshals a response body into T. Empty bodies and shape
// mismatches are reported as MALFORMED_RESPONSE naming source.
func DecodeJSON[T any](resp *Response, source string) (T, error) {
	var out T
	if resp == nil || len(resp.Body) == 0 {
		return out, errors.Malformed(source, nil).WithDetail("reason", "empty body")
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, errors.Malformed(source, err)
	}
	return out, nil
}
