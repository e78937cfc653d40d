package gateway

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"

	"github.com/vinayprograms/taskgate/errors"
)

// Response is a successful (2xx) gateway result. The body has been read in
// full; a Response may be shared between callers and must not be modified.
type Response struct {
	Status int
	Header http.Header
	body   []byte
}

// IsJSON reports whether the server declared a JSON body.
func (r *Response) IsJSON() bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/json" || (len(mt) > 5 && mt[len(mt)-5:] == "+json")
}

// Empty reports whether the response has no body, as for 204.
func (r *Response) Empty() bool {
	return len(r.body) == 0
}

// Bytes returns a copy of the raw body.
func (r *Response) Bytes() []byte {
	out := make([]byte, len(r.body))
	copy(out, r.body)
	return out
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.body)
}

// Decode unmarshals a JSON body into v.
func (r *Response) Decode(v interface{}) error {
	if r.Empty() {
		return errors.Decode(fmt.Errorf("empty body (status %d)", r.Status))
	}
	if !r.IsJSON() {
		return errors.Decode(fmt.Errorf("content type %q is not JSON", r.Header.Get("Content-Type")))
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return errors.Decode(err)
	}
	return nil
}

// Value returns the parsed body: a decoded JSON value when the body is JSON,
// the raw text otherwise, or nil when empty.
func (r *Response) Value() (interface{}, error) {
	if r.Empty() {
		return nil, nil
	}
	if !r.IsJSON() {
		return r.Text(), nil
	}
	var v interface{}
	if err := r.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
