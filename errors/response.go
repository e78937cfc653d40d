package errors

import (
	"encoding/json"
	"net/http"
	"strings"
)

// responseBody is the error envelope returned by the API. Detail is either a
// plain string or a list of field errors.
type responseBody struct {
	Detail    json.RawMessage `json:"detail"`
	ErrorCode string          `json:"error_code"`
}

type fieldError struct {
	Loc []interface{} `json:"loc"`
	Msg string        `json:"msg"`
}

// FromResponse builds an Error for a non-2xx HTTP response. The kind is taken
// from the status; the code is the server's error_code when present, else the
// client code for the status. The raw body is kept as details.
func FromResponse(status int, body []byte, opts ...Option) *Error {
	code := CodeForStatus(status)
	message := ""

	var rb responseBody
	if len(body) > 0 && json.Unmarshal(body, &rb) == nil {
		if rb.ErrorCode != "" {
			code = ErrorCode(rb.ErrorCode)
		}
		message = detailMessage(rb.Detail)
	} else if len(body) > 0 {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(status)
	}
	if message == "" {
		message = code.Description()
	}

	kind := KindForStatus(status)
	if kind == "" {
		kind = KindServer
	}
	base := []Option{WithKind(kind), WithStatus(status), WithDetails(body)}
	return New(code, message, append(base, opts...)...)
}

func detailMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []fieldError
	if json.Unmarshal(raw, &list) == nil {
		msgs := make([]string, 0, len(list))
		for _, fe := range list {
			if fe.Msg != "" {
				msgs = append(msgs, fe.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
