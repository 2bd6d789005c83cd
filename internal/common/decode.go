package common

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// DecodeJSON reads at most maxBytes of JSON from the request body into dst and
// validates it. Failures are returned as *AppError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return NewAppError("INVALID_JSON", "request body is required", http.StatusBadRequest, nil)
	}
	body := io.Reader(r.Body)
	if maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return NewAppError("PAYLOAD_TOO_LARGE", fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), http.StatusRequestEntityTooLarge, err)
		}
		return NewAppError("INVALID_JSON", "unreadable request body", http.StatusBadRequest, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return NewAppError("INVALID_JSON", "request body is required", http.StatusBadRequest, nil)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return NewAppError("INVALID_JSON", "invalid JSON payload", http.StatusBadRequest, err)
	}
	return Validate(dst)
}

// Validate runs struct-tag validation and maps failures to a VALIDATION_ERROR
// keyed by JSON field path.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return NewAppError("VALIDATION_ERROR", "invalid payload", http.StatusBadRequest, err)
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := fe.Namespace()
		if idx := strings.Index(path, "."); idx >= 0 {
			path = path[idx+1:]
		}
		details[path] = fe.Tag()
	}
	appErr := NewAppError("VALIDATION_ERROR", "invalid payload", http.StatusBadRequest, err)
	appErr.Details = details
	return appErr
}
