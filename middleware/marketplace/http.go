package marketplace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"builderbuddy-backend/core/marketplace"
)

const maxBodyBytes = 1 << 20

// JSON writes a JSON response with status.
func JSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"error": msg})
}

// StatusFor maps a marketplace error kind to an HTTP status.
func StatusFor(err error) int {
	switch marketplace.KindOf(err) {
	case marketplace.KindAuthorization:
		return http.StatusForbidden
	case marketplace.KindStateConflict:
		return http.StatusConflict
	case marketplace.KindNotFound:
		return http.StatusNotFound
	case marketplace.KindValidation:
		return http.StatusBadRequest
	case marketplace.KindResource:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeErr reports err with its code so clients can match on it.
func writeErr(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("marketplace api: %v", err)
	}
	JSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  marketplace.CodeOf(err),
	})
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", marketplace.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// decodeBody validates the request body against schema and unmarshals it
// into dst.
func decodeBody(r *http.Request, schema *jsonschema.Schema, dst interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return invalid("read body: %v", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return invalid("invalid json: %v", err)
	}
	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			var verr *jsonschema.ValidationError
			if errors.As(err, &verr) {
				return invalid("%s", validationMessage(verr))
			}
			return invalid("%v", err)
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalid("invalid body: %v", err)
	}
	return nil
}

// validationMessage flattens the leaf causes of a schema failure.
func validationMessage(verr *jsonschema.ValidationError) string {
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return strings.Join(parts, "; ")
}

func uint64FromQuery(r *http.Request, key string) (uint64, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, true, invalid("%s must be a non-negative integer", key)
	}
	return v, true, nil
}

func intFromQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func parseOrderID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, invalid("order id %q", raw)
	}
	return id, nil
}

// pathParts splits the path below prefix into its non-empty segments.
func pathParts(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
