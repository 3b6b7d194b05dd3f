package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aretw0/quipu/pkg/core"
	"github.com/aretw0/quipu/pkg/schema"
)

type errorBody struct {
	Kind       core.Kind          `json:"kind"`
	Message    string             `json:"message"`
	Violations []schema.Violation `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(kind core.Kind) int {
	switch kind {
	case core.KindValidation:
		return http.StatusUnprocessableEntity
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConflict:
		return http.StatusConflict
	case core.KindUpstream:
		return http.StatusBadGateway
	case core.KindReadOnly:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	body := errorBody{Kind: kind, Message: err.Error()}

	var verr *core.ValidationError
	if errors.As(err, &verr) {
		body.Violations = verr.Violations
	}
	if kind == core.KindInternal {
		body.Message = "internal error"
	}
	writeJSON(w, statusOf(kind), map[string]any{"error": body})
}

// decodeJSON reads a JSON body into v, keeping numbers exact.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return core.Invalid("request body is empty")
		}
		return &core.ValidationError{Reason: fmt.Sprintf("malformed request body: %v", err), Cause: err}
	}
	return nil
}
