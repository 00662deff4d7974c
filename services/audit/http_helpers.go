package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// maxRequestBody caps decoded request bodies. Scan and item payloads are a
// few hundred bytes; anything near the cap is a misbehaving client.
const maxRequestBody = 1 << 20

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	payload := map[string]any{"error": err.Error()}
	if reason := errorReason(err); reason != "" {
		payload["reason"] = reason
	}
	respondJSON(w, status, payload)
}

// errorReason maps sentinel errors to stable machine-readable tags so scanner
// agents can branch without parsing error strings.
func errorReason(err error) string {
	if errors.Is(err, ErrInvalidCode) {
		return "invalid_code"
	}
	return ""
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}
