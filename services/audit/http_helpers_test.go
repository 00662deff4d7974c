package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"raw_code":"x","surprise":1}`))

	var dest struct {
		RawCode string `json:"raw_code"`
	}
	if err := decodeJSON(req, &dest); err == nil {
		t.Fatal("decodeJSON accepted an unknown field")
	}
}

func TestRespondErrorTagsInvalidCode(t *testing.T) {
	rec := httptest.NewRecorder()
	_, err := NormalizeCode("--")
	if err == nil {
		t.Fatal("NormalizeCode accepted separators-only input")
	}

	respondError(rec, http.StatusUnprocessableEntity, err)

	var payload struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Reason != "invalid_code" {
		t.Errorf("reason = %q, want invalid_code", payload.Reason)
	}
	if payload.Error == "" {
		t.Error("error message missing from envelope")
	}
}

func TestRespondErrorPlainErrorHasNoReason(t *testing.T) {
	rec := httptest.NewRecorder()
	respondError(rec, http.StatusInternalServerError, http.ErrBodyNotAllowed)

	var payload map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if _, ok := payload["reason"]; ok {
		t.Error("plain errors must not carry a reason tag")
	}
}
