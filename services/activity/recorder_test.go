package activity

import (
	"context"
	"testing"
)

func TestHandlersRejectMalformedEvents(t *testing.T) {
	r := &Recorder{}

	cases := []struct {
		name    string
		handler func(ctx context.Context, data []byte) error
		payload string
	}{
		{"scan not json", r.handleScanRecorded, `{`},
		{"scan missing audit id", r.handleScanRecorded, `{"outcome":"found_expected"}`},
		{"finish not json", r.handleAuditFinished, `nope`},
		{"finish missing audit id", r.handleAuditFinished, `{"missing":3}`},
		{"reset not json", r.handleAuditReset, `[]`},
		{"reset missing audit id", r.handleAuditReset, `{"scans_deleted":9}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.handler(context.Background(), []byte(tc.payload)); err == nil {
				t.Errorf("handler accepted malformed payload %q", tc.payload)
			}
		})
	}
}
