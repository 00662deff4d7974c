package audit

import "context"

// publishEvent pushes a reconciliation event to the bus on a best-effort
// basis. Fan-out is advisory UI refresh only; a failed publish never fails
// the request, because counters are recomputed from persisted scan events.
func (a *API) publishEvent(ctx context.Context, subject string, payload map[string]any) {
	if a.store.Bus == nil || subject == "" {
		return
	}
	_ = a.store.Bus.Publish(ctx, subject, payload)
}
