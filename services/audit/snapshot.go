package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Criteria filters the catalog rows captured into an audit snapshot. Zero
// values mean "no filter" for that field; Location is the only required one.
type Criteria struct {
	Location string `json:"location"`
	Brand    string `json:"brand,omitempty"`
	Category string `json:"category,omitempty"`
	Status   string `json:"status,omitempty"`
}

func (c Criteria) asMap() map[string]any {
	m := map[string]any{"location": c.Location}
	if c.Brand != "" {
		m["brand"] = c.Brand
	}
	if c.Category != "" {
		m["category"] = c.Category
	}
	if c.Status != "" {
		m["status"] = c.Status
	}
	return m
}

// buildSnapshot captures the expected item set for a new audit inside the
// creation transaction. The set is deduplicated per item, ordered, and never
// touched again: later catalog changes must not move the audit's baseline.
func buildSnapshot(ctx context.Context, tx pgx.Tx, auditID uuid.UUID, c Criteria) (int, error) {
	conditions := []string{"location = $2", "(imei <> '' OR serial <> '')"}
	args := []any{auditID, c.Location}

	if c.Brand != "" {
		args = append(args, c.Brand)
		conditions = append(conditions, fmt.Sprintf("brand = $%d", len(args)))
	}
	if c.Category != "" {
		args = append(args, c.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if c.Status != "" {
		args = append(args, c.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := fmt.Sprintf(`
INSERT INTO snapshot_items (audit_id, item_id, identifier_kind, identifier, expected_status, expected_location)
SELECT DISTINCT ON (id) $1, id,
       CASE WHEN imei <> '' THEN 'imei' ELSE 'serial' END,
       CASE WHEN imei <> '' THEN imei ELSE upper(serial) END,
       status, location
FROM items
WHERE %s
ORDER BY id
`, strings.Join(conditions, " AND "))

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("build snapshot: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
