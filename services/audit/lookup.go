package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stocktake/pkg/db"
)

// lookupItem resolves a normalised identifier to at most one catalog item.
// IMEIs match exactly; serials match as a suffix because scanners often read
// only the tail printed on the label. Returns nil without error when nothing
// matches.
func (a *API) lookupItem(ctx context.Context, ident Identifier) (*Item, error) {
	var (
		query string
		arg   string
	)

	switch ident.Kind {
	case KindIMEI:
		query = `
SELECT id, imei, serial, brand, model, category, status, location, created_at, updated_at
FROM items
WHERE imei = $1
LIMIT 1
`
		arg = ident.Value
	case KindSerial:
		query = `
SELECT id, imei, serial, brand, model, category, status, location, created_at, updated_at
FROM items
WHERE serial <> '' AND upper(serial) LIKE '%' || $1
ORDER BY (upper(serial) = $1) DESC, updated_at DESC
LIMIT 1
`
		arg = ident.Value
	default:
		return nil, fmt.Errorf("lookup: unsupported identifier kind %q", ident.Kind)
	}

	var item Item
	err := db.Get(ctx, a.store.DB, &item, query, arg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}
