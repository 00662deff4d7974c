package audit

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"stocktake/pkg/bus"
)

// Store holds external dependencies required by the audit API layer.
type Store struct {
	DB  *pgxpool.Pool
	Bus *bus.Bus
}
