package storage

import (
	// Registers the "postgres" driver used by BackendPostgres.
	_ "github.com/lib/pq"
)
