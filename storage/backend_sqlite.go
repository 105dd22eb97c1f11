package storage

import (
	// Registers the "sqlite" driver used by BackendSQLiteNative. Pure Go,
	// no cgo — matches the rest of this module's no-cgo posture.
	_ "modernc.org/sqlite"
)
