// Package wiring registers all Graft nodes for the application.
package wiring

import (
	// Register adapter nodes.
	_ "freight.build/freight/internal/adapters/cachelock"
	_ "freight.build/freight/internal/adapters/compiler"
	_ "freight.build/freight/internal/adapters/config"
	_ "freight.build/freight/internal/adapters/fingerprint"
	_ "freight.build/freight/internal/adapters/lockfile"
	_ "freight.build/freight/internal/adapters/logger"
	_ "freight.build/freight/internal/adapters/manifest"
	_ "freight.build/freight/internal/adapters/registry"
	_ "freight.build/freight/internal/adapters/telemetry"
	// Register app nodes.
	_ "freight.build/freight/internal/app"
)
