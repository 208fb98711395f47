package app

import (
	"context"

	"github.com/grindlemire/graft"

	"freight.build/freight/internal/adapters/cachelock"
	"freight.build/freight/internal/adapters/compiler"
	"freight.build/freight/internal/adapters/config"
	"freight.build/freight/internal/adapters/fingerprint"
	"freight.build/freight/internal/adapters/lockfile"
	"freight.build/freight/internal/adapters/logger"
	"freight.build/freight/internal/adapters/manifest"
	"freight.build/freight/internal/adapters/registry"
	"freight.build/freight/internal/adapters/telemetry"
	"freight.build/freight/internal/core/ports"
)

const (
	// AppNodeID is the unique identifier for the main App Graft node.
	AppNodeID graft.ID = "app.main"
	// ComponentsNodeID is the unique identifier for the App components Graft node.
	ComponentsNodeID graft.ID = "app.components"
)

// Components bundles the application with the pieces the CLI needs
// directly.
type Components struct {
	App    *App
	Logger ports.Logger
}

func init() {
	graft.Register(graft.Node[*App]{
		ID:        AppNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{
			logger.NodeID,
			telemetry.TracerNodeID,
			compiler.NodeID,
			config.NodeID,
			manifest.LoaderNodeID,
			registry.NodeID,
			lockfile.NodeID,
			fingerprint.NodeID,
			cachelock.NodeID,
		},
		Run: runAppNode,
	})

	graft.Register(graft.Node[*Components]{
		ID:        ComponentsNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{AppNodeID, logger.NodeID},
		Run: func(ctx context.Context) (*Components, error) {
			application, err := graft.Dep[*App](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return &Components{App: application, Logger: log}, nil
		},
	})
}

func runAppNode(ctx context.Context) (*App, error) {
	log, err := graft.Dep[ports.Logger](ctx)
	if err != nil {
		return nil, err
	}
	tracer, err := graft.Dep[ports.Tracer](ctx)
	if err != nil {
		return nil, err
	}
	executor, err := graft.Dep[ports.Executor](ctx)
	if err != nil {
		return nil, err
	}
	configs, err := graft.Dep[*config.Loader](ctx)
	if err != nil {
		return nil, err
	}
	workspaces, err := graft.Dep[*manifest.Loader](ctx)
	if err != nil {
		return nil, err
	}
	reg, err := graft.Dep[*registry.Registry](ctx)
	if err != nil {
		return nil, err
	}
	lockfiles, err := graft.Dep[*lockfile.Store](ctx)
	if err != nil {
		return nil, err
	}
	fingerprints, err := graft.Dep[*fingerprint.Store](ctx)
	if err != nil {
		return nil, err
	}
	locker, err := graft.Dep[*cachelock.Locker](ctx)
	if err != nil {
		return nil, err
	}
	return New(log, tracer, executor, configs, workspaces, reg, lockfiles, fingerprints, locker), nil
}
