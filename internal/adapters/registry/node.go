package registry

import (
	"context"

	"github.com/grindlemire/graft"

	"freight.build/freight/internal/adapters/config"
	"freight.build/freight/internal/adapters/logger"
	"freight.build/freight/internal/adapters/manifest"
	"freight.build/freight/internal/core/ports"
)

// NodeID is the unique identifier for the registry Graft node.
const NodeID graft.ID = "adapter.registry"

func init() {
	graft.Register(graft.Node[*Registry]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{logger.NodeID, manifest.ParserNodeID},
		Run: func(ctx context.Context) (*Registry, error) {
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			parser, err := graft.Dep[*manifest.Parser](ctx)
			if err != nil {
				return nil, err
			}
			return New(log, parser, nil, config.CargoHome()), nil
		},
	})
}
