package cachelock

import (
	"context"

	"github.com/grindlemire/graft"

	"freight.build/freight/internal/adapters/config"
	"freight.build/freight/internal/adapters/logger"
	"freight.build/freight/internal/core/ports"
)

// NodeID is the unique identifier for the cache locker Graft node.
const NodeID graft.ID = "adapter.cachelock"

func init() {
	graft.Register(graft.Node[*Locker]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{logger.NodeID},
		Run: func(ctx context.Context) (*Locker, error) {
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return New(log, config.CargoHome()), nil
		},
	})
}
