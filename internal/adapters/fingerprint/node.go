package fingerprint

import (
	"context"

	"github.com/grindlemire/graft"

	"freight.build/freight/internal/adapters/logger"
	"freight.build/freight/internal/core/ports"
)

// NodeID is the unique identifier for the fingerprint store Graft node.
const NodeID graft.ID = "adapter.fingerprint_store"

func init() {
	graft.Register(graft.Node[*Store]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{logger.NodeID},
		Run: func(ctx context.Context) (*Store, error) {
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return NewStore(log), nil
		},
	})
}
