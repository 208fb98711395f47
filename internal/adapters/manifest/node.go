package manifest

import (
	"context"

	"github.com/grindlemire/graft"

	"freight.build/freight/internal/adapters/logger"
	"freight.build/freight/internal/core/ports"
)

// ParserNodeID is the unique identifier for the manifest parser Graft node.
const ParserNodeID graft.ID = "adapter.manifest_parser"

// LoaderNodeID is the unique identifier for the workspace loader Graft node.
const LoaderNodeID graft.ID = "adapter.workspace_loader"

func init() {
	graft.Register(graft.Node[*Parser]{
		ID:        ParserNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{logger.NodeID},
		Run: func(ctx context.Context) (*Parser, error) {
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return NewParser(log), nil
		},
	})

	graft.Register(graft.Node[*Loader]{
		ID:        LoaderNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{logger.NodeID, ParserNodeID},
		Run: func(ctx context.Context) (*Loader, error) {
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			parser, err := graft.Dep[*Parser](ctx)
			if err != nil {
				return nil, err
			}
			return NewLoader(log, parser), nil
		},
	})
}
