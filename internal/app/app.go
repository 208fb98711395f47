// Package app orchestrates the build pipeline: workspace loading,
// resolution, planning and execution, behind the operations the CLI
// exposes.
package app

import (
	"context"
	"fmt"
	"os"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/adapters/cachelock"
	"freight.build/freight/internal/adapters/config"
	"freight.build/freight/internal/adapters/fingerprint"
	"freight.build/freight/internal/adapters/jobserver"
	"freight.build/freight/internal/adapters/lockfile"
	"freight.build/freight/internal/adapters/manifest"
	"freight.build/freight/internal/adapters/registry"
	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
	"freight.build/freight/internal/engine/planner"
	"freight.build/freight/internal/engine/scheduler"
)

// App is the application entry point the CLI drives.
type App struct {
	logger       ports.Logger
	tracer       ports.Tracer
	executor     ports.Executor
	configs      *config.Loader
	workspaces   *manifest.Loader
	registry     *registry.Registry
	lockfiles    *lockfile.Store
	fingerprints *fingerprint.Store
	locker       *cachelock.Locker
}

// New creates the application.
func New(
	logger ports.Logger,
	tracer ports.Tracer,
	executor ports.Executor,
	configs *config.Loader,
	workspaces *manifest.Loader,
	reg *registry.Registry,
	lockfiles *lockfile.Store,
	fingerprints *fingerprint.Store,
	locker *cachelock.Locker,
) *App {
	return &App{
		logger:       logger,
		tracer:       tracer,
		executor:     executor,
		configs:      configs,
		workspaces:   workspaces,
		registry:     reg,
		lockfiles:    lockfiles,
		fingerprints: fingerprints,
		locker:       locker,
	}
}

// Run executes a build-family request: build, check, test, bench or doc,
// selected by the request mode.
func (a *App) Run(ctx context.Context, cwd string, req *domain.BuildRequest, configArgs []string) error {
	ctx, span := a.tracer.Start(ctx, "freight "+req.Mode.String())
	defer span.End()

	s, err := a.newSession(ctx, cwd, req, configArgs)
	if err != nil {
		return err
	}
	if err := s.probe(ctx); err != nil {
		return err
	}

	resolve, activated, err := s.resolve(ctx)
	if err != nil {
		return err
	}
	packages, err := s.loadPackages(ctx, resolve)
	if err != nil {
		return err
	}
	roots, err := s.selectRoots()
	if err != nil {
		return err
	}
	profiles, err := s.profiles()
	if err != nil {
		return err
	}

	graph, err := planner.New(a.logger, a.tracer).Plan(ctx, planner.Request{
		Resolve:    resolve,
		Activated:  activated,
		Packages:   packages,
		Roots:      roots,
		Members:    s.memberSet(),
		Mode:       req.Mode,
		Profiles:   profiles,
		Kinds:      s.kinds,
		Filter:     req.Filter,
		HostInfo:   s.hostInfo,
		TargetInfo: s.platformFor,
	})
	if err != nil {
		return err
	}

	if req.UnitGraphOnly {
		return planner.WriteJSON(os.Stdout, graph)
	}

	summary, err := s.execute(ctx, graph, profiles)
	if err != nil {
		return err
	}
	a.logger.Status("Finished", fmt.Sprintf("`%s` profile target(s); %d built, %d fresh",
		profiles.RequestedName(), summary.Built, summary.Fresh))

	if req.Mode.IsAnyTest() && !req.NoRun {
		return s.runHarnesses(ctx, graph)
	}
	return nil
}

// Fetch downloads every package the resolve needs without building.
func (a *App) Fetch(ctx context.Context, cwd string, req *domain.BuildRequest, configArgs []string) error {
	ctx, span := a.tracer.Start(ctx, "freight fetch")
	defer span.End()

	s, err := a.newSession(ctx, cwd, req, configArgs)
	if err != nil {
		return err
	}
	resolve, _, err := s.resolve(ctx)
	if err != nil {
		return err
	}
	packages, err := s.loadPackages(ctx, resolve)
	if err != nil {
		return err
	}
	a.logger.Status("Fetched", fmt.Sprintf("%d packages", len(packages)))
	return nil
}

// GenerateLockfile re-resolves from scratch and writes the lockfile.
func (a *App) GenerateLockfile(ctx context.Context, cwd string, configArgs []string) error {
	ctx, span := a.tracer.Start(ctx, "freight generate-lockfile")
	defer span.End()

	req := &domain.BuildRequest{Mode: domain.ModeBuild}
	s, err := a.newSession(ctx, cwd, req, configArgs)
	if err != nil {
		return err
	}
	s.ignoreLockfile = true
	resolve, _, err := s.resolve(ctx)
	if err != nil {
		return err
	}
	if err := a.lockfiles.Save(s.ws, resolve); err != nil {
		return err
	}
	a.logger.Status("Generated", s.ws.LockfilePath)
	return nil
}

// Clean removes the workspace target directory.
func (a *App) Clean(ctx context.Context, cwd string, configArgs []string) error {
	_, span := a.tracer.Start(ctx, "freight clean")
	defer span.End()

	cfg, err := a.configs.Load(cwd, configArgs)
	if err != nil {
		return err
	}
	ws, err := a.workspaces.Load(cwd)
	if err != nil {
		return err
	}
	applyTargetDir(ws, cfg)

	if err := os.RemoveAll(ws.TargetDir); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "dir", ws.TargetDir)
	}
	a.logger.Status("Removed", ws.TargetDir)
	return nil
}

// newPool inherits a jobserver from the environment when one is
// advertised, falling back to a local pool of the requested size.
func (a *App) newPool(jobs int) (*jobserver.Pool, error) {
	pool, ok, err := jobserver.FromEnv(a.logger)
	if err != nil {
		return nil, err
	}
	if ok {
		return pool, nil
	}
	return jobserver.New(a.logger, jobs), nil
}

var _ scheduler.Slots = (*jobserver.Pool)(nil)
