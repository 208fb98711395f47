package app

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"

	"freight.build/freight/internal/adapters/cachelock"
	"freight.build/freight/internal/adapters/compiler"
	"freight.build/freight/internal/adapters/config"
	"freight.build/freight/internal/adapters/layout"
	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/engine/resolver"
	"freight.build/freight/internal/engine/scheduler"
)

// session carries the per-invocation state shared by the pipeline
// stages: the loaded workspace, merged configuration and probed
// compiler facts.
type session struct {
	app *App
	req *domain.BuildRequest
	cwd string

	ws      *domain.Workspace
	cfg     *config.Schema
	builder *compiler.Builder
	kinds   []domain.CompileKind
	jobs    int

	compilerID  string
	hostInfo    domain.PlatformInfo
	targetInfos map[domain.CompileKind]domain.PlatformInfo
	layouts     map[domain.CompileKind]*layout.Layout

	// withFeatures runs feature unification during resolution; fetch
	// and lockfile generation resolve for every platform and feature
	// combination and skip it.
	withFeatures   bool
	ignoreLockfile bool
}

func (a *App) newSession(ctx context.Context, cwd string, req *domain.BuildRequest, configArgs []string) (*session, error) {
	cfg, err := a.configs.Load(cwd, configArgs)
	if err != nil {
		return nil, err
	}
	ws, err := a.workspaces.Load(cwd)
	if err != nil {
		return nil, err
	}
	applyTargetDir(ws, cfg)

	a.registry.SetOffline(req.EffectiveOffline() || (cfg.Net.Offline != nil && *cfg.Net.Offline))
	if cfg.Net.Retry != nil {
		a.registry.SetRetries(*cfg.Net.Retry)
	}

	var rustc, rustdoc string
	if cfg.Build.Rustc != nil {
		rustc = *cfg.Build.Rustc
	}
	if cfg.Build.Rustdoc != nil {
		rustdoc = *cfg.Build.Rustdoc
	}

	s := &session{
		app:     a,
		req:     req,
		cwd:     cwd,
		ws:      ws,
		cfg:     cfg,
		builder: compiler.NewBuilder(rustc, rustdoc, compiler.DetectHostTriple()),
		kinds:   requestedKinds(req, cfg),
		jobs:    jobCount(req, cfg),
	}
	return s, nil
}

// applyTargetDir honors the build.target-dir configuration setting.
func applyTargetDir(ws *domain.Workspace, cfg *config.Schema) {
	if cfg.Build.TargetDir == nil {
		return
	}
	dir := *cfg.Build.TargetDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(ws.RootDir, dir)
	}
	ws.TargetDir = dir
}

// requestedKinds resolves the compile kinds: explicit --target flags win,
// then the configured build.target list, then the host.
func requestedKinds(req *domain.BuildRequest, cfg *config.Schema) []domain.CompileKind {
	if len(req.Targets) > 0 {
		return req.Targets
	}
	if len(cfg.Build.Target) > 0 {
		kinds := make([]domain.CompileKind, 0, len(cfg.Build.Target))
		for _, triple := range cfg.Build.Target {
			kinds = append(kinds, domain.CompileKindTarget(triple))
		}
		return kinds
	}
	return []domain.CompileKind{domain.CompileKindHost()}
}

func jobCount(req *domain.BuildRequest, cfg *config.Schema) int {
	if req.Jobs > 0 {
		return req.Jobs
	}
	if cfg.Build.Jobs != nil && *cfg.Build.Jobs > 0 {
		return *cfg.Build.Jobs
	}
	return runtime.NumCPU()
}

// probe queries the compiler for its identity and the configuration
// values of every requested target.
func (s *session) probe(ctx context.Context) error {
	id, err := compiler.QueryID(ctx, s.app.executor, s.builderProgram())
	if err != nil {
		return err
	}
	s.compilerID = id

	host, err := compiler.QueryPlatform(ctx, s.app.executor, s.builderProgram(), "")
	if err != nil {
		return err
	}
	host.Triple = s.builder.HostTriple()
	s.hostInfo = host

	s.targetInfos = make(map[domain.CompileKind]domain.PlatformInfo, len(s.kinds))
	for _, kind := range s.kinds {
		if kind.IsHost() {
			continue
		}
		info, err := compiler.QueryPlatform(ctx, s.app.executor, s.builderProgram(), kind.String())
		if err != nil {
			return err
		}
		s.targetInfos[kind] = info
	}
	s.withFeatures = true
	return nil
}

func (s *session) builderProgram() string {
	if s.cfg.Build.Rustc != nil {
		return *s.cfg.Build.Rustc
	}
	return "rustc"
}

func (s *session) platformFor(kind domain.CompileKind) domain.PlatformInfo {
	if kind.IsHost() {
		return s.hostInfo
	}
	if info, ok := s.targetInfos[kind]; ok {
		return info
	}
	return domain.PlatformInfo{Triple: kind.String()}
}

func (s *session) memberSet() map[domain.PackageID]struct{} {
	set := make(map[domain.PackageID]struct{}, len(s.ws.Members))
	for _, m := range s.ws.Members {
		set[m.ID] = struct{}{}
	}
	return set
}

func (s *session) memberSummaries() []*domain.Summary {
	members := make([]*domain.Summary, 0, len(s.ws.Members))
	for _, m := range s.ws.Members {
		members = append(members, m.Summary)
	}
	return members
}

// resolve selects versions, runs feature unification when enabled, and
// keeps the lockfile current.
func (s *session) resolve(ctx context.Context) (*domain.Resolve, *resolver.ActivatedFeatures, error) {
	var previous *domain.Resolve
	if !s.ignoreLockfile {
		loaded, err := s.app.lockfiles.Load(s.ws)
		if err != nil {
			return nil, nil, err
		}
		previous = loaded
	}
	if s.req.Frozen && previous == nil {
		return nil, nil, zerr.With(domain.ErrFrozen, "path", s.ws.LockfilePath)
	}

	members := s.memberSummaries()
	var featureReq *resolver.FeatureRequest
	if s.withFeatures {
		fr := s.featureRequest()
		featureReq = &fr
	}

	res, err := resolver.New(s.app.registry, s.app.logger, s.app.tracer).Resolve(ctx, resolver.Request{
		Members:  members,
		Previous: previous,
		Locked:   s.req.EffectiveLocked(),
		Features: featureReq,
	})
	if err != nil {
		return nil, nil, err
	}

	if !s.req.EffectiveLocked() {
		if err := s.app.lockfiles.Save(s.ws, res); err != nil {
			return nil, nil, err
		}
	}

	var activated *resolver.ActivatedFeatures
	if featureReq != nil {
		activated, err = resolver.Unify(res, members, *featureReq)
		if err != nil {
			return nil, nil, err
		}
	}
	return res, activated, nil
}

func (s *session) featureRequest() resolver.FeatureRequest {
	behavior := resolver.BehaviorClassic
	if s.ws.Resolver == domain.ResolverFeatureIsolating {
		behavior = resolver.BehaviorIsolating
	}
	infos := make([]domain.PlatformInfo, 0, len(s.kinds))
	for _, kind := range s.kinds {
		infos = append(infos, s.platformFor(kind))
	}
	return resolver.FeatureRequest{
		Behavior:    behavior,
		Selection:   s.req.Features,
		DevDeps:     s.req.Mode.IsAnyTest(),
		HostInfo:    s.hostInfo,
		TargetInfos: infos,
	}
}

// loadPackages materializes every selected package, downloading missing
// registry and git sources under the shared cache lock.
func (s *session) loadPackages(ctx context.Context, res *domain.Resolve) (map[domain.PackageID]*domain.Package, error) {
	lock, err := s.app.locker.Acquire(ctx, cachelock.ModeDownloadExclusive)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	ids := res.PackageIDs()
	packages := make(map[domain.PackageID]*domain.Package, len(ids))
	members := make(map[domain.PackageID]*domain.Package, len(s.ws.Members))
	for _, m := range s.ws.Members {
		members[m.ID] = m
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.jobs)
	results := make([]*domain.Package, len(ids))
	for i, id := range ids {
		if m, ok := members[id]; ok {
			results[i] = m
			continue
		}
		g.Go(func() error {
			pkg, err := s.app.registry.GetPackage(gctx, id)
			if err != nil {
				return err
			}
			results[i] = pkg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, id := range ids {
		packages[id] = results[i]
	}
	return packages, nil
}

// selectRoots applies the package selection flags to the workspace.
func (s *session) selectRoots() ([]*domain.Package, error) {
	sel := s.req.Packages
	switch {
	case len(sel.Specs) > 0:
		var roots []*domain.Package
		for _, spec := range sel.Specs {
			found := false
			for _, m := range s.ws.Members {
				if spec.Matches(m.ID) {
					roots = append(roots, m)
					found = true
				}
			}
			if !found {
				return nil, zerr.With(domain.ErrPackageNotInWorkspace, "package", spec.String())
			}
		}
		return roots, nil
	case sel.Workspace:
		excluded := make(map[string]struct{}, len(sel.Exclude))
		for _, name := range sel.Exclude {
			excluded[name] = struct{}{}
		}
		var roots []*domain.Package
		for _, m := range s.ws.Members {
			if _, skip := excluded[m.ID.Name()]; !skip {
				roots = append(roots, m)
			}
		}
		return roots, nil
	}
	return s.ws.DefaultMembers, nil
}

// profiles merges manifest and configuration profile sections, with
// configuration sections taking precedence per profile name.
func (s *session) profiles() (*domain.Profiles, error) {
	name := s.req.ProfileName
	if name == "" {
		switch {
		case s.req.Mode == domain.ModeTest:
			name = "test"
		case s.req.Mode == domain.ModeBench:
			name = "bench"
		default:
			name = "dev"
		}
	}

	overrides := make(domain.ProfileOverrides, len(s.ws.Overrides))
	for k, v := range s.ws.Overrides {
		overrides[k] = v
	}
	for k, v := range s.cfg.ProfileOverrides() {
		overrides[k] = v
	}
	return domain.NewProfiles(name, overrides)
}

// execute prepares the output layouts and runs the graph.
func (s *session) execute(ctx context.Context, graph *domain.UnitGraph, profiles *domain.Profiles) (scheduler.Summary, error) {
	s.layouts = make(map[domain.CompileKind]*layout.Layout, len(s.kinds)+1)
	kinds := append([]domain.CompileKind{domain.CompileKindHost()}, s.kinds...)
	for _, kind := range kinds {
		if _, ok := s.layouts[kind]; ok {
			continue
		}
		l := layout.New(s.app.logger, s.ws.TargetDir, kind, profiles.DirName())
		if err := l.Prepare(ctx); err != nil {
			return scheduler.Summary{}, err
		}
		defer l.Release()
		s.layouts[kind] = l
	}

	pool, err := s.app.newPool(s.jobs)
	if err != nil {
		return scheduler.Summary{}, err
	}
	defer pool.Close()

	runner := newUnitRunner(runnerConfig{
		logger:       s.app.logger,
		tracer:       s.app.tracer,
		executor:     s.app.executor,
		builder:      s.builder,
		fingerprints: s.app.fingerprints,
		graph:        graph,
		layouts:      s.layouts,
		platformFor:  s.platformFor,
		compilerID:   s.compilerID,
		cfg:          s.cfg,
		jobs:         s.jobs,
		format:       s.req.MessageFormat,
	})

	sched := scheduler.New(runner, pool, s.app.logger, s.app.tracer,
		scheduler.WithKeepGoing(s.req.KeepGoing))
	return sched.Run(ctx, graph)
}

// runHarnesses executes the built test and bench binaries of the root
// units, stopping at the first failing harness.
func (s *session) runHarnesses(ctx context.Context, graph *domain.UnitGraph) error {
	for _, u := range graph.Roots {
		if !u.Mode.IsAnyTest() {
			continue
		}
		l, ok := s.layouts[u.Kind]
		if !ok {
			continue
		}
		outputs := s.builder.Outputs(u, l)
		if len(outputs) == 0 {
			continue
		}
		exe := outputs[0]
		s.app.logger.Status("Running", exe)
		cmd := compiler.Materialize(domain.ProcessPlan{Program: exe, Dir: u.Pkg.Root()})
		if err := s.app.executor.Execute(ctx, cmd, os.Stdout, os.Stderr); err != nil {
			return zerr.With(zerr.Wrap(err, "test harness failed"), "unit", u.String())
		}
	}
	return nil
}
