// Package resolver selects the exact package versions satisfying a
// workspace's dependency requirements and computes the features activated
// on each selected package.
package resolver

import (
	"context"
	"sort"
	"strings"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
)

// Resolver runs dependency resolution against a registry.
type Resolver struct {
	registry ports.Registry
	logger   ports.Logger
	tracer   ports.Tracer
}

// New creates a new Resolver.
func New(registry ports.Registry, logger ports.Logger, tracer ports.Tracer) *Resolver {
	return &Resolver{
		registry: registry,
		logger:   logger,
		tracer:   tracer,
	}
}

// Request carries the inputs of one resolution.
type Request struct {
	// Members are the workspace member summaries. Their dev edges are
	// followed; dev edges of other packages are not.
	Members []*domain.Summary

	// Previous is the resolve loaded from the lockfile, or nil. Locked
	// versions are preferred over newer candidates.
	Previous *domain.Resolve

	// Locked fails the resolution if the result differs from Previous.
	Locked bool

	// Features, when set, runs feature unification after version
	// selection and attaches the per-package union to the resolve.
	Features *FeatureRequest
}

// Resolve selects versions for every requirement reachable from the
// members. The result is independent of requested features: optional
// dependencies are always included so the lockfile covers every feature
// combination.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*domain.Resolve, error) {
	ctx, span := r.tracer.Start(ctx, "resolve")
	defer span.End()

	s := &state{
		registry:    r.registry,
		previous:    req.Previous,
		activations: make(map[activationKey]*domain.Summary),
		links:       make(map[domain.InternedString]domain.PackageID),
		pairs:       make(map[pairKey]domain.PackageID),
		parents:     make(map[domain.PackageID]parentLink),
		queryCache:  make(map[queryKey][]*domain.Summary),
		members:     make(map[domain.PackageID]struct{}, len(req.Members)),
	}
	for _, m := range req.Members {
		s.members[m.ID] = struct{}{}
	}

	var activateAll func(idx int) error
	activateAll = func(idx int) error {
		if idx == len(req.Members) {
			return nil
		}
		return s.activateSummary(ctx, req.Members[idx], func() error {
			return activateAll(idx + 1)
		})
	}
	if err := activateAll(0); err != nil {
		span.RecordError(err)
		return nil, err
	}

	resolve := s.buildResolve()
	if err := checkCycles(resolve); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if req.Locked && req.Previous != nil && !sameVersions(resolve, req.Previous) {
		err := domain.ErrLockfileOutOfDate
		span.RecordError(err)
		return nil, err
	}
	if req.Features != nil {
		activated, err := Unify(resolve, req.Members, *req.Features)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		features := make(map[domain.PackageID][]domain.InternedString, resolve.Len())
		for _, id := range resolve.PackageIDs() {
			if union := activated.Union(id); len(union) > 0 {
				features[id] = union
			}
		}
		resolve = resolve.WithFeatures(features)
	}
	span.SetAttribute("packages", resolve.Len())
	return resolve, nil
}

// compatBucket groups versions that may not coexist: versions are
// exclusive within one bucket and independent across buckets. For
// major >= 1 the bucket is the major version; for 0.x it is the minor
// version; for 0.0.x every patch release is its own bucket.
type compatBucket struct {
	major, minor, patch uint64
}

func bucketOf(id domain.PackageID) compatBucket {
	v := id.Version()
	switch {
	case v.Major() > 0:
		return compatBucket{major: v.Major()}
	case v.Minor() > 0:
		return compatBucket{minor: v.Minor()}
	}
	return compatBucket{patch: v.Patch()}
}

type activationKey struct {
	name   domain.InternedString
	source domain.SourceID
	bucket compatBucket
}

func keyOf(id domain.PackageID) activationKey {
	return activationKey{
		name:   id.InternedName(),
		source: id.Source().WithoutPrecise(),
		bucket: bucketOf(id),
	}
}

type pairKey struct {
	parent  domain.PackageID
	depName domain.InternedString
	depKind domain.DepKind
}

type parentLink struct {
	parent domain.PackageID
	dep    domain.Dependency
}

type queryKey struct {
	name   domain.InternedString
	source domain.SourceID
	req    string
	kind   ports.QueryKind
}

// journalOp records one mutation for backtracking.
type journalOp struct {
	activation *activationKey
	linksName  domain.InternedString
	pair       *pairKey
	parentOf   domain.PackageID
}

type state struct {
	registry    ports.Registry
	previous    *domain.Resolve
	activations map[activationKey]*domain.Summary
	links       map[domain.InternedString]domain.PackageID
	pairs       map[pairKey]domain.PackageID
	parents     map[domain.PackageID]parentLink
	queryCache  map[queryKey][]*domain.Summary
	members     map[domain.PackageID]struct{}
	journal     []journalOp
}

func (s *state) mark() int { return len(s.journal) }

func (s *state) rollback(mark int) {
	for i := len(s.journal) - 1; i >= mark; i-- {
		op := s.journal[i]
		switch {
		case op.activation != nil:
			delete(s.activations, *op.activation)
		case op.pair != nil:
			delete(s.pairs, *op.pair)
		case !op.linksName.IsEmpty():
			delete(s.links, op.linksName)
		default:
			delete(s.parents, op.parentOf)
		}
	}
	s.journal = s.journal[:mark]
}

// depsToFollow returns the edges resolution follows for a package, in
// deterministic order. Dev edges are followed only for members; optional
// edges are always followed.
func (s *state) depsToFollow(summary *domain.Summary) []domain.Dependency {
	_, isMember := s.members[summary.ID]
	deps := make([]domain.Dependency, 0, len(summary.Dependencies))
	for _, d := range summary.Dependencies {
		if d.Kind == domain.DepKindDev && !isMember {
			continue
		}
		deps = append(deps, d)
	}
	sort.SliceStable(deps, func(i, j int) bool {
		if a, b := deps[i].PackageName.String(), deps[j].PackageName.String(); a != b {
			return a < b
		}
		return deps[i].Kind < deps[j].Kind
	})
	return deps
}

// activateSummary commits a summary, resolves all its edges, then runs
// cont to explore the rest of the graph. A non-nil error means the whole
// subtree rooted here failed; the caller rolls back.
func (s *state) activateSummary(ctx context.Context, summary *domain.Summary, cont func() error) error {
	key := keyOf(summary.ID)
	if existing, ok := s.activations[key]; ok {
		if existing.ID == summary.ID {
			return cont()
		}
		return zerr.With(zerr.With(
			zerr.Wrap(domain.ErrResolution, "two compatible versions of the same package cannot coexist"),
			"selected", existing.ID.String()), "candidate", summary.ID.String())
	}
	if summary.HasLinks() {
		if owner, taken := s.links[summary.Links]; taken && owner != summary.ID {
			return zerr.With(zerr.With(zerr.With(
				domain.ErrLinksCollision,
				"links", summary.Links.String()),
				"package", summary.ID.String()),
				"conflicts_with", s.describeChain(owner))
		}
		s.links[summary.Links] = summary.ID
		s.journal = append(s.journal, journalOp{linksName: summary.Links})
	}
	s.activations[key] = summary
	s.journal = append(s.journal, journalOp{activation: &key})

	return s.activateDeps(ctx, summary, s.depsToFollow(summary), 0, cont)
}

// activateDeps satisfies the edges of parent from index idx on, trying
// candidates newest first. The continuation covers the sibling edges of
// every enclosing package, so backtracking crosses subtree boundaries.
func (s *state) activateDeps(ctx context.Context, parent *domain.Summary, deps []domain.Dependency, idx int, cont func() error) error {
	if idx == len(deps) {
		return cont()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dep := deps[idx]
	candidates, err := s.candidates(ctx, dep)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return s.noMatchingVersion(parent, dep)
	}
	var lastErr error
	for _, candidate := range candidates {
		mark := s.mark()
		err := s.activateCandidate(ctx, parent, dep, candidate, func() error {
			return s.activateDeps(ctx, parent, deps, idx+1, cont)
		})
		if err == nil {
			return nil
		}
		s.rollback(mark)
		lastErr = err
	}
	return lastErr
}

// activateCandidate selects one candidate for an edge: either reuses the
// version already activated in the candidate's compatibility bucket or
// activates the candidate and its edges.
func (s *state) activateCandidate(ctx context.Context, parent *domain.Summary, dep domain.Dependency, candidate *domain.Summary, cont func() error) error {
	key := keyOf(candidate.ID)
	if existing, ok := s.activations[key]; ok && existing.ID != candidate.ID {
		return zerr.With(zerr.With(zerr.With(
			zerr.Wrap(domain.ErrResolution, "version is incompatible with the already selected version"),
			"candidate", candidate.ID.String()),
			"selected", s.describeChain(existing.ID)),
			"required_by", s.describeChain(parent.ID))
	}
	pk := pairKey{parent: parent.ID, depName: dep.Name, depKind: dep.Kind}
	s.pairs[pk] = candidate.ID
	s.journal = append(s.journal, journalOp{pair: &pk})
	if _, seen := s.parents[candidate.ID]; !seen {
		s.parents[candidate.ID] = parentLink{parent: parent.ID, dep: dep}
		s.journal = append(s.journal, journalOp{parentOf: candidate.ID})
	}
	return s.activateSummary(ctx, candidate, cont)
}

// candidates returns the summaries satisfying an edge, newest first, with
// the locked version (if any) moved to the front.
func (s *state) candidates(ctx context.Context, dep domain.Dependency) ([]*domain.Summary, error) {
	locked, hasLock := s.lockedVersion(dep)
	kind := ports.QueryNormal
	if hasLock {
		kind = ports.QueryExact
	}
	qk := queryKey{name: dep.PackageName, source: dep.Source.WithoutPrecise(), req: dep.Req.String(), kind: kind}
	summaries, ok := s.queryCache[qk]
	if !ok {
		var err error
		summaries, err = s.registry.Query(ctx, dep, kind)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(summaries, func(i, j int) bool {
			return summaries[i].ID.Version().GreaterThan(summaries[j].ID.Version())
		})
		s.queryCache[qk] = summaries
	}
	if !hasLock {
		return summaries, nil
	}
	ordered := make([]*domain.Summary, 0, len(summaries))
	for _, c := range summaries {
		if sameIgnoringPrecise(c.ID, locked) {
			ordered = append(ordered, c)
		}
	}
	for _, c := range summaries {
		if !sameIgnoringPrecise(c.ID, locked) && !c.Yanked {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

func sameIgnoringPrecise(a, b domain.PackageID) bool {
	return a.InternedName() == b.InternedName() &&
		a.Version().Equal(b.Version()) &&
		a.Source().SameAs(b.Source())
}

// lockedVersion finds the previously selected package for an edge.
func (s *state) lockedVersion(dep domain.Dependency) (domain.PackageID, bool) {
	if s.previous == nil {
		return domain.PackageID{}, false
	}
	for _, id := range s.previous.PackageIDs() {
		if dep.MatchesID(id) {
			return id, true
		}
	}
	return domain.PackageID{}, false
}

func (s *state) noMatchingVersion(parent *domain.Summary, dep domain.Dependency) error {
	err := zerr.With(zerr.With(
		domain.ErrNoMatchingVersion,
		"requirement", dep.PackageName.String()+" = \""+dep.Req.String()+"\""),
		"source", dep.Source.String())
	return zerr.With(err, "required_by", s.describeChain(parent.ID))
}

// describeChain renders the requirement chain from a package up to a
// workspace member, newest link first.
func (s *state) describeChain(id domain.PackageID) string {
	var b strings.Builder
	b.WriteString(id.String())
	cur := id
	for range 32 {
		link, ok := s.parents[cur]
		if !ok {
			break
		}
		b.WriteString(" <- ")
		b.WriteString(link.parent.String())
		cur = link.parent
	}
	return b.String()
}

// buildResolve assembles the immutable result from the final state.
func (s *state) buildResolve() *domain.Resolve {
	type edgeKey struct {
		parent domain.PackageID
		child  domain.PackageID
	}
	edges := make(map[edgeKey][]domain.Dependency)
	for pk, child := range s.pairs {
		parentSummary := s.activations[keyOf(pk.parent)]
		for _, d := range parentSummary.Dependencies {
			if d.Name == pk.depName && d.Kind == pk.depKind {
				ek := edgeKey{parent: pk.parent, child: child}
				edges[ek] = append(edges[ek], d)
			}
		}
	}

	graph := make(map[domain.PackageID][]domain.ResolvedDep, len(s.activations))
	checksums := make(map[domain.PackageID]string)
	summaries := make(map[domain.PackageID]*domain.Summary, len(s.activations))
	for _, summary := range s.activations {
		graph[summary.ID] = nil
		summaries[summary.ID] = summary
		if summary.Checksum != "" {
			checksums[summary.ID] = summary.Checksum
		} else if s.previous != nil {
			if sum := s.previous.Checksum(summary.ID); sum != "" {
				checksums[summary.ID] = sum
			}
		}
	}
	for ek, deps := range edges {
		sort.SliceStable(deps, func(i, j int) bool {
			if deps[i].Kind != deps[j].Kind {
				return deps[i].Kind < deps[j].Kind
			}
			return deps[i].Name.String() < deps[j].Name.String()
		})
		graph[ek.parent] = append(graph[ek.parent], domain.ResolvedDep{ID: ek.child, Edges: deps})
	}

	version := domain.DefaultLockfileVersion
	if s.previous != nil && s.previous.Version() > version {
		version = s.previous.Version()
	}
	return domain.NewResolve(graph, make(map[domain.PackageID][]domain.InternedString), checksums, summaries, version)
}

// checkCycles rejects graphs where the normal and build edges form a
// cycle. Dev edges may point back into the graph.
func checkCycles(resolve *domain.Resolve) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[domain.PackageID]int, resolve.Len())
	var visit func(id domain.PackageID, trail []domain.PackageID) error
	visit = func(id domain.PackageID, trail []domain.PackageID) error {
		color[id] = gray
		trail = append(trail, id)
		for _, dep := range resolve.Deps(id) {
			transitive := false
			for _, e := range dep.Edges {
				if e.IsTransitive() {
					transitive = true
					break
				}
			}
			if !transitive {
				continue
			}
			switch color[dep.ID] {
			case gray:
				return zerr.With(domain.ErrCyclicDependency, "cycle", renderCycle(trail, dep.ID))
			case white:
				if err := visit(dep.ID, trail); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, id := range resolve.PackageIDs() {
		if color[id] == white {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func renderCycle(trail []domain.PackageID, repeated domain.PackageID) string {
	start := 0
	for i, id := range trail {
		if id == repeated {
			start = i
			break
		}
	}
	var b strings.Builder
	for _, id := range trail[start:] {
		b.WriteString(id.SpecString())
		b.WriteString(" -> ")
	}
	b.WriteString(repeated.SpecString())
	return b.String()
}

// sameVersions reports whether two resolves select the same package set.
func sameVersions(a, b *domain.Resolve) bool {
	aids := a.PackageIDs()
	bids := b.PackageIDs()
	if len(aids) != len(bids) {
		return false
	}
	for i := range aids {
		if aids[i] != bids[i] {
			return false
		}
	}
	return true
}
