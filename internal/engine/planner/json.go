package planner

import (
	"encoding/json"
	"io"

	"freight.build/freight/internal/core/domain"
)

// unitGraphVersion is the schema version of the --unit-graph output.
const unitGraphVersion = 1

type jsonGraph struct {
	Version int        `json:"version"`
	Units   []jsonUnit `json:"units"`
	Roots   []int      `json:"roots"`
}

type jsonUnit struct {
	PkgID        string    `json:"pkg_id"`
	Target       string    `json:"target"`
	TargetKind   string    `json:"target_kind"`
	Profile      string    `json:"profile"`
	Platform     string    `json:"platform,omitempty"`
	Mode         string    `json:"mode"`
	Features     []string  `json:"features"`
	Artifact     string    `json:"artifact,omitempty"`
	Dependencies []jsonDep `json:"dependencies"`
}

type jsonDep struct {
	Index      int    `json:"index"`
	ExternName string `json:"extern_crate_name,omitempty"`
	Public     bool   `json:"public,omitempty"`
	NoPrelude  bool   `json:"noprelude,omitempty"`
}

// WriteJSON renders the unit graph in the stable --unit-graph format:
// units in deterministic order, dependencies as indices into the unit
// list.
func WriteJSON(w io.Writer, g *domain.UnitGraph) error {
	units := g.Units()
	index := make(map[*domain.Unit]int, len(units))
	for i, u := range units {
		index[u] = i
	}

	out := jsonGraph{Version: unitGraphVersion, Units: make([]jsonUnit, 0, len(units))}
	for _, u := range units {
		ju := jsonUnit{
			PkgID:      u.Pkg.ID.String(),
			Target:     u.Target.Name.String(),
			TargetKind: u.Target.Kind.String(),
			Profile:    u.Profile.Name,
			Mode:       u.Mode.String(),
			Features:   make([]string, 0, len(u.Features)),
			Artifact:   u.Artifact,
		}
		if !u.Kind.IsHost() {
			ju.Platform = u.Kind.String()
		}
		for _, f := range u.Features {
			ju.Features = append(ju.Features, f.String())
		}
		for _, d := range g.DepsOf(u) {
			jd := jsonDep{
				Index:     index[d.Unit],
				Public:    d.Public,
				NoPrelude: d.NoImplicitImport,
			}
			if !d.ExternName.IsEmpty() {
				jd.ExternName = d.ExternName.String()
			}
			ju.Dependencies = append(ju.Dependencies, jd)
		}
		out.Units = append(out.Units, ju)
	}
	for _, r := range g.Roots {
		out.Roots = append(out.Roots, index[r])
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
