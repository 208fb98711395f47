package buildscript

import (
	"strconv"
	"strings"

	"freight.build/freight/internal/core/domain"
)

// DepMetadata carries the metadata a dependency's build script exported,
// keyed by its links token.
type DepMetadata struct {
	Links    string
	Metadata []domain.EnvVar
}

// EnvInput collects everything the run environment is synthesized from.
type EnvInput struct {
	Unit       *domain.Unit
	OutDir     string
	HostTriple string
	Target     domain.PlatformInfo
	Jobs       int
	Deps       []DepMetadata
}

// Env synthesizes the environment a build script runs with, on top of the
// inherited process environment.
func Env(in EnvInput) []domain.EnvVar {
	u := in.Unit
	version := u.Pkg.ID.Version()
	profile := u.Profile

	env := []domain.EnvVar{
		{Key: "OUT_DIR", Value: in.OutDir},
		{Key: "TARGET", Value: in.Target.Triple},
		{Key: "HOST", Value: in.HostTriple},
		{Key: "NUM_JOBS", Value: strconv.Itoa(in.Jobs)},
		{Key: "OPT_LEVEL", Value: profile.OptLevel},
		{Key: "PROFILE", Value: profileDirName(profile.Name)},
		{Key: "DEBUG", Value: strconv.FormatBool(profile.Debug > 0)},
		{Key: "CARGO_MANIFEST_DIR", Value: u.Pkg.Root()},
		{Key: "CARGO_PKG_NAME", Value: u.Pkg.ID.Name()},
		{Key: "CARGO_PKG_VERSION", Value: version.String()},
		{Key: "CARGO_PKG_VERSION_MAJOR", Value: strconv.FormatUint(version.Major(), 10)},
		{Key: "CARGO_PKG_VERSION_MINOR", Value: strconv.FormatUint(version.Minor(), 10)},
		{Key: "CARGO_PKG_VERSION_PATCH", Value: strconv.FormatUint(version.Patch(), 10)},
		{Key: "CARGO_PKG_VERSION_PRE", Value: version.Prerelease()},
		{Key: "CARGO_PKG_AUTHORS", Value: strings.Join(u.Pkg.Authors, ":")},
		{Key: "CARGO_PKG_DESCRIPTION", Value: u.Pkg.Description},
	}
	if u.Pkg.Links != "" {
		env = append(env, domain.EnvVar{Key: "CARGO_MANIFEST_LINKS", Value: u.Pkg.Links})
	}
	for _, f := range u.Features {
		env = append(env, domain.EnvVar{Key: "CARGO_FEATURE_" + EnvKey(f.String()), Value: "1"})
	}
	env = append(env, cfgEnv(in.Target)...)
	for _, dep := range in.Deps {
		prefix := "DEP_" + EnvKey(dep.Links) + "_"
		for _, kv := range dep.Metadata {
			env = append(env, domain.EnvVar{Key: prefix + EnvKey(kv.Key), Value: kv.Value})
		}
	}
	return env
}

// cfgEnv renders the target's configuration values as CARGO_CFG_*
// variables. Bare names become empty-valued variables; multi-valued keys
// like target_feature join their values with commas.
func cfgEnv(info domain.PlatformInfo) []domain.EnvVar {
	var order []string
	values := make(map[string][]string)
	for _, v := range info.Cfg {
		// Compilation-dependent cfgs are not part of the contract.
		if v.Name == "debug_assertions" || v.Name == "proc_macro" {
			continue
		}
		if _, seen := values[v.Name]; !seen {
			order = append(order, v.Name)
			values[v.Name] = nil
		}
		if v.IsPair {
			values[v.Name] = append(values[v.Name], v.Value)
		}
	}
	env := make([]domain.EnvVar, 0, len(order))
	for _, name := range order {
		env = append(env, domain.EnvVar{
			Key:   "CARGO_CFG_" + EnvKey(name),
			Value: strings.Join(values[name], ","),
		})
	}
	return env
}

// EnvKey uppercases a token for use in an environment variable name.
func EnvKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - ('a' - 'A'))
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func profileDirName(name string) string {
	switch name {
	case "dev", "test":
		return "debug"
	case "release", "bench":
		return "release"
	}
	return name
}
