// Package config loads the hierarchical configuration consumed by the
// core: .cargo/config.toml files from the workspace directory and its
// ancestors, the home configuration, a CARGO_-prefixed environment
// overlay, and --config command line overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
)

// ErrConfig is returned when a configuration layer does not parse.
var ErrConfig = zerr.New("invalid configuration")

// Loader merges configuration layers in ascending precedence: home
// config, ancestor directories (outermost first), environment, CLI.
type Loader struct {
	logger ports.Logger
}

// NewLoader creates a new Loader with the given logger.
func NewLoader(logger ports.Logger) *Loader {
	return &Loader{logger: logger}
}

// Load reads and merges every configuration layer visible from cwd.
// cliOverrides are the --config arguments, each either an inline
// "key.path=value" TOML document or a path to a TOML file.
func (l *Loader) Load(cwd string, cliOverrides []string) (*Schema, error) {
	merged := make(map[string]any)

	for _, path := range l.configPaths(cwd) {
		layer, err := readLayer(path)
		if err != nil {
			return nil, err
		}
		l.logger.Verbose("Loading", path)
		mergeTables(merged, layer)
	}

	mergeTables(merged, environLayer(os.Environ()))

	for _, override := range cliOverrides {
		layer, err := cliLayer(override)
		if err != nil {
			return nil, err
		}
		mergeTables(merged, layer)
	}

	normalize(merged)
	return toSchema(merged)
}

// configPaths returns the existing configuration files in ascending
// precedence: home config first, then ancestors from the root down to cwd.
func (l *Loader) configPaths(cwd string) []string {
	var descending []string
	dir := cwd
	for {
		candidate := filepath.Join(dir, domain.DefaultConfigPath())
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			descending = append(descending, candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	home := filepath.Join(CargoHome(), domain.ConfigFileName)
	paths := make([]string, 0, len(descending)+1)
	if info, err := os.Stat(home); err == nil && !info.IsDir() {
		// Skip the home config when the walk already picked it up as an
		// ancestor of cwd.
		duplicate := false
		for _, p := range descending {
			if p == home {
				duplicate = true
				break
			}
		}
		if !duplicate {
			paths = append(paths, home)
		}
	}
	for i := len(descending) - 1; i >= 0; i-- {
		paths = append(paths, descending[i])
	}
	return paths
}

// CargoHome returns the cache and home-config directory, honoring
// CARGO_HOME.
func CargoHome() string {
	if dir := os.Getenv("CARGO_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return domain.ConfigDirName
	}
	return filepath.Join(home, domain.ConfigDirName)
}

func readLayer(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) //nolint:gosec // discovered config path
	if err != nil {
		return nil, zerr.With(zerr.Wrap(ErrConfig, err.Error()), "path", path)
	}
	var layer map[string]any
	if err := toml.Unmarshal(data, &layer); err != nil {
		return nil, zerr.With(zerr.Wrap(ErrConfig, err.Error()), "path", path)
	}
	return layer, nil
}

// cliLayer parses one --config argument. A value containing '=' is an
// inline TOML document with a dotted key; anything else is a file path.
func cliLayer(arg string) (map[string]any, error) {
	if !strings.Contains(arg, "=") {
		return readLayer(arg)
	}
	var layer map[string]any
	if err := toml.Unmarshal([]byte(arg), &layer); err != nil {
		return nil, zerr.With(zerr.Wrap(ErrConfig, err.Error()), "config", arg)
	}
	return layer, nil
}

// mergeTables overlays the incoming layer onto base. Tables merge
// recursively, lists concatenate (existing entries first), scalars from
// the incoming layer win.
func mergeTables(base, layer map[string]any) {
	for key, incoming := range layer {
		existing, present := base[key]
		if !present {
			base[key] = incoming
			continue
		}
		existingTable, existingIsTable := existing.(map[string]any)
		incomingTable, incomingIsTable := incoming.(map[string]any)
		if existingIsTable && incomingIsTable {
			mergeTables(existingTable, incomingTable)
			continue
		}
		existingList, existingIsList := existing.([]any)
		incomingList, incomingIsList := incoming.([]any)
		if existingIsList && incomingIsList {
			base[key] = append(append([]any{}, existingList...), incomingList...)
			continue
		}
		base[key] = incoming
	}
}

// knownEnvKeys maps environment variables to their configuration paths.
// List-valued keys are split on whitespace.
var knownEnvKeys = map[string]struct {
	path []string
	list bool
}{
	"CARGO_BUILD_JOBS":                    {path: []string{"build", "jobs"}},
	"CARGO_BUILD_TARGET":                  {path: []string{"build", "target"}, list: true},
	"CARGO_BUILD_TARGET_DIR":              {path: []string{"build", "target-dir"}},
	"CARGO_TARGET_DIR":                    {path: []string{"build", "target-dir"}},
	"CARGO_BUILD_RUSTC":                   {path: []string{"build", "rustc"}},
	"RUSTC":                               {path: []string{"build", "rustc"}},
	"CARGO_BUILD_RUSTDOC":                 {path: []string{"build", "rustdoc"}},
	"RUSTDOC":                             {path: []string{"build", "rustdoc"}},
	"CARGO_BUILD_RUSTFLAGS":               {path: []string{"build", "rustflags"}, list: true},
	"RUSTFLAGS":                           {path: []string{"build", "rustflags"}, list: true},
	"CARGO_BUILD_RUSTDOCFLAGS":            {path: []string{"build", "rustdocflags"}, list: true},
	"RUSTDOCFLAGS":                        {path: []string{"build", "rustdocflags"}, list: true},
	"CARGO_BUILD_INCREMENTAL":             {path: []string{"build", "incremental"}},
	"CARGO_INCREMENTAL":                   {path: []string{"build", "incremental"}},
	"CARGO_BUILD_DEP_INFO_BASEDIR":        {path: []string{"build", "dep-info-basedir"}},
	"CARGO_BUILD_RUSTC_WRAPPER":           {path: []string{"build", "rustc-wrapper"}},
	"RUSTC_WRAPPER":                       {path: []string{"build", "rustc-wrapper"}},
	"CARGO_BUILD_RUSTC_WORKSPACE_WRAPPER": {path: []string{"build", "rustc-workspace-wrapper"}},
	"RUSTC_WORKSPACE_WRAPPER":             {path: []string{"build", "rustc-workspace-wrapper"}},
	"CARGO_NET_RETRY":                     {path: []string{"net", "retry"}},
	"CARGO_NET_OFFLINE":                   {path: []string{"net", "offline"}},
	"CARGO_NET_GIT_FETCH_WITH_CLI":        {path: []string{"net", "git-fetch-with-cli"}},
	"CARGO_HTTP_PROXY":                    {path: []string{"http", "proxy"}},
	"CARGO_HTTP_TIMEOUT":                  {path: []string{"http", "timeout"}},
	"CARGO_HTTP_MULTIPLEXING":             {path: []string{"http", "multiplexing"}},
	"CARGO_HTTP_CAINFO":                   {path: []string{"http", "cainfo"}},
	"CARGO_HTTP_SSL_VERSION":              {path: []string{"http", "ssl-version"}},
	"CARGO_REGISTRY_DEFAULT":              {path: []string{"registry", "default"}},
}

// environLayer builds a configuration layer from the process environment.
func environLayer(environ []string) map[string]any {
	layer := make(map[string]any)
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if spec, known := knownEnvKeys[key]; known {
			setPath(layer, spec.path, envValue(value, spec.list))
			continue
		}
		if name, rest, found := cutEnvKey(key, "CARGO_REGISTRIES_"); found {
			if rest == "INDEX" {
				setPath(layer, []string{"registries", strings.ToLower(name), "index"}, value)
			}
			continue
		}
		if triple, rest, found := cutEnvKey(key, "CARGO_TARGET_"); found {
			lowered := FoldTripleKey(triple)
			switch rest {
			case "LINKER":
				setPath(layer, []string{"target", lowered, "linker"}, value)
			case "RUNNER":
				setPath(layer, []string{"target", lowered, "runner"}, envValue(value, true))
			case "RUSTFLAGS":
				setPath(layer, []string{"target", lowered, "rustflags"}, envValue(value, true))
			}
		}
	}
	return layer
}

// FoldTripleKey lowercases a target-triple key and maps '_' to '-'.
// Environment variable names cannot distinguish the two characters, so
// every triple lookup folds both sides the same way.
func FoldTripleKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}

// cutEnvKey splits "<prefix><NAME>_<LAST>" into NAME and LAST, where LAST
// is the final known suffix (INDEX, LINKER, RUNNER, RUSTFLAGS).
func cutEnvKey(key, prefix string) (name, last string, found bool) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return "", "", false
	}
	for _, suffix := range []string{"INDEX", "LINKER", "RUNNER", "RUSTFLAGS"} {
		if trimmed, ok := strings.CutSuffix(rest, "_"+suffix); ok {
			return trimmed, suffix, true
		}
	}
	return "", "", false
}

// envValue converts an environment string to the typed value a TOML layer
// would carry.
func envValue(value string, list bool) any {
	if list {
		fields := strings.Fields(value)
		converted := make([]any, len(fields))
		for i, f := range fields {
			converted[i] = f
		}
		return converted
	}
	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	return value
}

func setPath(layer map[string]any, path []string, value any) {
	table := layer
	for _, key := range path[:len(path)-1] {
		next, ok := table[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			table[key] = next
		}
		table = next
	}
	table[path[len(path)-1]] = value
}

// listValuedKeys are paths whose value may be written as a single
// whitespace-separated string.
var listValuedKeys = [][]string{
	{"build", "target"},
	{"build", "rustflags"},
	{"build", "rustdocflags"},
}

// normalize rewrites union-typed values into their canonical form so the
// typed schema can decode the tree: string-or-list keys become lists,
// CARGO_INCREMENTAL-style "1"/"0" become booleans, [env] strings become
// tables.
func normalize(merged map[string]any) {
	for _, path := range listValuedKeys {
		if raw, ok := getPath(merged, path); ok {
			if s, isString := raw.(string); isString {
				setPath(merged, path, envValue(s, true))
			}
		}
	}
	if targets, ok := merged["target"].(map[string]any); ok {
		for _, raw := range targets {
			table, isTable := raw.(map[string]any)
			if !isTable {
				continue
			}
			for _, key := range []string{"runner", "rustflags"} {
				if s, isString := table[key].(string); isString {
					table[key] = envValue(s, true)
				}
			}
		}
	}
	if raw, ok := getPath(merged, []string{"build", "incremental"}); ok {
		switch v := raw.(type) {
		case string:
			setPath(merged, []string{"build", "incremental"}, v == "1" || v == "true")
		case int64:
			setPath(merged, []string{"build", "incremental"}, v != 0)
		}
	}
	if env, ok := merged["env"].(map[string]any); ok {
		for key, raw := range env {
			if s, isString := raw.(string); isString {
				env[key] = map[string]any{"value": s}
			}
		}
	}
}

func getPath(layer map[string]any, path []string) (any, bool) {
	table := layer
	for _, key := range path[:len(path)-1] {
		next, ok := table[key].(map[string]any)
		if !ok {
			return nil, false
		}
		table = next
	}
	value, ok := table[path[len(path)-1]]
	return value, ok
}

// targetSettingKeys are the recognized keys of a [target.<T>] table;
// any other table-valued key is native link metadata.
var targetSettingKeys = map[string]struct{}{
	"linker":    {},
	"runner":    {},
	"rustflags": {},
}

// toSchema decodes the merged tree into the typed schema, splitting the
// link-metadata tables out of [target.<T>] and the per-triple
// refinements out of [host] first.
func toSchema(merged map[string]any) (*Schema, error) {
	links := extractLinkTables(merged)
	hostTriples := extractHostTriples(merged)

	data, err := toml.Marshal(merged)
	if err != nil {
		return nil, zerr.Wrap(ErrConfig, err.Error())
	}
	var schema Schema
	if err := toml.Unmarshal(data, &schema); err != nil {
		return nil, zerr.Wrap(ErrConfig, err.Error())
	}

	for triple, tables := range links {
		entry := schema.Target[triple]
		entry.Links = tables
		if schema.Target == nil {
			schema.Target = make(map[string]TargetSchema)
		}
		schema.Target[triple] = entry
	}

	if len(hostTriples) > 0 {
		if schema.Host == nil {
			schema.Host = &HostSchema{}
		}
		schema.Host.PerTriple = make(map[string]TargetSchema, len(hostTriples))
		for triple, raw := range hostTriples {
			var entry TargetSchema
			encoded, err := toml.Marshal(raw)
			if err != nil {
				return nil, zerr.Wrap(ErrConfig, err.Error())
			}
			if err := toml.Unmarshal(encoded, &entry); err != nil {
				return nil, zerr.Wrap(ErrConfig, err.Error())
			}
			schema.Host.PerTriple[triple] = entry
		}
	}
	return &schema, nil
}

// extractHostTriples removes [host.<triple>] tables from the merged tree
// so they do not collide with the flat host settings during decoding.
func extractHostTriples(merged map[string]any) map[string]map[string]any {
	host, ok := merged["host"].(map[string]any)
	if !ok {
		return nil
	}
	triples := make(map[string]map[string]any)
	for key, value := range host {
		if _, recognized := targetSettingKeys[key]; recognized {
			continue
		}
		table, isTable := value.(map[string]any)
		if !isTable {
			continue
		}
		triples[key] = table
		delete(host, key)
	}
	return triples
}

func extractLinkTables(merged map[string]any) map[string]map[string]map[string]any {
	targets, ok := merged["target"].(map[string]any)
	if !ok {
		return nil
	}
	links := make(map[string]map[string]map[string]any)
	for triple, raw := range targets {
		table, isTable := raw.(map[string]any)
		if !isTable {
			continue
		}
		for key, value := range table {
			if _, recognized := targetSettingKeys[key]; recognized {
				continue
			}
			meta, isMeta := value.(map[string]any)
			if !isMeta {
				continue
			}
			if links[triple] == nil {
				links[triple] = make(map[string]map[string]any)
			}
			links[triple][key] = meta
			delete(table, key)
		}
	}
	return links
}
