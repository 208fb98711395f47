// Package buildscript runs compiled build scripts and translates their
// stdout directive protocol into build state: link flags, cfgs,
// environment, rerun triggers and metadata for dependent scripts.
package buildscript

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
)

// strictSyntaxVersion is the first toolchain version allowed to emit the
// "cargo::" directive form.
var strictSyntaxVersion = semver.MustParse("1.77.0")

// ParseOutput parses the captured stdout of one build script run. Lines
// that are not directives are ignored as informational output. Any
// "error=" directive makes the whole run fail after parsing completes.
func ParseOutput(data []byte, msrv *semver.Version) (*domain.BuildOutput, error) {
	out := &domain.BuildOutput{}
	var errLines []string

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		directive, strict, ok := cutDirective(line)
		if !ok {
			continue
		}
		if strict && msrv != nil && msrv.LessThan(strictSyntaxVersion) {
			return nil, zerr.With(zerr.With(
				zerr.Wrap(domain.ErrBuildScript, "the `cargo::` syntax requires rust-version 1.77.0 or newer"),
				"line", line),
				"rust_version", msrv.String())
		}
		key, value, _ := strings.Cut(directive, "=")
		if err := applyDirective(out, key, value, strict, &errLines); err != nil {
			return nil, zerr.With(err, "line", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, zerr.Wrap(domain.ErrBuildScript, err.Error())
	}

	if len(errLines) > 0 {
		return nil, zerr.With(
			zerr.Wrap(domain.ErrBuildScript, "build script reported an error"),
			"error", strings.Join(errLines, "\n"))
	}
	return out, nil
}

// cutDirective strips the directive prefix, reporting which syntax form
// was used. "cargo::" is checked first since "cargo:" is its prefix.
func cutDirective(line string) (string, bool, bool) {
	if rest, ok := strings.CutPrefix(line, "cargo::"); ok {
		return rest, true, true
	}
	if rest, ok := strings.CutPrefix(line, "cargo:"); ok {
		return rest, false, true
	}
	return "", false, false
}

func applyDirective(out *domain.BuildOutput, key, value string, strict bool, errLines *[]string) error {
	switch key {
	case "rustc-link-lib":
		out.LibraryLinks = append(out.LibraryLinks, value)
	case "rustc-link-search":
		// The optional KIND= qualifier is preserved for the compiler.
		out.LibraryPaths = append(out.LibraryPaths, value)
	case "rustc-flags":
		paths, links, err := parseRustcFlags(value)
		if err != nil {
			return err
		}
		out.LibraryPaths = append(out.LibraryPaths, paths...)
		out.LibraryLinks = append(out.LibraryLinks, links...)
	case "rustc-cfg":
		out.Cfgs = append(out.Cfgs, value)
	case "rustc-check-cfg":
		out.CheckCfgs = append(out.CheckCfgs, value)
	case "rustc-env":
		envKey, envValue, ok := strings.Cut(value, "=")
		if !ok {
			return zerr.Wrap(domain.ErrBuildScript, "rustc-env requires KEY=VALUE")
		}
		out.Env = append(out.Env, domain.EnvVar{Key: envKey, Value: envValue})
	case "rustc-link-arg":
		out.LinkerArgs = append(out.LinkerArgs, domain.LinkerArg{Scope: domain.LinkArgScopeAll, Arg: value})
	case "rustc-cdylib-link-arg":
		out.LinkerArgs = append(out.LinkerArgs, domain.LinkerArg{Scope: domain.LinkArgScopeCdylib, Arg: value})
	case "rustc-link-arg-bins":
		out.LinkerArgs = append(out.LinkerArgs, domain.LinkerArg{Scope: domain.LinkArgScopeBins, Arg: value})
	case "rustc-link-arg-bin":
		bin, arg, ok := strings.Cut(value, "=")
		if !ok {
			return zerr.Wrap(domain.ErrBuildScript, "rustc-link-arg-bin requires BIN=ARG")
		}
		out.LinkerArgs = append(out.LinkerArgs, domain.LinkerArg{Scope: domain.LinkArgScopeSingleBin, BinName: bin, Arg: arg})
	case "rustc-link-arg-tests":
		out.LinkerArgs = append(out.LinkerArgs, domain.LinkerArg{Scope: domain.LinkArgScopeTests, Arg: value})
	case "rustc-link-arg-benches":
		out.LinkerArgs = append(out.LinkerArgs, domain.LinkerArg{Scope: domain.LinkArgScopeBenches, Arg: value})
	case "rustc-link-arg-examples":
		out.LinkerArgs = append(out.LinkerArgs, domain.LinkerArg{Scope: domain.LinkArgScopeExamples, Arg: value})
	case "rerun-if-changed":
		out.RerunIfChanged = append(out.RerunIfChanged, value)
	case "rerun-if-env-changed":
		out.RerunIfEnvChanged = append(out.RerunIfEnvChanged, value)
	case "warning":
		out.Warnings = append(out.Warnings, value)
	case "error":
		*errLines = append(*errLines, value)
	case "metadata":
		metaKey, metaValue, ok := strings.Cut(value, "=")
		if !ok {
			return zerr.Wrap(domain.ErrBuildScript, "metadata requires KEY=VALUE")
		}
		out.Metadata = append(out.Metadata, domain.EnvVar{Key: metaKey, Value: metaValue})
	default:
		if strict {
			return zerr.With(zerr.Wrap(domain.ErrBuildScript, "unknown directive"), "directive", key)
		}
		// Old syntax: any unreserved key is a metadata entry.
		out.Metadata = append(out.Metadata, domain.EnvVar{Key: key, Value: value})
	}
	return nil
}

// parseRustcFlags accepts only -l and -L flags, attached or separate.
func parseRustcFlags(value string) (paths, links []string, err error) {
	fields := strings.Fields(value)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		var rest string
		var isPath bool
		switch {
		case strings.HasPrefix(f, "-L"):
			isPath = true
			rest = f[2:]
		case strings.HasPrefix(f, "-l"):
			rest = f[2:]
		default:
			return nil, nil, zerr.With(
				zerr.Wrap(domain.ErrBuildScript, "only -l and -L flags are allowed in rustc-flags"),
				"flag", f)
		}
		if rest == "" {
			i++
			if i == len(fields) {
				return nil, nil, zerr.With(
					zerr.Wrap(domain.ErrBuildScript, "flag is missing its argument"),
					"flag", f)
			}
			rest = fields[i]
		}
		if isPath {
			paths = append(paths, rest)
		} else {
			links = append(links, rest)
		}
	}
	return paths, links, nil
}
