package compiler

import (
	"bytes"
	"context"
	"strings"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
)

// QueryID returns the compiler identity line used in metadata hashes:
// the first line of the compiler's verbose version output.
func QueryID(ctx context.Context, exec ports.Executor, rustc string) (string, error) {
	if rustc == "" {
		rustc = "rustc"
	}
	var stdout, stderr bytes.Buffer
	err := exec.Execute(ctx, ports.Command{Program: rustc, Args: []string{"-vV"}}, &stdout, &stderr)
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to query the compiler version"), "program", rustc)
	}
	line, _, _ := strings.Cut(stdout.String(), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", zerr.With(zerr.New("compiler version output is empty"), "program", rustc)
	}
	return line, nil
}

// QueryPlatform asks the compiler for the configuration values of a
// target. An empty triple probes the host.
func QueryPlatform(ctx context.Context, exec ports.Executor, rustc, triple string) (domain.PlatformInfo, error) {
	if rustc == "" {
		rustc = "rustc"
	}
	args := []string{"--print", "cfg"}
	if triple != "" {
		args = append(args, "--target", triple)
	}
	var stdout, stderr bytes.Buffer
	err := exec.Execute(ctx, ports.Command{Program: rustc, Args: args}, &stdout, &stderr)
	if err != nil {
		return domain.PlatformInfo{}, zerr.With(
			zerr.Wrap(err, "failed to query target configuration"), "triple", triple)
	}
	return ParsePlatform(triple, stdout.String()), nil
}

// ParsePlatform parses `--print cfg` output: one value per line, either a
// bare name or key="value".
func ParsePlatform(triple, output string) domain.PlatformInfo {
	info := domain.PlatformInfo{Triple: triple}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, isPair := strings.Cut(line, "=")
		if !isPair {
			info.Cfg = append(info.Cfg, domain.CfgValue{Name: name})
			continue
		}
		info.Cfg = append(info.Cfg, domain.CfgValue{
			Name:   name,
			Value:  strings.Trim(value, `"`),
			IsPair: true,
		})
	}
	return info
}
