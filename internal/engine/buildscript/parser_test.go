package buildscript_test

import (
	"strings"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/engine/buildscript"
)

func parse(t *testing.T, lines ...string) *domain.BuildOutput {
	t.Helper()
	out, err := buildscript.ParseOutput([]byte(strings.Join(lines, "\n")), nil)
	require.NoError(t, err)
	return out
}

func TestParseOutput_LinkDirectives(t *testing.T) {
	out := parse(t,
		"cargo:rustc-link-lib=static=z",
		"cargo:rustc-link-search=native=/opt/zlib/lib",
		"cargo:rustc-flags=-L /usr/lib -lfoo -l bar",
	)

	assert.Equal(t, []string{"static=z", "foo", "bar"}, out.LibraryLinks)
	assert.Equal(t, []string{"native=/opt/zlib/lib", "/usr/lib"}, out.LibraryPaths)
}

func TestParseOutput_RustcFlagsRejectsOtherFlags(t *testing.T) {
	_, err := buildscript.ParseOutput([]byte("cargo:rustc-flags=-C opt-level=3"), nil)

	require.ErrorIs(t, err, domain.ErrBuildScript)
	assert.Contains(t, err.Error(), "only -l and -L")
}

func TestParseOutput_LinkArgScopes(t *testing.T) {
	out := parse(t,
		"cargo:rustc-link-arg=-Wl,--gc-sections",
		"cargo:rustc-cdylib-link-arg=-Wl,-soname,libz.so",
		"cargo:rustc-link-arg-bins=-static",
		"cargo:rustc-link-arg-bin=tool=-pie",
		"cargo:rustc-link-arg-tests=-t",
		"cargo:rustc-link-arg-benches=-b",
		"cargo:rustc-link-arg-examples=-e",
	)

	require.Len(t, out.LinkerArgs, 7)
	assert.Equal(t, domain.LinkerArg{Scope: domain.LinkArgScopeAll, Arg: "-Wl,--gc-sections"}, out.LinkerArgs[0])
	assert.Equal(t, domain.LinkArgScopeCdylib, out.LinkerArgs[1].Scope)
	assert.Equal(t, domain.LinkArgScopeBins, out.LinkerArgs[2].Scope)
	assert.Equal(t, domain.LinkerArg{Scope: domain.LinkArgScopeSingleBin, BinName: "tool", Arg: "-pie"}, out.LinkerArgs[3])
	assert.Equal(t, domain.LinkArgScopeTests, out.LinkerArgs[4].Scope)
	assert.Equal(t, domain.LinkArgScopeBenches, out.LinkerArgs[5].Scope)
	assert.Equal(t, domain.LinkArgScopeExamples, out.LinkerArgs[6].Scope)
}

func TestParseOutput_EnvCfgMetadata(t *testing.T) {
	out := parse(t,
		"cargo:rustc-env=BUILD_HASH=abc123",
		`cargo:rustc-cfg=has_zlib`,
		`cargo:rustc-check-cfg=cfg(has_zlib)`,
		"cargo:metadata=include=/opt/zlib/include",
		"cargo:root=/opt/zlib",
	)

	assert.Equal(t, []domain.EnvVar{{Key: "BUILD_HASH", Value: "abc123"}}, out.Env)
	assert.Equal(t, []string{"has_zlib"}, out.Cfgs)
	assert.Equal(t, []string{"cfg(has_zlib)"}, out.CheckCfgs)
	assert.Equal(t, []domain.EnvVar{
		{Key: "include", Value: "/opt/zlib/include"},
		{Key: "root", Value: "/opt/zlib"},
	}, out.Metadata)
}

func TestParseOutput_RerunAndWarnings(t *testing.T) {
	out := parse(t,
		"cargo:rerun-if-changed=src/native/z.c",
		"cargo:rerun-if-env-changed=ZLIB_SYS_STATIC",
		"cargo:warning=pkg-config not found, using bundled source",
	)

	assert.Equal(t, []string{"src/native/z.c"}, out.RerunIfChanged)
	assert.Equal(t, []string{"ZLIB_SYS_STATIC"}, out.RerunIfEnvChanged)
	assert.Equal(t, []string{"pkg-config not found, using bundled source"}, out.Warnings)
}

func TestParseOutput_ErrorDirectiveFails(t *testing.T) {
	_, err := buildscript.ParseOutput([]byte("cargo:warning=first\ncargo:error=zlib headers not found"), nil)

	require.ErrorIs(t, err, domain.ErrBuildScript)
	assert.Contains(t, err.Error(), "zlib headers not found")
}

func TestParseOutput_StrictSyntaxGate(t *testing.T) {
	line := []byte("cargo::rustc-link-lib=z")

	out, err := buildscript.ParseOutput(line, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, out.LibraryLinks)

	out, err = buildscript.ParseOutput(line, semver.MustParse("1.77.0"))
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, out.LibraryLinks)

	_, err = buildscript.ParseOutput(line, semver.MustParse("1.70.0"))
	require.ErrorIs(t, err, domain.ErrBuildScript)
	assert.Contains(t, err.Error(), "1.77.0")
}

func TestParseOutput_UnknownDirectives(t *testing.T) {
	// Old syntax treats unreserved keys as metadata; strict syntax
	// rejects them.
	out := parse(t, "cargo:include=/usr/include")
	assert.Equal(t, []domain.EnvVar{{Key: "include", Value: "/usr/include"}}, out.Metadata)

	_, err := buildscript.ParseOutput([]byte("cargo::include=/usr/include"), nil)
	require.ErrorIs(t, err, domain.ErrBuildScript)
}

func TestParseOutput_IgnoresInformationalLines(t *testing.T) {
	out := parse(t,
		"probing for zlib",
		"",
		"cc -O2 -c z.c",
		"cargo:rustc-link-lib=z",
	)

	assert.Equal(t, []string{"z"}, out.LibraryLinks)
	assert.Empty(t, out.Metadata)
}

func TestParseOutput_MalformedPairs(t *testing.T) {
	for _, line := range []string{
		"cargo:rustc-env=NOVALUE",
		"cargo:metadata=novalue",
		"cargo:rustc-link-arg-bin=toolonly",
	} {
		_, err := buildscript.ParseOutput([]byte(line), nil)
		assert.ErrorIs(t, err, domain.ErrBuildScript, line)
	}
}
