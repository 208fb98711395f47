package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freight.build/freight/internal/adapters/compiler"
	"freight.build/freight/internal/core/domain"
)

func TestParsePlatform(t *testing.T) {
	output := `debug_assertions
target_arch="x86_64"
target_os="linux"
unix
target_feature="sse"
target_feature="sse2"

`
	info := compiler.ParsePlatform("x86_64-unknown-linux-gnu", output)

	assert.Equal(t, "x86_64-unknown-linux-gnu", info.Triple)
	assert.True(t, info.Has("unix"))
	assert.True(t, info.Has("debug_assertions"))
	assert.True(t, info.HasPair("target_os", "linux"))
	assert.True(t, info.HasPair("target_feature", "sse2"))
	assert.False(t, info.Has("windows"))
}

func TestCommand_Doctest(t *testing.T) {
	b := newBuilder()
	l := newTestLayout(t, domain.CompileKindHost(), "debug")
	u := makeUnit(t, domain.ModeDoctest, unitOpts{features: []string{"std"}})

	plan := b.Command(u, compiler.Invocation{
		Layout:  l,
		Externs: []compiler.Extern{{Name: "my_app", Path: "/ws/target/debug/deps/libmy_app-aa.rlib"}},
	})

	assert.Equal(t, "rustdoc", plan.Program)
	assert.Contains(t, plan.Args, "--test")
	assert.Contains(t, plan.Args, "/ws/my-app/src/lib.rs")

	ext, ok := flagValue(plan.Args, "--extern")
	require.True(t, ok)
	assert.Equal(t, "my_app=/ws/target/debug/deps/libmy_app-aa.rlib", ext)

	cfgs := flagValues(plan.Args, "--cfg")
	assert.Contains(t, cfgs, `feature="std"`)
	assert.NotContains(t, plan.Args, "--emit=dep-info,link")
}
