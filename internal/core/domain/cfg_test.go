package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freight.build/freight/internal/core/domain"
)

func linuxX86() domain.PlatformInfo {
	return domain.PlatformInfo{
		Triple: "x86_64-unknown-linux-gnu",
		Cfg: []domain.CfgValue{
			{Name: "unix"},
			{Name: "target_os", Value: "linux", IsPair: true},
			{Name: "target_arch", Value: "x86_64", IsPair: true},
			{Name: "target_env", Value: "gnu", IsPair: true},
			{Name: "target_family", Value: "unix", IsPair: true},
		},
	}
}

func TestCfgExpr_Eval(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want bool
	}{
		{name: "bare name present", expr: "unix", want: true},
		{name: "bare name absent", expr: "windows", want: false},
		{name: "pair match", expr: `target_os = "linux"`, want: true},
		{name: "pair mismatch", expr: `target_os = "macos"`, want: false},
		{name: "not", expr: "not(windows)", want: true},
		{name: "all true", expr: `all(unix, target_arch = "x86_64")`, want: true},
		{name: "all short circuit", expr: `all(windows, target_arch = "x86_64")`, want: false},
		{name: "any", expr: `any(windows, target_os = "linux")`, want: true},
		{name: "any none", expr: `any(windows, target_os = "macos")`, want: false},
		{name: "nested", expr: `all(not(windows), any(target_env = "gnu", target_env = "musl"))`, want: true},
		{name: "empty all is true", expr: "all()", want: true},
		{name: "empty any is false", expr: "any()", want: false},
		{name: "literal true", expr: "true", want: true},
		{name: "literal false", expr: "false", want: false},
		{name: "trailing comma", expr: "all(unix,)", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := domain.ParseCfgExpr(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.Eval(linuxX86()))
		})
	}
}

func TestCfgExpr_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{name: "unterminated list", expr: "all(unix"},
		{name: "not with two args", expr: "not(unix, windows)"},
		{name: "missing value quote", expr: `target_os = linux`},
		{name: "trailing garbage", expr: "unix)"},
		{name: "empty", expr: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.ParseCfgExpr(tt.expr)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrCfgExpr)
		})
	}
}

func TestCfgExpr_String(t *testing.T) {
	expr, err := domain.ParseCfgExpr(`all( not( windows ), target_os="linux" )`)
	require.NoError(t, err)
	assert.Equal(t, `all(not(windows), target_os = "linux")`, expr.String())
}

func TestPlatform_Matches(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{name: "exact triple", key: "x86_64-unknown-linux-gnu", want: true},
		{name: "other triple", key: "aarch64-apple-darwin", want: false},
		{name: "cfg expression", key: "cfg(unix)", want: true},
		{name: "cfg mismatch", key: "cfg(windows)", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform, err := domain.ParsePlatform(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, platform.Matches(linuxX86()))
		})
	}
}

func TestPlatform_NilMatchesEverything(t *testing.T) {
	var platform *domain.Platform
	assert.True(t, platform.Matches(linuxX86()))
}
