package output_test

import (
	"bytes"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"

	"freight.build/freight/internal/ui/output"
)

func TestColorProfile_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	p := output.ColorProfile(&bytes.Buffer{})
	assert.Equal(t, termenv.Ascii, p, "NO_COLOR should force Ascii profile")
}

func TestColorProfile_NonTerminal(t *testing.T) {
	// A plain buffer is never a terminal, so even without NO_COLOR the
	// profile degrades to Ascii.
	t.Setenv("NO_COLOR", "")
	p := output.ColorProfile(&bytes.Buffer{})
	assert.Equal(t, termenv.Ascii, p)
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	out := output.New(&buf)
	assert.NotNil(t, out)

	_, _ = out.WriteString("test")
	assert.Equal(t, "test", buf.String())
}

func TestNew_Nil(t *testing.T) {
	// Should default to stderr, we just check it doesn't panic
	out := output.New(nil)
	assert.NotNil(t, out)
}

func TestNewWithProfile(t *testing.T) {
	var buf bytes.Buffer
	out := output.NewWithProfile(&buf, func() termenv.Profile { return termenv.ANSI })
	assert.NotNil(t, out)

	_, _ = out.WriteString("test")
	assert.Equal(t, "test", buf.String())
}

func TestNewWithProfile_Nil(t *testing.T) {
	// Should default to stderr, we just check it doesn't panic
	out := output.NewWithProfile(nil, func() termenv.Profile { return termenv.Ascii })
	assert.NotNil(t, out)
}
