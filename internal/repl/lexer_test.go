package repl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandia-minimega/overlay-lossroute/internal/repl"
)

func TestTokenize_PlainWords(t *testing.T) {
	got, err := repl.Tokenize("send hello world")
	require.NoError(t, err)
	assert.Equal(t, []string{"send", "hello", "world"}, got)
}

func TestTokenize_QuotedSpan(t *testing.T) {
	got, err := repl.Tokenize(`send "hello world"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"send", "hello world"}, got)
}

func TestTokenize_UnterminatedQuote(t *testing.T) {
	_, err := repl.Tokenize(`send "hello`)
	assert.Error(t, err)
}

func TestParse_EmptyLine(t *testing.T) {
	cmd, err := repl.Parse("   ")
	require.NoError(t, err)
	assert.Equal(t, "", cmd.Name)
}

func TestParse_CommandAndArgs(t *testing.T) {
	cmd, err := repl.Parse(`send "hi there"`)
	require.NoError(t, err)
	assert.Equal(t, "send", cmd.Name)
	assert.Equal(t, []string{"hi there"}, cmd.Args)
}
