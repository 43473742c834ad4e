// Package repl tokenizes a line of interactive input for the GBN-only
// binary's "send <text>" prompt. Adapted from the teacher's
// pkg/minicli input lexer, trimmed to the one thing this prompt needs:
// splitting on whitespace while treating a double-quoted span as a
// single token so "send hello world" and `send "hello world"` differ.
package repl

import (
	"strings"

	"github.com/sandia-minimega/overlay-lossroute/internal/errs"
)

// Tokenize splits line into whitespace-delimited fields, honoring
// double-quoted spans as single fields. An unterminated quote is an
// error rather than a best-effort split.
func Tokenize(line string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuote := false
	hasField := false

	flush := func() {
		if hasField {
			fields = append(fields, cur.String())
			cur.Reset()
			hasField = false
		}
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuote = !inQuote
			hasField = true
		case c == ' ' || c == '\t':
			if inQuote {
				cur.WriteByte(c)
			} else {
				flush()
			}
		default:
			cur.WriteByte(c)
			hasField = true
		}
	}

	if inQuote {
		return nil, errs.NewInvalidArgument("unterminated quote in input")
	}
	flush()

	return fields, nil
}

// Command is the first token of a tokenized line, and Args is
// whatever followed it.
type Command struct {
	Name string
	Args []string
}

// Parse tokenizes line and splits it into a command name and
// arguments. An empty line yields a zero Command and no error; callers
// should check Name == "" to detect that case.
func Parse(line string) (Command, error) {
	fields, err := Tokenize(strings.TrimSpace(line))
	if err != nil {
		return Command{}, err
	}
	if len(fields) == 0 {
		return Command{}, nil
	}
	return Command{Name: fields[0], Args: fields[1:]}, nil
}
