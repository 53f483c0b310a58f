package parser

import (
	"fmt"
	"strings"
)

// Arg is one argument of a line. Pattern is set for /.../ arguments.
type Arg struct {
	Value   string
	Pattern bool
}

func (a Arg) String() string {
	if a.Pattern {
		return "/" + a.Value + "/"
	}
	return a.Value
}

// split tokenizes a line into words, quoted strings and /patterns/. A slash
// without a closing slash later on the line starts a plain word, so quote
// paths that contain more than one slash.
func split(line string) ([]Arg, error) {
	var args []Arg
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '"' || c == '\'':
			value, next, err := scanDelimited(line, i, c)
			if err != nil {
				return nil, err
			}
			args = append(args, Arg{Value: value})
			i = next
		case c == '/' && len(args) > 0 && strings.IndexByte(line[i+1:], '/') >= 0:
			value, next, err := scanDelimited(line, i, '/')
			if err != nil {
				return nil, err
			}
			args = append(args, Arg{Value: value, Pattern: true})
			i = next
		default:
			start := i
			for i < len(line) && line[i] != ' ' && line[i] != '\t' {
				i++
			}
			args = append(args, Arg{Value: line[start:i]})
		}
	}
	return args, nil
}

// scanDelimited reads from the delimiter at start to its closing match. In
// quoted strings a backslash escapes the next byte; in patterns only an
// escaped slash is unescaped so the regexp keeps its own escapes.
func scanDelimited(line string, start int, delim byte) (string, int, error) {
	var b strings.Builder
	for i := start + 1; i < len(line); i++ {
		c := line[i]
		if c == '\\' && i+1 < len(line) {
			next := line[i+1]
			if delim != '/' || next == '/' {
				b.WriteByte(next)
				i++
				continue
			}
		}
		if c == delim {
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
	}
	if delim == '/' {
		return "", 0, fmt.Errorf("unterminated pattern")
	}
	return "", 0, fmt.Errorf("unterminated string")
}
