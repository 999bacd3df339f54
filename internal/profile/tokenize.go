package profile

import (
	"errors"
	"strings"
)

var ErrUnbalancedQuote = errors.New("custom options: unclosed quote or dangling escape")

// Tokenize splits custom encoder options the way a POSIX shell would for
// plain words: whitespace separates tokens, single and double quotes group,
// and a backslash escapes the next character.
func Tokenize(input string) ([]string, error) {
	var (
		tokens   []string
		buf      strings.Builder
		inSingle bool
		inDouble bool
		escaped  bool
		started  bool
	)
	flush := func() {
		if started {
			tokens = append(tokens, buf.String())
			buf.Reset()
			started = false
		}
	}

	for _, r := range input {
		if escaped {
			buf.WriteRune(r)
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inSingle {
				buf.WriteRune(r)
			} else {
				escaped = true
			}
			started = true
		case '\'':
			if inDouble {
				buf.WriteRune(r)
			} else {
				inSingle = !inSingle
			}
			started = true
		case '"':
			if inSingle {
				buf.WriteRune(r)
			} else {
				inDouble = !inDouble
			}
			started = true
		case ' ', '\t', '\n', '\r':
			if inSingle || inDouble {
				buf.WriteRune(r)
			} else {
				flush()
			}
		default:
			buf.WriteRune(r)
			started = true
		}
	}
	if escaped || inSingle || inDouble {
		return nil, ErrUnbalancedQuote
	}
	flush()
	return tokens, nil
}
