package db

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// lexState is one of the five states the rewriter tracks while scanning SQL
// text. Rewrites (placeholder numbering, datetime translation) only apply
// in stateNormal; everything inside a string literal, a quoted identifier,
// or a comment passes through untouched.
type lexState int

const (
	stateNormal lexState = iota
	stateSingleQuote
	stateDoubleQuote
	stateLineComment
	stateBlockComment
)

// Rewrite translates sql written in the native (SQLite) dialect so it runs
// unchanged on the given target dialect. For Native it is the identity
// function — a monoid identity on queries with no rewritable construct, and
// a true identity on everything else, since native IS the canonical
// dialect. For Secondary it rewrites `?` placeholders to `$1, $2, …`,
// `datetime('now' [, '±N unit'])` to `NOW()` / `(NOW() ± INTERVAL '…')`,
// and a leading `INSERT OR IGNORE` to a trailing `ON CONFLICT DO NOTHING`.
// A bare `?|` or `?&` outside a quoted context is rejected: rewriting it as
// a placeholder would silently corrupt a PostgreSQL JSON containment
// operator.
func Rewrite(dialect Dialect, sqlText string) (string, error) {
	if dialect == Native {
		return sqlText, nil
	}
	return rewriteForSecondary(sqlText)
}

func rewriteForSecondary(sqlText string) (string, error) {
	body, needsOnConflict := stripInsertOrIgnore(sqlText)

	runes := []rune(body)
	var out strings.Builder
	state := stateNormal
	placeholderCount := 0

	i := 0
	for i < len(runes) {
		c := runes[i]
		switch state {
		case stateNormal:
			switch {
			case c == '\'':
				out.WriteRune(c)
				state = stateSingleQuote
				i++
			case c == '"':
				out.WriteRune(c)
				state = stateDoubleQuote
				i++
			case c == '-' && peek(runes, i+1) == '-':
				out.WriteString("--")
				state = stateLineComment
				i += 2
			case c == '/' && peek(runes, i+1) == '*':
				out.WriteString("/*")
				state = stateBlockComment
				i += 2
			case c == '?':
				if p := peek(runes, i+1); p == '|' || p == '&' {
					return "", fmt.Errorf("sql rewrite: ambiguous JSON operator \"?%c\" at offset %d; quote it or rewrite the query to avoid the bare positional-placeholder collision", p, i)
				}
				placeholderCount++
				out.WriteString("$" + strconv.Itoa(placeholderCount))
				i++
			case isDatetimeNowAt(runes, i):
				consumed, rewritten := rewriteDatetimeNow(runes, i)
				out.WriteString(rewritten)
				i += consumed
			default:
				out.WriteRune(c)
				i++
			}

		case stateSingleQuote:
			out.WriteRune(c)
			if c == '\'' {
				if peek(runes, i+1) == '\'' {
					out.WriteRune('\'')
					i += 2
					continue
				}
				state = stateNormal
			}
			i++

		case stateDoubleQuote:
			out.WriteRune(c)
			if c == '"' {
				state = stateNormal
			}
			i++

		case stateLineComment:
			out.WriteRune(c)
			if c == '\n' {
				state = stateNormal
			}
			i++

		case stateBlockComment:
			out.WriteRune(c)
			if c == '*' && peek(runes, i+1) == '/' {
				out.WriteRune('/')
				i += 2
				state = stateNormal
				continue
			}
			i++
		}
	}

	result := out.String()
	if needsOnConflict {
		result = strings.TrimRight(result, " \t\n;") + " ON CONFLICT DO NOTHING"
	}
	return result, nil
}

func peek(runes []rune, i int) rune {
	if i < 0 || i >= len(runes) {
		return 0
	}
	return runes[i]
}

// stripInsertOrIgnore removes a leading "INSERT OR IGNORE" and reports that
// the caller must append "ON CONFLICT DO NOTHING" once the rest of the
// statement has been rewritten.
func stripInsertOrIgnore(sqlText string) (string, bool) {
	trimmed := strings.TrimSpace(sqlText)
	upper := strings.ToUpper(trimmed)
	const marker = "INSERT OR IGNORE"
	if !strings.HasPrefix(upper, marker) {
		return sqlText, false
	}
	rest := trimmed[len(marker):]
	return "INSERT" + rest, true
}

// isDatetimeNowAt reports whether runes[i:] begins a "datetime(" call at a
// word boundary.
func isDatetimeNowAt(runes []rune, i int) bool {
	const word = "datetime("
	if i+len(word) > len(runes) {
		return false
	}
	for k, wc := range word {
		if unicode.ToLower(runes[i+k]) != wc {
			return false
		}
	}
	if i > 0 {
		p := runes[i-1]
		if unicode.IsLetter(p) || unicode.IsDigit(p) || p == '_' {
			return false
		}
	}
	return true
}

// rewriteDatetimeNow translates one datetime('now') or datetime('now', '±N
// unit') call starting at runes[i] (which must satisfy isDatetimeNowAt).
// It returns the number of runes consumed from the input and the
// replacement text. Forms it does not recognize (datetime of a column, for
// instance) are passed through unchanged.
func rewriteDatetimeNow(runes []rune, i int) (consumed int, rewritten string) {
	open := i + len("datetime(")
	args, end, ok := scanCallArgs(runes, open)
	if !ok || len(args) == 0 {
		return len("datetime("), "datetime("
	}

	first := strings.Trim(strings.TrimSpace(args[0]), "'\"")
	if !strings.EqualFold(first, "now") {
		return end - i, string(runes[i:end])
	}
	if len(args) == 1 {
		return end - i, "NOW()"
	}

	offset := strings.Trim(strings.TrimSpace(args[1]), "'\"")
	sign := "+"
	if strings.HasPrefix(offset, "+") || strings.HasPrefix(offset, "-") {
		sign = offset[:1]
		offset = strings.TrimSpace(offset[1:])
	}
	return end - i, fmt.Sprintf("(NOW() %s INTERVAL '%s')", sign, offset)
}

// scanCallArgs parses the comma-separated argument list of a function call
// whose opening paren has already been consumed (open points just past it),
// respecting nested parens and single-quoted strings. It returns the raw
// argument texts, the index just past the matching closing paren, and
// whether a matching close was found.
func scanCallArgs(runes []rune, open int) (args []string, end int, ok bool) {
	depth := 1
	argStart := open
	k := open
	for k < len(runes) {
		c := runes[k]
		switch c {
		case '\'':
			k++
			for k < len(runes) && runes[k] != '\'' {
				k++
			}
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				args = append(args, string(runes[argStart:k]))
				return args, k + 1, true
			}
		case ',':
			if depth == 1 {
				args = append(args, string(runes[argStart:k]))
				argStart = k + 1
			}
		}
		k++
	}
	return nil, open, false
}
