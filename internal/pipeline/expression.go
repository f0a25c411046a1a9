package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

// ErrExpression is returned when an entity name expression cannot be evaluated.
var ErrExpression = errors.New("pipeline: invalid expression")

// evaluateName resolves an entity name against the attribute values of the
// current update.
//
// Text outside ${...} is kept literally. Inside, the expression is a
// sequence of terms joined by '+': @attr references, quoted strings and
// numbers. Two numbers add; anything else concatenates.
//
//	"Room1"                  -> Room1
//	"${@room}"               -> value of attribute room
//	"Sensor:${@id + \"-a\"}" -> Sensor:<id>-a
func evaluateName(expr string, values map[string]any) (string, error) {
	var b strings.Builder
	rest := expr

	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated ${ in %q", ErrExpression, expr)
		}

		b.WriteString(rest[:start])
		v, err := evaluate(rest[start+2:start+end], values)
		if err != nil {
			return "", err
		}
		b.WriteString(v)
		rest = rest[start+end+1:]
	}
}

// evaluate computes one ${...} body.
func evaluate(body string, values map[string]any) (string, error) {
	var s scanner.Scanner
	s.Init(strings.NewReader(body))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings | scanner.ScanRawStrings
	s.Error = func(*scanner.Scanner, string) {}

	var (
		acc      any
		haveTerm bool
		expectOp bool
	)

	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		if expectOp {
			if tok != '+' {
				return "", fmt.Errorf("%w: expected '+' before %q in %q", ErrExpression, s.TokenText(), body)
			}
			expectOp = false
			continue
		}

		var term any
		switch tok {
		case '@':
			if s.Scan() != scanner.Ident {
				return "", fmt.Errorf("%w: expected attribute name after '@' in %q", ErrExpression, body)
			}
			name := s.TokenText()
			v, ok := values[name]
			if !ok {
				return "", fmt.Errorf("%w: unknown attribute %q in %q", ErrExpression, name, body)
			}
			term = v
		case scanner.String, scanner.RawString:
			text := s.TokenText()
			unquoted, err := strconv.Unquote(text)
			if err != nil {
				return "", fmt.Errorf("%w: bad string %s in %q", ErrExpression, text, body)
			}
			term = unquoted
		case scanner.Int, scanner.Float:
			f, err := strconv.ParseFloat(s.TokenText(), 64)
			if err != nil {
				return "", fmt.Errorf("%w: bad number %s in %q", ErrExpression, s.TokenText(), body)
			}
			term = f
		default:
			return "", fmt.Errorf("%w: unexpected %q in %q", ErrExpression, s.TokenText(), body)
		}

		if haveTerm {
			acc = add(acc, term)
		} else {
			acc = term
			haveTerm = true
		}
		expectOp = true
	}

	if !haveTerm || !expectOp {
		return "", fmt.Errorf("%w: incomplete expression %q", ErrExpression, body)
	}
	return stringify(acc), nil
}

func add(a, b any) any {
	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum && bNum {
		return fa + fb
	}
	return stringify(a) + stringify(b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
