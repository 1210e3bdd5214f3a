// Package expr implements the engine's predicate and template languages.
//
// Per design, this is a tiny hand-rolled recursive-descent parser over a
// fixed grammar — no general-purpose expression engine is embedded. Nested
// dotted-path field lookups (e.g. payload.user.id) are the one place the
// evaluator defers to a library: PaesslerAG/jsonpath walks the message's
// JSON projection for plain object paths, so the grammar itself never
// needs to know about nested maps; tidwall/gjson is the fallback for paths
// jsonpath can't express directly, array indices (items.0.name), since
// gjson's own dotted-path syntax treats a numeric segment as an index.
package expr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	"github.com/flowctl/flowctl/pkg/ferrors"
	"github.com/flowctl/flowctl/pkg/message"
)

// Lookup resolves a (possibly dotted) variable name against a message.
// ok is false when the path does not resolve to anything.
func Lookup(name string, msg message.Message) (any, bool) {
	if !strings.Contains(name, ".") {
		if !msg.Has(name) {
			return nil, false
		}
		return msg.Raw(name), true
	}

	if v, err := jsonpath.Get("$."+name, msg.Map()); err == nil {
		return v, true
	}
	return lookupViaGJSON(name, msg)
}

// lookupViaGJSON resolves a dotted path that may include an array index
// segment (e.g. items.0.name), which PaesslerAG/jsonpath's plain-object
// walker does not resolve directly.
func lookupViaGJSON(path string, msg message.Message) (any, bool) {
	raw, err := json.Marshal(msg.Map())
	if err != nil {
		return nil, false
	}
	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// EvalPredicate evaluates a boolean predicate string against msg.
// Grammar: comparisons (==, !=, <, <=, >, >=), "in", boolean combinators
// (and, or, not), parentheses, and literal numbers/strings/bools/{{var}}.
// Unknown identifiers and type-incompatible comparisons yield a
// ProcessingError, per contract.
func EvalPredicate(predicate string, msg message.Message) (bool, error) {
	p := newParser(predicate, msg)
	v, err := p.parseOr()
	if err != nil {
		return false, ferrors.Processing("", "expr.eval", err)
	}
	if !p.atEnd() {
		return false, ferrors.Processing("", "expr.eval", fmt.Errorf("unexpected trailing input at %d", p.pos))
	}
	b, ok := v.(bool)
	if !ok {
		return false, ferrors.Processing("", "expr.eval", fmt.Errorf("predicate did not evaluate to a boolean: %v", v))
	}
	return b, nil
}

// Render expands {{var}} and {{var|required}} placeholders in a template
// string against msg. A missing variable renders as empty string unless
// the |required modifier is present, in which case it is a ProcessingError.
func Render(template string, msg message.Message) (string, error) {
	var b strings.Builder
	i := 0
	for {
		start := strings.Index(template[i:], "{{")
		if start < 0 {
			b.WriteString(template[i:])
			break
		}
		start += i
		b.WriteString(template[i:start])

		end := strings.Index(template[start:], "}}")
		if end < 0 {
			return "", ferrors.Processing("", "expr.render", fmt.Errorf("unterminated placeholder in template"))
		}
		end += start

		inner := strings.TrimSpace(template[start+2 : end])
		name := inner
		required := false
		if idx := strings.Index(inner, "|"); idx >= 0 {
			name = strings.TrimSpace(inner[:idx])
			modifier := strings.TrimSpace(inner[idx+1:])
			if modifier == "required" {
				required = true
			}
		}

		v, ok := Lookup(name, msg)
		if !ok {
			if required {
				return "", ferrors.Processing("", "expr.render", fmt.Errorf("required variable %q missing", name))
			}
			v = ""
		}
		b.WriteString(stringify(v))

		i = end + 2
	}
	return b.String(), nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// --- recursive-descent predicate parser ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokBool
	tokVar
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

type parser struct {
	src string
	pos int
	msg message.Message
	tok token
}

func newParser(src string, msg message.Message) *parser {
	p := &parser{src: src, msg: msg}
	p.advance()
	return p
}

func (p *parser) atEnd() bool { return p.tok.kind == tokEOF }

func (p *parser) advance() {
	p.skipSpace()
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF}
		return
	}

	c := p.src[p.pos]
	switch {
	case strings.HasPrefix(p.src[p.pos:], "{{"):
		end := strings.Index(p.src[p.pos:], "}}")
		if end < 0 {
			p.tok = token{kind: tokEOF}
			p.pos = len(p.src)
			return
		}
		end += p.pos
		name := strings.TrimSpace(p.src[p.pos+2 : end])
		p.pos = end + 2
		p.tok = token{kind: tokVar, text: name}
	case c == '\'' || c == '"':
		quote := c
		j := p.pos + 1
		for j < len(p.src) && p.src[j] != quote {
			j++
		}
		p.tok = token{kind: tokString, text: p.src[p.pos+1 : j]}
		p.pos = j + 1
	case c == '(':
		p.tok = token{kind: tokLParen}
		p.pos++
	case c == ')':
		p.tok = token{kind: tokRParen}
		p.pos++
	case c == ',':
		p.tok = token{kind: tokComma}
		p.pos++
	case isDigit(c) || (c == '-' && p.pos+1 < len(p.src) && isDigit(p.src[p.pos+1])):
		j := p.pos + 1
		for j < len(p.src) && (isDigit(p.src[j]) || p.src[j] == '.') {
			j++
		}
		n, _ := strconv.ParseFloat(p.src[p.pos:j], 64)
		p.tok = token{kind: tokNumber, num: n}
		p.pos = j
	case c == '=' || c == '!' || c == '<' || c == '>':
		op := string(c)
		if p.pos+1 < len(p.src) && p.src[p.pos+1] == '=' {
			op += "="
			p.pos++
		}
		p.tok = token{kind: tokOp, text: op}
		p.pos++
	case isIdentStart(c):
		j := p.pos + 1
		for j < len(p.src) && isIdentPart(p.src[j]) {
			j++
		}
		word := p.src[p.pos:j]
		p.pos = j
		switch strings.ToLower(word) {
		case "true":
			p.tok = token{kind: tokBool, text: "true"}
		case "false":
			p.tok = token{kind: tokBool, text: "false"}
		case "and", "or", "not", "in":
			p.tok = token{kind: tokIdent, text: strings.ToLower(word)}
		default:
			p.tok = token{kind: tokIdent, text: word}
		}
	default:
		p.tok = token{kind: tokEOF}
		p.pos = len(p.src)
	}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokIdent && p.tok.text == "or" {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lb, rb, err := asBoolPair(left, right)
		if err != nil {
			return nil, err
		}
		left = lb || rb
	}
	return left, nil
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokIdent && p.tok.text == "and" {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		lb, rb, err := asBoolPair(left, right)
		if err != nil {
			return nil, err
		}
		left = lb && rb
	}
	return left, nil
}

func (p *parser) parseNot() (any, error) {
	if p.tok.kind == tokIdent && p.tok.text == "not" {
		p.advance()
		v, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("not: operand is not a boolean")
		}
		return !b, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parseIn()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokOp {
		op := p.tok.text
		p.advance()
		right, err := p.parseIn()
		if err != nil {
			return nil, err
		}
		return compare(op, left, right)
	}
	return left, nil
}

func (p *parser) parseIn() (any, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokIdent && p.tok.text == "in" {
		p.advance()
		list, err := p.parseInRHS()
		if err != nil {
			return nil, err
		}
		return valueIn(left, list), nil
	}
	return left, nil
}

func (p *parser) parseInRHS() ([]any, error) {
	if p.tok.kind == tokLParen {
		p.advance()
		var items []any
		for p.tok.kind != tokRParen {
			v, err := p.parseLiteralOrVar()
			if err != nil {
				return nil, err
			}
			items = append(items, v)
			if p.tok.kind == tokComma {
				p.advance()
				continue
			}
			break
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("expected ')' closing 'in' list")
		}
		p.advance()
		return items, nil
	}

	v, err := p.parseLiteralOrVar()
	if err != nil {
		return nil, err
	}
	if arr, ok := v.([]any); ok {
		return arr, nil
	}
	return []any{v}, nil
}

func (p *parser) parseLiteralOrVar() (any, error) {
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (any, error) {
	switch p.tok.kind {
	case tokLParen:
		p.advance()
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("expected ')'")
		}
		p.advance()
		return v, nil
	case tokNumber:
		n := p.tok.num
		p.advance()
		return n, nil
	case tokString:
		s := p.tok.text
		p.advance()
		return s, nil
	case tokBool:
		b := p.tok.text == "true"
		p.advance()
		return b, nil
	case tokVar:
		name := p.tok.text
		p.advance()
		v, ok := Lookup(name, p.msg)
		if !ok {
			return nil, fmt.Errorf("unknown identifier %q", name)
		}
		return normalizeNumeric(v), nil
	default:
		return nil, fmt.Errorf("unexpected token at position %d", p.pos)
	}
}

func normalizeNumeric(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return t
	}
}

func asBoolPair(a, b any) (bool, bool, error) {
	ab, ok := a.(bool)
	if !ok {
		return false, false, fmt.Errorf("operand is not a boolean: %v", a)
	}
	bb, ok := b.(bool)
	if !ok {
		return false, false, fmt.Errorf("operand is not a boolean: %v", b)
	}
	return ab, bb, nil
}

func compare(op string, left, right any) (any, error) {
	if lf, lok := left.(float64); lok {
		if rf, rok := right.(float64); rok {
			switch op {
			case "==":
				return lf == rf, nil
			case "!=":
				return lf != rf, nil
			case "<":
				return lf < rf, nil
			case "<=":
				return lf <= rf, nil
			case ">":
				return lf > rf, nil
			case ">=":
				return lf >= rf, nil
			}
		}
		return nil, fmt.Errorf("type mismatch comparing number to %T", right)
	}

	if ls, lok := left.(string); lok {
		if rs, rok := right.(string); rok {
			switch op {
			case "==":
				return ls == rs, nil
			case "!=":
				return ls != rs, nil
			case "<":
				return ls < rs, nil
			case "<=":
				return ls <= rs, nil
			case ">":
				return ls > rs, nil
			case ">=":
				return ls >= rs, nil
			}
		}
		return nil, fmt.Errorf("type mismatch comparing string to %T", right)
	}

	if lb, lok := left.(bool); lok {
		if rb, rok := right.(bool); rok {
			switch op {
			case "==":
				return lb == rb, nil
			case "!=":
				return lb != rb, nil
			}
		}
		return nil, fmt.Errorf("operator %q not valid for booleans", op)
	}

	return nil, fmt.Errorf("unsupported comparison operand type %T", left)
}

func valueIn(needle any, haystack []any) bool {
	for _, v := range haystack {
		if fmt.Sprint(normalizeNumeric(needle)) == fmt.Sprint(normalizeNumeric(v)) {
			return true
		}
	}
	return false
}
