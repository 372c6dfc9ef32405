// Package expr evaluates small data-dependent predicates and transforms
// supplied by workflow authors. The grammar is deliberately closed:
// literals, named variables, arithmetic, comparisons, boolean logic and
// a fixed function set. Nothing here can reach the host process.
package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Value is the result of an evaluation: float64, string or bool.
type Value = interface{}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	input string
	pos   int
	toks  []token
}

func lex(input string) ([]token, error) {
	l := &lexer{input: input}
	for l.pos < len(l.input) {
		c := rune(l.input[l.pos])
		switch {
		case unicode.IsSpace(c):
			l.pos++
		case c == '(':
			l.emit(tokLParen, "(")
		case c == ')':
			l.emit(tokRParen, ")")
		case c == ',':
			l.emit(tokComma, ",")
		case c == '\'' || c == '"':
			if err := l.lexString(byte(c)); err != nil {
				return nil, err
			}
		case unicode.IsDigit(c) || c == '.':
			l.lexNumber()
		case unicode.IsLetter(c) || c == '_':
			l.lexIdent()
		default:
			if err := l.lexOp(); err != nil {
				return nil, err
			}
		}
	}
	l.toks = append(l.toks, token{kind: tokEOF, pos: l.pos})
	return l.toks, nil
}

func (l *lexer) emit(kind tokenKind, text string) {
	l.toks = append(l.toks, token{kind: kind, text: text, pos: l.pos})
	l.pos += len(text)
}

func (l *lexer) lexString(quote byte) error {
	start := l.pos + 1
	for i := start; i < len(l.input); i++ {
		if l.input[i] == quote {
			l.toks = append(l.toks, token{kind: tokString, text: l.input[start:i], pos: l.pos})
			l.pos = i + 1
			return nil
		}
	}
	return fmt.Errorf("unterminated string at position %d", l.pos)
}

func (l *lexer) lexNumber() {
	start := l.pos
	for l.pos < len(l.input) && (unicode.IsDigit(rune(l.input[l.pos])) || l.input[l.pos] == '.') {
		l.pos++
	}
	l.toks = append(l.toks, token{kind: tokNumber, text: l.input[start:l.pos], pos: start})
}

func (l *lexer) lexIdent() {
	start := l.pos
	for l.pos < len(l.input) {
		c := rune(l.input[l.pos])
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' && c != '.' {
			break
		}
		l.pos++
	}
	l.toks = append(l.toks, token{kind: tokIdent, text: l.input[start:l.pos], pos: start})
}

var operators = []string{"<=", ">=", "==", "!=", "&&", "||", "<", ">", "+", "-", "*", "/", "%", "!"}

func (l *lexer) lexOp() error {
	rest := l.input[l.pos:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			l.emit(tokOp, op)
			return nil
		}
	}
	return fmt.Errorf("unexpected character %q at position %d", l.input[l.pos], l.pos)
}

// parser implements precedence-climbing over the token stream.
type parser struct {
	toks []token
	pos  int
	vars map[string]Value
}

func (p *parser) peek() token  { return p.toks[p.pos] }
func (p *parser) next() token  { t := p.toks[p.pos]; p.pos++; return t }
func (p *parser) atOp(op string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == op
}

// Eval evaluates expression against the named variables. Numeric
// variables must already be float64 (JSON numbers decode that way).
func Eval(expression string, vars map[string]Value) (Value, error) {
	toks, err := lex(expression)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, vars: vars}
	v, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.peek().text, p.peek().pos)
	}
	return v, nil
}

// EvalBool evaluates a predicate. Non-boolean results are truthy by the
// JSON convention: non-zero numbers and non-empty strings are true.
func EvalBool(expression string, vars map[string]Value) (bool, error) {
	v, err := Eval(expression, vars)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func truthy(v Value) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	}
	return false
}

func (p *parser) parseOr() (Value, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atOp("||") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

func (p *parser) parseAnd() (Value, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.atOp("&&") {
		p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

func (p *parser) parseComparison() (Value, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind != tokOp {
		return left, nil
	}
	switch t.text {
	case "<", "<=", ">", ">=", "==", "!=":
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return compare(t.text, left, right)
	}
	return left, nil
}

func compare(op string, left, right Value) (Value, error) {
	if op == "==" || op == "!=" {
		eq := equal(left, right)
		if op == "!=" {
			return !eq, nil
		}
		return eq, nil
	}
	lf, lok := left.(float64)
	rf, rok := right.(float64)
	if lok && rok {
		switch op {
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
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
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
	return nil, fmt.Errorf("cannot compare %T and %T with %s", left, right, op)
}

func equal(left, right Value) bool {
	return left == right
}

func (p *parser) parseAdditive() (Value, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.atOp("+") || p.atOp("-") {
		op := p.next().text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left, err = arith(op, left, right)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Value, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.atOp("*") || p.atOp("/") || p.atOp("%") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left, err = arith(op, left, right)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func arith(op string, left, right Value) (Value, error) {
	if op == "+" {
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
		}
	}
	lf, lok := left.(float64)
	rf, rok := right.(float64)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s needs numeric operands, got %T and %T", op, left, right)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return math.Mod(lf, rf), nil
	}
	return nil, fmt.Errorf("unknown operator %s", op)
}

func (p *parser) parseUnary() (Value, error) {
	if p.atOp("!") {
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}
	if p.atOp("-") {
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("unary minus needs a number, got %T", v)
		}
		return -f, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Value, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at position %d", t.text, t.pos)
		}
		return f, nil
	case tokString:
		return t.text, nil
	case tokLParen:
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis at position %d", p.peek().pos)
		}
		p.next()
		return v, nil
	case tokIdent:
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		if p.peek().kind == tokLParen {
			return p.parseCall(t.text)
		}
		v, ok := p.vars[t.text]
		if !ok {
			return nil, fmt.Errorf("unknown variable %q", t.text)
		}
		return normalize(v)
	}
	return nil, fmt.Errorf("unexpected token %q at position %d", t.text, t.pos)
}

// normalize coerces JSON-decoded variable values into the evaluator's
// three types.
func normalize(v Value) (Value, error) {
	switch x := v.(type) {
	case float64, string, bool:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case nil:
		return false, nil
	default:
		return nil, fmt.Errorf("unsupported variable type %T", v)
	}
}

func (p *parser) parseCall(name string) (Value, error) {
	p.next() // consume (
	var args []Value
	if p.peek().kind != tokRParen {
		for {
			a, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			break
		}
	}
	if p.peek().kind != tokRParen {
		return nil, fmt.Errorf("missing closing parenthesis in call to %s", name)
	}
	p.next()
	return call(name, args)
}

func call(name string, args []Value) (Value, error) {
	nums := make([]float64, 0, len(args))
	for _, a := range args {
		f, ok := a.(float64)
		if !ok {
			return nil, fmt.Errorf("%s expects numeric arguments, got %T", name, a)
		}
		nums = append(nums, f)
	}
	switch name {
	case "abs":
		if len(nums) != 1 {
			return nil, fmt.Errorf("abs expects 1 argument")
		}
		return math.Abs(nums[0]), nil
	case "round":
		if len(nums) != 1 {
			return nil, fmt.Errorf("round expects 1 argument")
		}
		return math.Round(nums[0]), nil
	case "min":
		if len(nums) == 0 {
			return nil, fmt.Errorf("min expects at least 1 argument")
		}
		m := nums[0]
		for _, f := range nums[1:] {
			m = math.Min(m, f)
		}
		return m, nil
	case "max":
		if len(nums) == 0 {
			return nil, fmt.Errorf("max expects at least 1 argument")
		}
		m := nums[0]
		for _, f := range nums[1:] {
			m = math.Max(m, f)
		}
		return m, nil
	case "sum":
		s := 0.0
		for _, f := range nums {
			s += f
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown function %q", name)
}
