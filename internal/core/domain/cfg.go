package domain

import (
	"strings"

	"go.trai.ch/zerr"
)

// ErrCfgExpr is returned when a cfg expression does not parse.
var ErrCfgExpr = zerr.New("invalid cfg expression")

// CfgValue is one configuration value of a compile target: either a bare
// name like "unix" or a key pair like target_os = "linux".
type CfgValue struct {
	Name   string
	Value  string
	IsPair bool
}

// String returns the value in cfg syntax.
func (v CfgValue) String() string {
	if v.IsPair {
		return v.Name + ` = "` + v.Value + `"`
	}
	return v.Name
}

// PlatformInfo describes a compile target for platform matching: its
// triple and the configuration values it defines.
type PlatformInfo struct {
	Triple string
	Cfg    []CfgValue
}

// Has reports whether the target defines the bare name.
func (p PlatformInfo) Has(name string) bool {
	for _, v := range p.Cfg {
		if !v.IsPair && v.Name == name {
			return true
		}
	}
	return false
}

// HasPair reports whether the target defines name = "value".
func (p PlatformInfo) HasPair(name, value string) bool {
	for _, v := range p.Cfg {
		if v.IsPair && v.Name == name && v.Value == value {
			return true
		}
	}
	return false
}

type cfgExprKind uint8

const (
	cfgExprValue cfgExprKind = iota
	cfgExprAll
	cfgExprAny
	cfgExprNot
	cfgExprTrue
	cfgExprFalse
)

// CfgExpr is a parsed cfg expression tree.
type CfgExpr struct {
	kind     cfgExprKind
	value    CfgValue
	children []*CfgExpr
}

// Eval reports whether the expression holds on the target.
func (e *CfgExpr) Eval(info PlatformInfo) bool {
	switch e.kind {
	case cfgExprValue:
		if e.value.IsPair {
			return info.HasPair(e.value.Name, e.value.Value)
		}
		return info.Has(e.value.Name)
	case cfgExprAll:
		for _, c := range e.children {
			if !c.Eval(info) {
				return false
			}
		}
		return true
	case cfgExprAny:
		for _, c := range e.children {
			if c.Eval(info) {
				return true
			}
		}
		return false
	case cfgExprNot:
		return !e.children[0].Eval(info)
	case cfgExprTrue:
		return true
	}
	return false
}

// String returns the expression in canonical cfg syntax.
func (e *CfgExpr) String() string {
	switch e.kind {
	case cfgExprValue:
		return e.value.String()
	case cfgExprAll, cfgExprAny:
		op := "all"
		if e.kind == cfgExprAny {
			op = "any"
		}
		parts := make([]string, len(e.children))
		for i, c := range e.children {
			parts[i] = c.String()
		}
		return op + "(" + strings.Join(parts, ", ") + ")"
	case cfgExprNot:
		return "not(" + e.children[0].String() + ")"
	case cfgExprTrue:
		return "true"
	}
	return "false"
}

// ParseCfgExpr parses the inside of a cfg(...) platform key.
func ParseCfgExpr(input string) (*CfgExpr, error) {
	p := &cfgParser{input: input}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, zerr.With(ErrCfgExpr, "expression", input)
	}
	return expr, nil
}

type cfgParser struct {
	input string
	pos   int
}

func (p *cfgParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *cfgParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *cfgParser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return zerr.With(ErrCfgExpr, "expression", p.input)
	}
	p.pos++
	return nil
}

func (p *cfgParser) ident() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '_' || c == '-' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9' && p.pos > start) {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return "", zerr.With(ErrCfgExpr, "expression", p.input)
	}
	return p.input[start:p.pos], nil
}

func (p *cfgParser) str() (string, error) {
	if err := p.expect('"'); err != nil {
		return "", err
	}
	start := p.pos
	for p.pos < len(p.input) && p.input[p.pos] != '"' {
		p.pos++
	}
	if p.pos >= len(p.input) {
		return "", zerr.With(ErrCfgExpr, "expression", p.input)
	}
	s := p.input[start:p.pos]
	p.pos++
	return s, nil
}

func (p *cfgParser) parseExpr() (*CfgExpr, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	switch name {
	case "all", "any":
		kind := cfgExprAll
		if name == "any" {
			kind = cfgExprAny
		}
		children, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return &CfgExpr{kind: kind, children: children}, nil
	case "not":
		children, err := p.parseList()
		if err != nil {
			return nil, err
		}
		if len(children) != 1 {
			return nil, zerr.With(zerr.Wrap(ErrCfgExpr, "not() takes exactly one predicate"), "expression", p.input)
		}
		return &CfgExpr{kind: cfgExprNot, children: children}, nil
	case "true":
		return &CfgExpr{kind: cfgExprTrue}, nil
	case "false":
		return &CfgExpr{kind: cfgExprFalse}, nil
	}
	if p.peek() == '=' {
		p.pos++
		p.skipSpace()
		value, err := p.str()
		if err != nil {
			return nil, err
		}
		return &CfgExpr{kind: cfgExprValue, value: CfgValue{Name: name, Value: value, IsPair: true}}, nil
	}
	return &CfgExpr{kind: cfgExprValue, value: CfgValue{Name: name}}, nil
}

func (p *cfgParser) parseList() ([]*CfgExpr, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	var children []*CfgExpr
	for {
		p.skipSpace()
		if p.peek() == ')' {
			p.pos++
			return children, nil
		}
		if len(children) > 0 {
			if err := p.expect(','); err != nil {
				return nil, err
			}
			p.skipSpace()
			// Trailing comma before the closing parenthesis.
			if p.peek() == ')' {
				p.pos++
				return children, nil
			}
		}
		child, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
}
