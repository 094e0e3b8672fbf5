// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package itertest

import (
	"fmt"
	"go/scanner"
	"go/token"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Predicate encodes conditional logic that yields a boolean.
type Predicate interface {
	Evaluate(*ProbeContext) bool
	String() string
}

// Parser parses probes written in a small lisp-like language, for example:
//
//	(If (And OpSeekGE (OnIndex 0)) TryAgain noop)
//	(If (UserKey "c") ErrInjected (Log "# "))
type Parser struct {
	probes     map[string]func() Probe
	probeFuncs map[string]func(*Parser, *dslScanner) Probe
	preds      map[string]func() Predicate
	predFuncs  map[string]func(*Parser, *dslScanner) Predicate
}

// NewParser constructs a Probe parser.
func NewParser() *Parser {
	p := &Parser{
		probes:     map[string]func() Probe{},
		probeFuncs: map[string]func(*Parser, *dslScanner) Probe{},
		preds:      map[string]func() Predicate{},
		predFuncs:  map[string]func(*Parser, *dslScanner) Predicate{},
	}
	for i, name := range opNames {
		opKind := OpKind(i)
		p.preds[name] = func() Predicate { return opKind }
	}
	p.predFuncs["UserKey"] = func(p *Parser, s *dslScanner) Predicate {
		userKey := s.consumeString()
		s.consume(token.RPAREN)
		return UserKey(userKey)
	}
	p.predFuncs["Not"] = func(p *Parser, s *dslScanner) Predicate {
		preds := p.parsePredicates(s)
		if len(preds) != 1 {
			panic(errors.Newf("dsl: Not accepts exactly 1 argument, given %d", len(preds)))
		}
		return not{preds[0]}
	}
	p.predFuncs["And"] = func(p *Parser, s *dslScanner) Predicate { return and(p.parsePredicates(s)) }
	p.predFuncs["Or"] = func(p *Parser, s *dslScanner) Predicate { return or(p.parsePredicates(s)) }
	p.predFuncs["OnIndex"] = func(p *Parser, s *dslScanner) Predicate {
		i, err := strconv.ParseInt(s.consume(token.INT).lit, 10, 32)
		if err != nil {
			panic(err)
		}
		s.consume(token.RPAREN)
		return OnIndex(int(i))
	}

	p.probes["ErrInjected"] = func() Probe { return ErrInjected }
	p.probes["TryAgain"] = func() Probe { return TryAgain }
	p.probes["noop"] = Noop
	p.probes["Exhausted"] = Exhausted
	p.probeFuncs["If"] = func(p *Parser, s *dslScanner) Probe {
		probe := If(
			p.parsePredicate(s, s.scan()),
			p.parseProbe(s, s.scan()),
			p.parseProbe(s, s.scan()),
		)
		s.consume(token.RPAREN)
		return probe
	}
	p.probeFuncs["Log"] = func(p *Parser, s *dslScanner) Probe {
		probe := loggingProbe{prefix: s.consumeString()}
		s.consume(token.RPAREN)
		return probe
	}
	return p
}

// Parse parses the provided probe.
func (p *Parser) Parse(d string) (ret Probe, err error) {
	defer func() {
		if r := recover(); r != nil {
			var ok bool
			if err, ok = r.(error); !ok {
				panic(r)
			}
		}
	}()
	d = strings.TrimSpace(d)
	fset := token.NewFileSet()
	file := fset.AddFile("", -1, len(d))
	var s dslScanner
	s.Init(file, []byte(d), nil /* no error handler */, 0)
	ret = p.parseProbe(&s, s.scan())
	tok := s.scan()
	if tok.kind == token.SEMICOLON {
		tok = s.scan()
	}
	assertTok(tok, token.EOF)
	return ret, nil
}

// MustParseProbes parses each string as a separate probe. It panics if any of
// the probes fail to parse.
func MustParseProbes(parser *Parser, probes ...string) []Probe {
	ret := make([]Probe, len(probes))
	for i := range probes {
		var err error
		if ret[i], err = parser.Parse(probes[i]); err != nil {
			panic(err)
		}
	}
	return ret
}

func (p *Parser) parseProbe(s *dslScanner, tok dslToken) Probe {
	switch tok.kind {
	case token.IDENT:
		c, ok := p.probes[tok.lit]
		if !ok {
			panic(errors.Errorf("dsl: unknown probe %q", tok.lit))
		}
		return c()
	case token.LPAREN:
		tok = s.consume(token.IDENT)
		f, ok := p.probeFuncs[tok.lit]
		if !ok {
			panic(errors.Errorf("dsl: unknown probe func %q", tok.lit))
		}
		return f(p, s)
	default:
		panic(errors.Errorf("dsl: unexpected token %s; expected IDENT or LPAREN", tok))
	}
}

func (p *Parser) parsePredicate(s *dslScanner, tok dslToken) Predicate {
	switch tok.kind {
	case token.IDENT:
		c, ok := p.preds[tok.lit]
		if !ok {
			panic(errors.Errorf("dsl: unknown predicate %q", tok.lit))
		}
		return c()
	case token.LPAREN:
		tok = s.consume(token.IDENT)
		f, ok := p.predFuncs[tok.lit]
		if !ok {
			panic(errors.Errorf("dsl: unknown predicate func %q", tok.lit))
		}
		return f(p, s)
	default:
		panic(errors.Errorf("dsl: unexpected token %s; expected IDENT or LPAREN", tok))
	}
}

// parsePredicates parses predicates up to the closing paren.
func (p *Parser) parsePredicates(s *dslScanner) (ret []Predicate) {
	tok := s.scan()
	for tok.kind == token.LPAREN || tok.kind == token.IDENT {
		ret = append(ret, p.parsePredicate(s, tok))
		tok = s.scan()
	}
	assertTok(tok, token.RPAREN)
	return ret
}

type dslScanner struct {
	scanner.Scanner
}

func (s *dslScanner) scan() dslToken {
	pos, tok, lit := s.Scanner.Scan()
	return dslToken{pos: pos, kind: tok, lit: lit}
}

func (s *dslScanner) consume(expect token.Token) dslToken {
	t := s.scan()
	assertTok(t, expect)
	return t
}

func (s *dslScanner) consumeString() string {
	lit := s.consume(token.STRING).lit
	str, err := strconv.Unquote(lit)
	if err != nil {
		panic(errors.Newf("dsl: unquoting %q: %v", lit, err))
	}
	return str
}

type dslToken struct {
	pos  token.Pos
	kind token.Token
	lit  string
}

func (t dslToken) String() string {
	if t.lit != "" {
		return fmt.Sprintf("(%s, %q) at pos %v", t.kind, t.lit, t.pos)
	}
	return fmt.Sprintf("%s at pos %v", t.kind, t.pos)
}

func assertTok(tok dslToken, expect token.Token) {
	if tok.kind != expect {
		panic(errors.Errorf("dsl: unexpected token %s; expected %s", tok, expect))
	}
}

// OnIndex returns a Predicate that evaluates to true on its n-th evaluation,
// counting from zero.
func OnIndex(n int) Predicate {
	return &onIndex{n: n}
}

type onIndex struct {
	n, calls int
}

func (p *onIndex) String() string { return fmt.Sprintf("(OnIndex %d)", p.n) }
func (p *onIndex) Evaluate(*ProbeContext) bool {
	p.calls++
	return p.calls-1 == p.n
}

type not struct{ Predicate }

func (p not) String() string                   { return fmt.Sprintf("(Not %s)", p.Predicate) }
func (p not) Evaluate(pctx *ProbeContext) bool { return !p.Predicate.Evaluate(pctx) }

type and []Predicate

func (p and) String() string { return formatPredicates("And", p) }
func (p and) Evaluate(pctx *ProbeContext) bool {
	for i := range p {
		if !p[i].Evaluate(pctx) {
			return false
		}
	}
	return true
}

type or []Predicate

func (p or) String() string { return formatPredicates("Or", p) }
func (p or) Evaluate(pctx *ProbeContext) bool {
	for i := range p {
		if p[i].Evaluate(pctx) {
			return true
		}
	}
	return false
}

func formatPredicates(name string, preds []Predicate) string {
	var sb strings.Builder
	sb.WriteString("(")
	sb.WriteString(name)
	for _, p := range preds {
		sb.WriteByte(' ')
		sb.WriteString(p.String())
	}
	sb.WriteByte(')')
	return sb.String()
}
