// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package itertest

import (
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/mergeiter/internal/base"
)

// OpKind indicates the type of iterator operation being performed.
type OpKind int8

const (
	// OpSeekGE indicates a SeekGE operation.
	OpSeekGE OpKind = iota
	// OpSeekLE indicates a SeekLE operation.
	OpSeekLE
	// OpFirst indicates a First operation.
	OpFirst
	// OpLast indicates a Last operation.
	OpLast
	// OpNext indicates a Next operation.
	OpNext
	// OpPrev indicates a Prev operation.
	OpPrev
	// OpPrepareValue indicates a PrepareValue operation.
	OpPrepareValue
	// OpClose indicates a Close operation.
	OpClose
	numOpKinds
)

var opNames = [numOpKinds]string{
	OpSeekGE:       "OpSeekGE",
	OpSeekLE:       "OpSeekLE",
	OpFirst:        "OpFirst",
	OpLast:         "OpLast",
	OpNext:         "OpNext",
	OpPrev:         "OpPrev",
	OpPrepareValue: "OpPrepareValue",
	OpClose:        "OpClose",
}

// OpKind implements Predicate.
var _ Predicate = OpKind(0)

// String implements fmt.Stringer.
func (o OpKind) String() string { return opNames[o] }

// Evaluate implements Predicate.
func (o OpKind) Evaluate(pctx *ProbeContext) bool { return pctx.Op.Kind == o }

// Op describes an individual iterator operation being performed.
type Op struct {
	Kind    OpKind
	SeekKey *base.InternalKey
	// Return is initialized with the result of the underlying iterator.
	// Probes may mutate it.
	Return struct {
		Valid bool
		Key   base.InternalKey
		Err   error
	}
}

// Probe defines an interface for probes that may inspect or mutate iterator
// behavior.
type Probe interface {
	// Probe inspects, and possibly manipulates, iterator operations' results.
	Probe(*ProbeContext)
}

// ProbeContext provides the context within which a Probe is run.
type ProbeContext struct {
	Op
	ProbeState
}

// ProbeState holds state additional to the context of the operation that's
// accessible to probes.
type ProbeState struct {
	*base.Comparer
	Log io.Writer
}

// Attach wraps iter so that the provided probes are invoked on every
// operation. Each probe wraps the iterator produced by the previous one. The
// wrapper forwards the sentinel and tombstone slot methods of level
// iterators.
func Attach(iter base.InternalIterator, initialState ProbeState, probes ...Probe) *ProbeIterator {
	p := &ProbeIterator{iter: iter}
	if len(probes) == 0 {
		p.probe = noop{}
		p.probeCtx.ProbeState = initialState
		return p
	}
	for i := range probes {
		p = &ProbeIterator{
			iter:     iter,
			probe:    probes[i],
			probeCtx: ProbeContext{ProbeState: initialState},
		}
		iter = p
	}
	return p
}

// ProbeIterator is an iterator that invokes a Probe on every operation.
type ProbeIterator struct {
	iter     base.InternalIterator
	probe    Probe
	probeCtx ProbeContext
}

var _ base.InternalIterator = (*ProbeIterator)(nil)
var _ base.SentinelIterator = (*ProbeIterator)(nil)
var _ base.TombstoneSlotter = (*ProbeIterator)(nil)

func (p *ProbeIterator) handleOp(op Op) {
	op.Return.Valid = p.iter.Valid()
	if op.Return.Valid {
		op.Return.Key = p.iter.Key()
	} else {
		op.Return.Err = p.iter.Error()
	}
	p.probeCtx.Op = op
	p.probe.Probe(&p.probeCtx)
	if p.probeCtx.Op.Return.Err != nil {
		p.probeCtx.Op.Return.Valid = false
	}
}

func (p *ProbeIterator) SeekGE(target base.InternalKey) {
	p.iter.SeekGE(target)
	p.handleOp(Op{Kind: OpSeekGE, SeekKey: &target})
}

func (p *ProbeIterator) SeekLE(target base.InternalKey) {
	p.iter.SeekLE(target)
	p.handleOp(Op{Kind: OpSeekLE, SeekKey: &target})
}

func (p *ProbeIterator) First() {
	p.iter.First()
	p.handleOp(Op{Kind: OpFirst})
}

func (p *ProbeIterator) Last() {
	p.iter.Last()
	p.handleOp(Op{Kind: OpLast})
}

func (p *ProbeIterator) Next() {
	p.iter.Next()
	p.handleOp(Op{Kind: OpNext})
}

func (p *ProbeIterator) Prev() {
	p.iter.Prev()
	p.handleOp(Op{Kind: OpPrev})
}

func (p *ProbeIterator) Valid() bool { return p.probeCtx.Op.Return.Valid }

func (p *ProbeIterator) Key() base.InternalKey { return p.probeCtx.Op.Return.Key }

// PrepareValue runs the probe with the OpPrepareValue kind. A probe that sets
// an error fails the fetch.
func (p *ProbeIterator) PrepareValue() bool {
	ret := p.probeCtx.Op.Return
	ok := p.iter.PrepareValue()
	op := Op{Kind: OpPrepareValue}
	op.Return.Valid, op.Return.Key = ret.Valid, ret.Key
	if !ok {
		op.Return.Err = p.iter.Error()
	}
	p.probeCtx.Op = op
	p.probe.Probe(&p.probeCtx)
	if p.probeCtx.Op.Return.Err != nil {
		// The position is kept; only the value is unavailable.
		p.probeCtx.Op.Return.Valid = ret.Valid
		p.probeCtx.Op.Return.Key = ret.Key
		return false
	}
	return true
}

func (p *ProbeIterator) Value() []byte { return p.iter.Value() }

func (p *ProbeIterator) Error() error { return p.probeCtx.Op.Return.Err }

func (p *ProbeIterator) Close() error {
	err := p.iter.Close()
	// Close returns its error directly rather than through Error.
	op := Op{Kind: OpClose}
	op.Return.Err = err
	p.probeCtx.Op = op
	p.probe.Probe(&p.probeCtx)
	return p.probeCtx.Op.Return.Err
}

// IsBoundarySentinel implements base.SentinelIterator. It is false unless the
// wrapped iterator is a sentinel iterator.
func (p *ProbeIterator) IsBoundarySentinel() bool {
	if s, ok := p.iter.(base.SentinelIterator); ok && p.Valid() {
		return s.IsBoundarySentinel()
	}
	return false
}

// SetTombstoneSlot implements base.TombstoneSlotter by forwarding to the
// wrapped iterator, if it supports it.
func (p *ProbeIterator) SetTombstoneSlot(slot *base.TombstoneIterator) {
	if s, ok := p.iter.(base.TombstoneSlotter); ok {
		s.SetTombstoneSlot(slot)
	}
}

// MayTryAgain implements base.AsyncIterator by forwarding to the wrapped
// iterator.
func (p *ProbeIterator) MayTryAgain() bool { return base.MayTryAgain(p.iter) }

func (p *ProbeIterator) String() string {
	return fmt.Sprintf("probeIterator(%q)", p.iter.String())
}

// ErrInjected is an error artificially injected for testing.
var ErrInjected = Error("ErrInjected", errors.New("injected error"))

// TryAgain is a probe that reports base.ErrTryAgain.
var TryAgain = Error("TryAgain", base.ErrTryAgain)

// Error returns a Probe that returns the provided error. The name is
// returned by String().
func Error(name string, err error) *ErrorProbe {
	return &ErrorProbe{name: name, err: err}
}

// ErrorProbe is a Probe that injects an error.
type ErrorProbe struct {
	name string
	err  error
}

// String implements fmt.Stringer.
func (p *ErrorProbe) String() string {
	return p.name
}

// Error returns the injected error.
func (p *ErrorProbe) Error() error {
	return p.err
}

// Probe implements the Probe interface, replacing the iterator return value
// with an error.
func (p *ErrorProbe) Probe(pctx *ProbeContext) {
	pctx.Op.Return.Err = p.err
	pctx.Op.Return.Valid = false
}

// If a conditional Probe. If its predicate evaluates to true, it probes using
// its Then probe. If its predicate evalutes to false, it probes using its Else
// probe.
func If(pred Predicate, thenProbe, elseProbe Probe) Probe {
	return ifProbe{pred, thenProbe, elseProbe}
}

type ifProbe struct {
	Predicate Predicate
	Then      Probe
	Else      Probe
}

// String implements fmt.Stringer.
func (p ifProbe) String() string { return fmt.Sprintf("(If %s %s %s)", p.Predicate, p.Then, p.Else) }

// Probe implements Probe.
func (p ifProbe) Probe(pctx *ProbeContext) {
	if p.Predicate.Evaluate(pctx) {
		p.Then.Probe(pctx)
	} else {
		p.Else.Probe(pctx)
	}
}

type loggingProbe struct {
	prefix string
}

func (lp loggingProbe) String() string { return fmt.Sprintf("(Log %q)", lp.prefix) }
func (lp loggingProbe) Probe(pctx *ProbeContext) {
	opStr := strings.TrimPrefix(pctx.Kind.String(), "Op")
	fmt.Fprintf(pctx.Log, "%s%s(", lp.prefix, opStr)
	if pctx.SeekKey != nil {
		fmt.Fprintf(pctx.Log, "%s", *pctx.SeekKey)
	}
	fmt.Fprint(pctx.Log, ") = ")
	switch {
	case pctx.Return.Err != nil:
		fmt.Fprintf(pctx.Log, "<err=%q>", pctx.Return.Err)
	case pctx.Kind == OpClose:
		fmt.Fprint(pctx.Log, "nil")
	case !pctx.Return.Valid:
		fmt.Fprint(pctx.Log, ".")
	default:
		fmt.Fprint(pctx.Log, pctx.Return.Key)
	}
	fmt.Fprintln(pctx.Log)
}

// UserKey implements a predicate that evaluates to true if the iterator is
// positioned at a key with a specific user key.
type UserKey []byte

// String implements fmt.Stringer.
func (p UserKey) String() string { return fmt.Sprintf("(UserKey %q)", string(p)) }

// Evaluate implements Predicate.
func (p UserKey) Evaluate(pctx *ProbeContext) bool {
	return pctx.Op.Return.Valid && pctx.Comparer.Equal(pctx.Op.Return.Key.UserKey, p)
}

// Noop returns a Probe that does nothing.
func Noop() Probe { return noop{} }

type noop struct{}

func (noop) String() string           { return "noop" }
func (noop) Probe(pctx *ProbeContext) {}

// Exhausted returns a Probe that makes the iterator report that it is
// exhausted.
func Exhausted() Probe { return exhausted{} }

type exhausted struct{}

func (exhausted) String() string { return "Exhausted" }
func (exhausted) Probe(pctx *ProbeContext) {
	pctx.Op.Return.Valid = false
	pctx.Op.Return.Key = base.InternalKey{}
}
