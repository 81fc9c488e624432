//
// Copyright 2019 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS-IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
//
// Package query provides a terminal interval-matching ltl.Operator over
// captured execution intervals, used by the `showmap` CLI command to filter
// displayed trace segments and to resolve `--select-task` (§11).
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ilhamster/ltl/pkg/binder"
	be "github.com/ilhamster/ltl/pkg/bindingenvironment"
	"github.com/ilhamster/ltl/pkg/bindings"
	"github.com/ilhamster/ltl/pkg/ltl"

	"github.com/google/wcetfuzz/internal/model"
)

// Attribute names a matchable field of an execution interval.
const (
	Task  string = "task"
	Event string = "event"
	Name  string = "name"
	Ticks string = "ticks"
)

var (
	// matchExprRe matches "attribute=value" or "$bindingName<-attribute",
	// following ltl/tracepoint_matcher.go's matchExprRe.
	matchExprRe = regexp.MustCompile(`^(?:(.+)=(.+))|(?:\$(\w+)<-(.+))$`)

	fieldNamesRe = regexp.MustCompile(`^(?:task|event|name|ticks)$`)
)

// Token wraps the index of a model.ExecInterval within the slice a
// Collection was built over.
type Token int

// EOI (End of Input) is always false: an interval stream has no designated
// terminator token.
func (t Token) EOI() bool {
	return false
}

func (t Token) String() string {
	return strconv.Itoa(int(t))
}

// Collection is the fixed slice of intervals a Matcher indexes into by
// Token, mirroring tracepoint_matcher.go's trace.Collection role.
type Collection struct {
	Intervals []model.ExecInterval
}

func (c *Collection) at(t Token) (*model.ExecInterval, error) {
	if int(t) < 0 || int(t) >= len(c.Intervals) {
		return nil, fmt.Errorf("interval index %d out of range [0,%d)", t, len(c.Intervals))
	}
	return &c.Intervals[t], nil
}

// Matcher is an interval-matching ltl.Operator.
type Matcher struct {
	sourceInput  string
	col          *Collection
	matching     func(iv *model.ExecInterval) bool
	extractToken func(name string, tok ltl.Token) (*bindings.Bindings, error)
}

func (m *Matcher) String() string {
	return fmt.Sprintf("[%s]", m.sourceInput)
}

// Reducible returns true for all Matchers.
func (m *Matcher) Reducible() bool {
	return true
}

func newAttributeMatcher(col *Collection, m *Matcher, lhs, rhs string) (*Matcher, error) {
	if !fieldNamesRe.MatchString(lhs) {
		return nil, fmt.Errorf("invalid attribute %q", lhs)
	}
	switch lhs {
	case Task:
		m.matching = func(iv *model.ExecInterval) bool { return iv.GetTaskName() == rhs }
	case Event:
		m.matching = func(iv *model.ExecInterval) bool { return iv.ABB.Level.Event.String() == rhs }
	case Name:
		m.matching = func(iv *model.ExecInterval) bool { return iv.ABB.InstanceName == rhs }
	case Ticks:
		want, err := strconv.ParseUint(rhs, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected number for attribute %q, got %q", lhs, rhs)
		}
		m.matching = func(iv *model.ExecInterval) bool { return uint64(iv.ExecTime()) == want }
	}
	return m, nil
}

func attachTokenExtractor(m *Matcher, col *Collection, attributeName string) (*Matcher, error) {
	var extract func(name string, iv *model.ExecInterval) (*bindings.Bindings, error)
	switch attributeName {
	case Task:
		extract = func(name string, iv *model.ExecInterval) (*bindings.Bindings, error) {
			return bindings.New(bindings.String(name, iv.GetTaskName()))
		}
	case Event:
		extract = func(name string, iv *model.ExecInterval) (*bindings.Bindings, error) {
			return bindings.New(bindings.String(name, iv.ABB.Level.Event.String()))
		}
	case Name:
		extract = func(name string, iv *model.ExecInterval) (*bindings.Bindings, error) {
			return bindings.New(bindings.String(name, iv.ABB.InstanceName))
		}
	case Ticks:
		extract = func(name string, iv *model.ExecInterval) (*bindings.Bindings, error) {
			return bindings.New(bindings.Int(name, int(iv.ExecTime())))
		}
	default:
		return nil, fmt.Errorf("invalid attribute %s in binding reference", attributeName)
	}

	m.extractToken = func(name string, tok ltl.Token) (*bindings.Bindings, error) {
		ttok, ok := tok.(Token)
		if !ok {
			return nil, fmt.Errorf("failed to make binding: got %T but want query.Token", tok)
		}
		iv, err := col.at(ttok)
		if err != nil {
			return nil, err
		}
		return extract(name, iv)
	}
	return m, nil
}

func newBindingBind(col *Collection, m *Matcher, bindingName, bindingValue string) (ltl.Operator, error) {
	if !fieldNamesRe.MatchString(bindingValue) {
		return nil, fmt.Errorf("invalid binding value %q", bindingValue)
	}
	m, err := attachTokenExtractor(m, col, bindingValue)
	if err != nil {
		return nil, err
	}
	builder := binder.NewBuilder(true, m.extractToken)
	return builder.Bind(bindingName), nil
}

func newBindingReference(col *Collection, m *Matcher, attributeQuery, attributeValue string) (ltl.Operator, error) {
	if !fieldNamesRe.MatchString(attributeQuery) {
		return nil, fmt.Errorf("invalid attribute %q", attributeQuery)
	}
	m, err := attachTokenExtractor(m, col, attributeQuery)
	if err != nil {
		return nil, err
	}
	builder := binder.NewBuilder(true, m.extractToken)
	return builder.Reference(strings.TrimPrefix(attributeValue, "$")), nil
}

// newMatcherFromString parses s into a Matcher, binder.Binder, or
// binder.Referencer, following tracepoint_matcher.go's newMatcherFromString.
func newMatcherFromString(col *Collection, s string) (ltl.Operator, error) {
	if !matchExprRe.MatchString(s) {
		return nil, fmt.Errorf("expected format 'attribute=value' or '$name<-attribute', got %q", s)
	}
	captures := matchExprRe.FindStringSubmatch(s)
	attributeLHS, attributeRHS := captures[1], captures[2]
	bindingLHS, bindingRHS := captures[3], captures[4]

	m := &Matcher{sourceInput: s, col: col}

	if attributeLHS != "" && attributeRHS != "" && !strings.HasPrefix(attributeRHS, "$") {
		return newAttributeMatcher(col, m, attributeLHS, attributeRHS)
	}
	if attributeLHS != "" && attributeRHS != "" {
		return newBindingReference(col, m, attributeLHS, attributeRHS)
	}
	return newBindingBind(col, m, bindingLHS, bindingRHS)
}

// Generator returns a generator function producing Matchers over col, the
// form the ltl grammar's terminal-parsing hook expects.
func Generator(col *Collection) func(s string) (ltl.Operator, error) {
	return func(s string) (ltl.Operator, error) {
		return newMatcherFromString(col, s)
	}
}

func (m *Matcher) matchInternal(tok Token) (ltl.Operator, ltl.Environment) {
	if m == nil {
		return nil, be.New(be.Matching(false))
	}
	iv, err := m.col.at(tok)
	if err != nil {
		return nil, ltl.ErrEnv(err)
	}
	matching := m.matching(iv)
	env := be.New(be.Matching(matching), be.Captured(tok))
	return nil, env
}

// Match performs a single-step match on the receiving Matcher.
func (m *Matcher) Match(tok ltl.Token) (ltl.Operator, ltl.Environment) {
	t, ok := tok.(Token)
	if !ok {
		return nil, ltl.ErrEnv(fmt.Errorf("got token of type %T but expected query.Token", tok))
	}
	return m.matchInternal(t)
}

// Filter returns the sub-sequence of ivs for which expr (a single
// "attribute=value" expression, §11) matches, in original order. It is the
// simple, non-combinator entry point showmap and --select-task use; full
// LTL formula composition is available via Generator for callers that need
// it.
func Filter(ivs []model.ExecInterval, expr string) ([]model.ExecInterval, error) {
	col := &Collection{Intervals: ivs}
	op, err := newMatcherFromString(col, expr)
	if err != nil {
		return nil, err
	}
	m, ok := op.(*Matcher)
	if !ok {
		return nil, fmt.Errorf("expression %q is a binding, not a literal matcher", expr)
	}
	var out []model.ExecInterval
	for i, iv := range ivs {
		if m.matching(&iv) {
			out = append(out, ivs[i])
		}
	}
	return out, nil
}
