// Package rules hosts the reflection condenser, the table/operation rule
// engine, the advisory policy engine with rate limiting, and the rule
// conflict scanner.
package rules

import (
	"context"
	"fmt"
	"strings"

	"mindcore/internal/fault"
	"mindcore/internal/logging"
	"mindcore/internal/store"
)

// Engine evaluates stored rules against mutations. Rules for a matching
// (table, operation) run in id order; a veto aborts the mutation.
type Engine struct {
	st *store.Store
}

// NewEngine wires the rule engine.
func NewEngine(st *store.Store) *Engine { return &Engine{st: st} }

// Mutation describes an intended data change presented to the rules.
type Mutation struct {
	Table     string
	Operation string // insert | update | delete | select
	Values    map[string]interface{}
}

// Annotation is a non-vetoing rule outcome attached to the mutation.
type Annotation struct {
	RuleID int64
	Note   string
}

// Evaluate runs matching rules in id order. A rule whose action is "veto"
// and whose script matches the mutation aborts with RuleVeto; "annotate"
// rules attach notes and continue.
func (e *Engine) Evaluate(ctx context.Context, m Mutation) ([]Annotation, error) {
	const op = "rules.Evaluate"

	matched, err := e.st.RulesFor(ctx, m.Table, m.Operation)
	if err != nil {
		return nil, err
	}

	var notes []Annotation
	for _, r := range matched {
		hit := scriptMatches(r.Script, m)
		if !hit {
			continue
		}
		switch r.Action {
		case "veto":
			logging.Get(logging.CategoryPolicy).Warn("rule %d vetoed %s on %s", r.ID, m.Operation, m.Table)
			return notes, fault.New(fault.ErrRuleVeto, op, "rule %d vetoed %s on %s", r.ID, m.Operation, m.Table)
		default:
			notes = append(notes, Annotation{RuleID: r.ID, Note: r.Script})
		}
	}
	return notes, nil
}

// scriptMatches interprets a rule script as a guard expression. The script
// grammar is deliberately small: empty matches everything; otherwise a
// semicolon list of `field=value` terms that must all equal the mutation's
// values (stringified).
func scriptMatches(script string, m Mutation) bool {
	script = strings.TrimSpace(script)
	if script == "" {
		return true
	}
	for _, term := range strings.Split(script, ";") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		parts := strings.SplitN(term, "=", 2)
		if len(parts) != 2 {
			return false
		}
		field, want := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		got, ok := m.Values[field]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != want {
			return false
		}
	}
	return true
}

// Conflict is a pair of active rules with overlapping scope and opposing
// effects. The scanner reports; it never auto-resolves.
type Conflict struct {
	RuleA  int64
	RuleB  int64
	Reason string
}

// ScanConflicts looks for semantic overlaps among active rules: same
// (table, operation) where one vetoes and another annotates with an
// identical script, or two vetoes with identical scripts (redundancy).
func (e *Engine) ScanConflicts(ctx context.Context) ([]Conflict, error) {
	rules, err := e.st.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}

	var out []Conflict
	for i := 0; i < len(rules); i++ {
		for j := i + 1; j < len(rules); j++ {
			a, b := rules[i], rules[j]
			if a.TableName != b.TableName || a.Operation != b.Operation {
				continue
			}
			sameScript := strings.TrimSpace(a.Script) == strings.TrimSpace(b.Script)
			switch {
			case sameScript && a.Action != b.Action:
				out = append(out, Conflict{RuleA: a.ID, RuleB: b.ID,
					Reason: fmt.Sprintf("identical guard on %s/%s with opposing actions %s vs %s",
						a.TableName, a.Operation, a.Action, b.Action)})
			case sameScript && a.Action == "veto" && b.Action == "veto":
				out = append(out, Conflict{RuleA: a.ID, RuleB: b.ID,
					Reason: fmt.Sprintf("redundant veto on %s/%s", a.TableName, a.Operation)})
			}
		}
	}
	if len(out) > 0 {
		logging.Get(logging.CategoryPolicy).Warn("conflict scan found %d contradictions", len(out))
	}
	return out, nil
}
