package synckit

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// ConflictCase is the input matchers see when a RuleStrategy picks a rule.
type ConflictCase struct {
	Collection string
	Local      Record
	Remote     Record
}

// ChangedFields lists, sorted, the fields whose values differ between the
// two versions. updated_at is not included.
func (c ConflictCase) ChangedFields() []string {
	seen := make(map[string]struct{}, len(c.Local.Fields)+len(c.Remote.Fields))
	var out []string
	check := func(k string) {
		if _, done := seen[k]; done {
			return
		}
		seen[k] = struct{}{}
		lv, lok := c.Local.Fields[k]
		rv, rok := c.Remote.Fields[k]
		if lok != rok || !reflect.DeepEqual(lv, rv) {
			out = append(out, k)
		}
	}
	for k := range c.Local.Fields {
		check(k)
	}
	for k := range c.Remote.Fields {
		check(k)
	}
	sort.Strings(out)
	return out
}

// Spec is a predicate over a conflict.
type Spec func(ConflictCase) bool

// And matches when every spec matches.
func And(specs ...Spec) Spec {
	return func(c ConflictCase) bool {
		for _, s := range specs {
			if s == nil || !s(c) {
				return false
			}
		}
		return len(specs) > 0
	}
}

// Or matches when at least one spec matches.
func Or(specs ...Spec) Spec {
	return func(c ConflictCase) bool {
		for _, s := range specs {
			if s != nil && s(c) {
				return true
			}
		}
		return false
	}
}

func Not(s Spec) Spec { return func(c ConflictCase) bool { return s == nil || !s(c) } }

// Always matches every conflict.
func Always() Spec { return func(ConflictCase) bool { return true } }

func CollectionIs(names ...string) Spec {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(c ConflictCase) bool {
		_, ok := set[c.Collection]
		return ok
	}
}

// FieldDiffers matches when any of the given fields differs between the two
// versions.
func FieldDiffers(fields ...string) Spec {
	return func(c ConflictCase) bool {
		changed := c.ChangedFields()
		for _, f := range fields {
			i := sort.SearchStrings(changed, f)
			if i < len(changed) && changed[i] == f {
				return true
			}
		}
		return false
	}
}

// Rule binds a matcher to a strategy.
type Rule struct {
	Name     string
	Matcher  Spec
	Strategy ConflictStrategy
}

// RuleHooks are optional observability callbacks. Nil hooks are skipped.
type RuleHooks struct {
	OnRuleMatched func(c ConflictCase, rule Rule)
	OnFallback    func(c ConflictCase)
	OnDecided     func(c ConflictCase, d Decision)
	OnError       func(c ConflictCase, err error)
}

// ErrNoRuleMatched is returned when no rule matches and there is no fallback.
var ErrNoRuleMatched = errors.New("no rule matched and no fallback configured")

// RuleStrategy dispatches each conflict to the first rule whose matcher
// accepts it, or to the fallback.
type RuleStrategy struct {
	rules    []Rule
	fallback ConflictStrategy
	hooks    RuleHooks
}

var _ ConflictStrategy = (*RuleStrategy)(nil)

// NewRuleStrategy validates the rules. At least one rule or a fallback is
// required.
func NewRuleStrategy(rules []Rule, fallback ConflictStrategy, hooks RuleHooks) (*RuleStrategy, error) {
	if len(rules) == 0 && fallback == nil {
		return nil, errors.New("rule strategy requires at least one rule or a fallback")
	}
	for i, r := range rules {
		if r.Matcher == nil {
			return nil, fmt.Errorf("rule %d (%s) has no matcher", i, r.Name)
		}
		if r.Strategy == nil {
			return nil, fmt.Errorf("rule %d (%s) has no strategy", i, r.Name)
		}
	}
	return &RuleStrategy{rules: append([]Rule(nil), rules...), fallback: fallback, hooks: hooks}, nil
}

func (s *RuleStrategy) Decide(ctx context.Context, collection string, local, remote Record) (Decision, error) {
	c := ConflictCase{Collection: collection, Local: local, Remote: remote}

	strategy := s.fallback
	matched := false
	for _, r := range s.rules {
		if r.Matcher(c) {
			if s.hooks.OnRuleMatched != nil {
				s.hooks.OnRuleMatched(c, r)
			}
			strategy = r.Strategy
			matched = true
			break
		}
	}
	if !matched {
		if strategy == nil {
			if s.hooks.OnError != nil {
				s.hooks.OnError(c, ErrNoRuleMatched)
			}
			return 0, ErrNoRuleMatched
		}
		if s.hooks.OnFallback != nil {
			s.hooks.OnFallback(c)
		}
	}

	d, err := strategy.Decide(ctx, collection, local, remote)
	if err != nil {
		if s.hooks.OnError != nil {
			s.hooks.OnError(c, err)
		}
		return 0, err
	}
	if s.hooks.OnDecided != nil {
		s.hooks.OnDecided(c, d)
	}
	return d, nil
}
