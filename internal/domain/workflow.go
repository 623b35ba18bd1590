package domain

import (
	"fmt"
	"time"
)

// AreaTag marks an area as a member of a named family used by workflow
// shortcuts.
type AreaTag string

const (
	TagPublicidad AreaTag = "publicidad"
	TagDespacho   AreaTag = "despacho"
)

// AreaDefinition configures one workflow area. A zero SLA means the area has
// no dwell limit.
type AreaDefinition struct {
	Name     Area
	Tags     []AreaTag
	Requires []Prerequisite
	SLA      time.Duration
}

// TransitionRule marks a from->to move that needs an intermediate form.
type TransitionRule struct {
	From Area
	To   Area
	Form string
}

// Key returns the "<from>-><to>" lookup key.
func (r TransitionRule) Key() string {
	return RuleKey(r.From, r.To)
}

// RuleKey builds the "<from>-><to>" lookup key.
func RuleKey(from, to Area) string {
	return string(from) + "->" + string(to)
}

// SLATable maps areas to their maximum dwell duration.
type SLATable map[Area]time.Duration

// Workflow is the read-only area/rule configuration consulted by the
// transition engine and the SLA calculator.
type Workflow struct {
	initial   Area
	order     []Area
	areas     map[Area]AreaDefinition
	forbidden map[Area]struct{}
	rules     map[string]TransitionRule
}

// NewWorkflow validates and indexes a workflow definition.
func NewWorkflow(initial Area, areas []AreaDefinition, forbidden []Area, rules []TransitionRule) (*Workflow, error) {
	w := &Workflow{
		initial:   initial,
		areas:     make(map[Area]AreaDefinition, len(areas)),
		forbidden: make(map[Area]struct{}, len(forbidden)),
		rules:     make(map[string]TransitionRule, len(rules)),
	}
	for _, def := range areas {
		if def.Name == "" {
			return nil, fmt.Errorf("workflow: area name is required")
		}
		if _, dup := w.areas[def.Name]; dup {
			return nil, fmt.Errorf("workflow: duplicate area %q", def.Name)
		}
		if def.SLA < 0 {
			return nil, fmt.Errorf("workflow: area %q has negative sla", def.Name)
		}
		for _, req := range def.Requires {
			if req != PrerequisiteAdditionalInfo && req != PrerequisiteQAComplete {
				return nil, fmt.Errorf("workflow: area %q requires unknown prerequisite %q", def.Name, req)
			}
		}
		w.areas[def.Name] = def
		w.order = append(w.order, def.Name)
	}
	if _, ok := w.areas[initial]; !ok {
		return nil, fmt.Errorf("workflow: initial area %q is not defined", initial)
	}
	for _, area := range forbidden {
		if _, ok := w.areas[area]; !ok {
			return nil, fmt.Errorf("workflow: forbidden target %q is not defined", area)
		}
		w.forbidden[area] = struct{}{}
	}
	for _, rule := range rules {
		if _, ok := w.areas[rule.From]; !ok {
			return nil, fmt.Errorf("workflow: rule %s references unknown area %q", rule.Key(), rule.From)
		}
		if _, ok := w.areas[rule.To]; !ok {
			return nil, fmt.Errorf("workflow: rule %s references unknown area %q", rule.Key(), rule.To)
		}
		w.rules[rule.Key()] = rule
	}
	return w, nil
}

// InitialArea is where new tickets land.
func (w *Workflow) InitialArea() Area { return w.initial }

// Areas lists configured areas in definition order.
func (w *Workflow) Areas() []Area {
	out := make([]Area, len(w.order))
	copy(out, w.order)
	return out
}

// HasArea reports whether the area is configured.
func (w *Workflow) HasArea(area Area) bool {
	_, ok := w.areas[area]
	return ok
}

// Requirements returns the gates guarding entry into area.
func (w *Workflow) Requirements(area Area) []Prerequisite {
	return w.areas[area].Requires
}

// HasTag reports whether area carries tag.
func (w *Workflow) HasTag(area Area, tag AreaTag) bool {
	for _, t := range w.areas[area].Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsFreePass reports whether a move between the publicidad and despacho
// families, in either direction, bypasses the completion gates.
func (w *Workflow) IsFreePass(from, to Area) bool {
	return (w.HasTag(from, TagPublicidad) && w.HasTag(to, TagDespacho)) ||
		(w.HasTag(from, TagDespacho) && w.HasTag(to, TagPublicidad))
}

// IsForbiddenTarget reports whether manual moves into area are rejected.
func (w *Workflow) IsForbiddenTarget(area Area) bool {
	_, ok := w.forbidden[area]
	return ok
}

// Rule returns the transition rule for from->to, if any.
func (w *Workflow) Rule(from, to Area) (TransitionRule, bool) {
	rule, ok := w.rules[RuleKey(from, to)]
	return rule, ok
}

// SLATable returns the configured dwell limits; areas without a limit are
// absent.
func (w *Workflow) SLATable() SLATable {
	table := make(SLATable, len(w.areas))
	for name, def := range w.areas {
		if def.SLA > 0 {
			table[name] = def.SLA
		}
	}
	return table
}
