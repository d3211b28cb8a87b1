// Package rules evaluates template automation and fee rules against report form data. Every
// function here is pure so it can run on each edit without locking.
package rules

import (
	"sort"

	"field-service-reports/internal/domain"
)

// Requirements is the requirement picture for the current form state.
type Requirements struct {
	RequiredFields       map[string]struct{}
	EvidenceRequirements map[string]domain.EvidenceSpec
	// TriggeredRules may hold the same rule more than once, one entry per matching sub-form.
	TriggeredRules []domain.AutomationRule
}

func newRequirements() Requirements {
	return Requirements{
		RequiredFields:       make(map[string]struct{}),
		EvidenceRequirements: make(map[string]domain.EvidenceSpec),
		TriggeredRules:       make([]domain.AutomationRule, 0),
	}
}

// EvaluateAutoRequirements matches every rule against formData and, when currentUnitData is
// non-nil, against the active unit's sub-form too, and unions the results. It only adds
// requirements; template-declared ones are merged with WithTemplate.
func EvaluateAutoRequirements(formData domain.FormData, ruleSet []domain.AutomationRule, currentUnitData domain.FormData) Requirements {
	req := newRequirements()
	req.collect(ruleSet, formData)
	if currentUnitData != nil {
		req.collect(ruleSet, currentUnitData)
	}
	return req
}

func (r *Requirements) collect(ruleSet []domain.AutomationRule, data domain.FormData) {
	for _, rule := range ruleSet {
		if !rule.Trigger.Matches(data) {
			continue
		}
		r.TriggeredRules = append(r.TriggeredRules, rule)
		for _, field := range rule.RequiredFields {
			if field == "" {
				continue
			}
			r.RequiredFields[field] = struct{}{}
		}
		for field, spec := range rule.Evidence {
			r.EvidenceRequirements[field] = mergeEvidence(r.EvidenceRequirements[field], spec)
		}
	}
}

// mergeEvidence keeps the strictest of two evidence specs for the same field.
func mergeEvidence(a, b domain.EvidenceSpec) domain.EvidenceSpec {
	out := a
	if b.MinPhotos > out.MinPhotos {
		out.MinPhotos = b.MinPhotos
	}
	out.GPSRequired = a.GPSRequired || b.GPSRequired
	return out
}

// WithTemplate returns a copy that also requires the template's own required fields of the
// given scope. An empty scope takes every required field.
func (r Requirements) WithTemplate(fields []domain.FieldDef, scope domain.FieldScope) Requirements {
	out := Requirements{
		RequiredFields:       make(map[string]struct{}, len(r.RequiredFields)),
		EvidenceRequirements: make(map[string]domain.EvidenceSpec, len(r.EvidenceRequirements)),
		TriggeredRules:       append([]domain.AutomationRule(nil), r.TriggeredRules...),
	}
	for f := range r.RequiredFields {
		out.RequiredFields[f] = struct{}{}
	}
	for f, spec := range r.EvidenceRequirements {
		out.EvidenceRequirements[f] = spec
	}
	for _, f := range fields {
		if !f.Required || !inScope(f, scope) {
			continue
		}
		out.RequiredFields[f.ID] = struct{}{}
	}
	return out
}

func (r Requirements) clone() Requirements {
	out := newRequirements()
	for f := range r.RequiredFields {
		out.RequiredFields[f] = struct{}{}
	}
	for f, spec := range r.EvidenceRequirements {
		out.EvidenceRequirements[f] = spec
	}
	out.TriggeredRules = append(out.TriggeredRules, r.TriggeredRules...)
	return out
}

func (r Requirements) IsRequired(field string) bool {
	_, ok := r.RequiredFields[field]
	return ok
}

// Fields returns the required field ids in stable order.
func (r Requirements) Fields() []string {
	out := make([]string, 0, len(r.RequiredFields))
	for f := range r.RequiredFields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (r Requirements) evidenceFields() []string {
	out := make([]string, 0, len(r.EvidenceRequirements))
	for f := range r.EvidenceRequirements {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func inScope(f domain.FieldDef, scope domain.FieldScope) bool {
	if scope == "" {
		return true
	}
	fieldScope := f.Scope
	if fieldScope == "" {
		fieldScope = domain.ScopeForm
	}
	return fieldScope == scope
}
