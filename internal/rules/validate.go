package rules

import (
	"fmt"

	"field-service-reports/internal/domain"
)

// ValidateInput carries everything ValidateSubmit looks at.
type ValidateInput struct {
	FormData   domain.FormData
	Rules      []domain.AutomationRule
	Units      []domain.UnitData
	UnitLoop   *domain.UnitLoopConfig
	Fields     []domain.FieldDef
	Photos     []domain.Photo
	Signatures []domain.Signature
}

func (in ValidateInput) perUnit() bool {
	return in.UnitLoop != nil && in.UnitLoop.Enabled
}

// ValidateSubmit returns every blocking problem with the report. An empty result is the only
// condition under which a submission may proceed. In per-unit mode every unit is checked, not
// just the one on screen, so callers can jump to any failing unit.
//
// In per-unit mode a requirement is checked where its field lives, whichever sub-form fired
// the rule: unit-scoped fields in each unit (tagged with the unit), form-scoped fields once in
// the form data as general errors. A field the template does not declare lives where the rule
// fired.
func ValidateSubmit(in ValidateInput) []domain.ValidationError {
	labels := fieldLabels(in.Fields)
	if !in.perUnit() {
		req := EvaluateAutoRequirements(in.FormData, in.Rules, nil).WithTemplate(in.Fields, "")
		media := mediaIndex{photos: in.Photos, signatures: in.Signatures}
		return append(make([]domain.ValidationError, 0), checkRequirements(req, in.FormData, media, labels, nil)...)
	}

	plan := planUnits(in.FormData, in.Rules, in.Fields, in.Units)
	errs := make([]domain.ValidationError, 0)
	formMedia := mediaIndex{photos: in.Photos, signatures: in.Signatures, unitScoped: true}
	errs = append(errs, checkRequirements(plan.form, in.FormData, formMedia, labels, nil)...)
	for i, u := range in.Units {
		req, ok := plan.units[u.Unit.ID]
		if !ok {
			continue
		}
		media := mediaIndex{photos: in.Photos, signatures: in.Signatures, unitScoped: true, unitID: u.Unit.ID}
		errs = append(errs, checkRequirements(req, u.Data, media, labels, &unitOwner{index: i, unit: u.Unit})...)
	}
	return errs
}

// unitPlan splits the requirements of a per-unit report between the form and each serviced
// unit.
type unitPlan struct {
	form  Requirements
	units map[string]Requirements
}

func planUnits(formData domain.FormData, ruleSet []domain.AutomationRule, fields []domain.FieldDef, units []domain.UnitData) unitPlan {
	scopes := declaredScopes(fields)
	plan := unitPlan{form: newRequirements(), units: make(map[string]Requirements, len(units))}

	// Owed by every serviced unit: template unit fields and unit fields required by form rules.
	everyUnit := newRequirements()
	for _, f := range fields {
		if f.Required {
			route(scopes, f.ID, domain.ScopeForm, &plan.form, &everyUnit)
		}
	}
	formReq := EvaluateAutoRequirements(formData, ruleSet, nil)
	routeAll(scopes, formReq, domain.ScopeForm, &plan.form, &everyUnit)

	for _, u := range units {
		if u.Unit.NotServiced {
			continue
		}
		req := everyUnit.clone()
		routeAll(scopes, EvaluateAutoRequirements(u.Data, ruleSet, nil), domain.ScopeUnit, &plan.form, &req)
		plan.units[u.Unit.ID] = req
	}
	return plan
}

// declaredScopes maps each template field to the sub-form that holds it. Fields declared
// without a scope belong to the form.
func declaredScopes(fields []domain.FieldDef) map[string]domain.FieldScope {
	out := make(map[string]domain.FieldScope, len(fields))
	for _, f := range fields {
		scope := f.Scope
		if scope == "" {
			scope = domain.ScopeForm
		}
		out[f.ID] = scope
	}
	return out
}

func ownerScope(scopes map[string]domain.FieldScope, field string, firedIn domain.FieldScope) domain.FieldScope {
	if scope, ok := scopes[field]; ok {
		return scope
	}
	return firedIn
}

func route(scopes map[string]domain.FieldScope, field string, firedIn domain.FieldScope, form, unit *Requirements) {
	if ownerScope(scopes, field, firedIn) == domain.ScopeUnit {
		unit.RequiredFields[field] = struct{}{}
		return
	}
	form.RequiredFields[field] = struct{}{}
}

func routeAll(scopes map[string]domain.FieldScope, req Requirements, firedIn domain.FieldScope, form, unit *Requirements) {
	for field := range req.RequiredFields {
		route(scopes, field, firedIn, form, unit)
	}
	for field, spec := range req.EvidenceRequirements {
		target := form
		if ownerScope(scopes, field, firedIn) == domain.ScopeUnit {
			target = unit
		}
		target.EvidenceRequirements[field] = mergeEvidence(target.EvidenceRequirements[field], spec)
	}
	form.TriggeredRules = append(form.TriggeredRules, req.TriggeredRules...)
}

// unitRequirements is what a single unit owes when only its own sub-form is known.
func unitRequirements(u domain.UnitData, ruleSet []domain.AutomationRule, fields []domain.FieldDef) Requirements {
	return planUnits(nil, ruleSet, fields, []domain.UnitData{u}).units[u.Unit.ID]
}

type unitOwner struct {
	index int
	unit  domain.Unit
}

func (o *unitOwner) number() int {
	if o.unit.UnitNumber > 0 {
		return o.unit.UnitNumber
	}
	return o.index + 1
}

func checkRequirements(req Requirements, data domain.FormData, media mediaIndex, labels map[string]string, owner *unitOwner) []domain.ValidationError {
	var errs []domain.ValidationError
	add := func(field, msg string) {
		ve := domain.ValidationError{Message: msg, FieldID: field}
		if owner != nil {
			idx := owner.index
			ve.UnitIndex = &idx
			ve.UnitID = owner.unit.ID
			ve.Message = fmt.Sprintf("Unit %d: %s", owner.number(), msg)
		}
		errs = append(errs, ve)
	}

	for _, field := range req.Fields() {
		if fieldFilled(data, field, media) || evidenceReports(req.EvidenceRequirements[field]) {
			continue
		}
		add(field, fmt.Sprintf("%s is required", labelFor(labels, field)))
	}

	for _, field := range req.evidenceFields() {
		spec := req.EvidenceRequirements[field]
		photos := media.photosFor(field)
		if spec.MinPhotos > 0 && len(photos) < spec.MinPhotos {
			add(field, fmt.Sprintf("%s needs at least %d photo(s), %d captured", labelFor(labels, field), spec.MinPhotos, len(photos)))
		}
		if spec.GPSRequired && !allLocated(photos) {
			add(field, fmt.Sprintf("%s needs GPS-tagged photos", labelFor(labels, field)))
		}
	}
	return errs
}

// fieldFilled treats captured media for a field as an answer, since photo and signature fields
// hold nothing in form data.
func fieldFilled(data domain.FormData, field string, media mediaIndex) bool {
	if v, ok := data.Lookup(field); ok && !domain.IsEmptyValue(v) {
		return true
	}
	return len(media.photosFor(field)) > 0 || media.hasSignature(field)
}

// evidenceReports reports whether an evidence check on an empty field already produces an
// error, so the plain "is required" message would only repeat it.
func evidenceReports(spec domain.EvidenceSpec) bool {
	return spec.MinPhotos > 0 || spec.GPSRequired
}

func allLocated(photos []domain.Photo) bool {
	if len(photos) == 0 {
		return false
	}
	for _, p := range photos {
		if !p.HasLocation() {
			return false
		}
	}
	return true
}

type mediaIndex struct {
	photos     []domain.Photo
	signatures []domain.Signature
	// unitScoped restricts matches to media whose UnitID equals unitID ("" for form level).
	unitScoped bool
	unitID     string
}

func (m mediaIndex) photosFor(field string) []domain.Photo {
	var out []domain.Photo
	for _, p := range m.photos {
		if p.FieldID != field {
			continue
		}
		if m.unitScoped && p.UnitID != m.unitID {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (m mediaIndex) hasSignature(field string) bool {
	if m.unitScoped && m.unitID != "" {
		return false
	}
	for _, s := range m.signatures {
		if s.FieldID == field && len(s.Data) > 0 {
			return true
		}
	}
	return false
}

func fieldLabels(fields []domain.FieldDef) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if f.Label != "" {
			out[f.ID] = f.Label
		}
	}
	return out
}

func labelFor(labels map[string]string, field string) string {
	if l, ok := labels[field]; ok {
		return l
	}
	return field
}
