package rules

import (
	"field-service-reports/internal/domain"
)

// DeriveUnitStatus computes a unit's status from its sub-form alone. Status is never stored.
// UnitStatuses also counts what form-level rules ask of each unit.
func DeriveUnitStatus(u domain.UnitData, ruleSet []domain.AutomationRule, fields []domain.FieldDef, photos []domain.Photo) domain.UnitStatus {
	if u.Unit.NotServiced {
		return domain.UnitNotServiced
	}
	return unitStatus(u, unitRequirements(u, ruleSet, fields), photos)
}

// UnitStatuses derives the status of every unit, keyed by unit id.
func UnitStatuses(formData domain.FormData, units []domain.UnitData, ruleSet []domain.AutomationRule, fields []domain.FieldDef, photos []domain.Photo) map[string]domain.UnitStatus {
	plan := planUnits(formData, ruleSet, fields, units)
	out := make(map[string]domain.UnitStatus, len(units))
	for _, u := range units {
		if u.Unit.NotServiced {
			out[u.Unit.ID] = domain.UnitNotServiced
			continue
		}
		out[u.Unit.ID] = unitStatus(u, plan.units[u.Unit.ID], photos)
	}
	return out
}

// unitStatus never reports an untouched unit as completed, even when it owes nothing.
func unitStatus(u domain.UnitData, req Requirements, photos []domain.Photo) domain.UnitStatus {
	if !touched(u, photos) {
		return domain.UnitNotStarted
	}
	media := mediaIndex{photos: photos, unitScoped: true, unitID: u.Unit.ID}
	if len(checkRequirements(req, u.Data, media, nil, nil)) == 0 {
		return domain.UnitCompleted
	}
	return domain.UnitInProgress
}

func touched(u domain.UnitData, photos []domain.Photo) bool {
	for _, v := range u.Data {
		if !domain.IsEmptyValue(v) {
			return true
		}
	}
	for _, p := range photos {
		if p.UnitID == u.Unit.ID {
			return true
		}
	}
	return false
}
