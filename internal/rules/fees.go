package rules

import (
	"fmt"

	"field-service-reports/internal/domain"
)

// EvaluateFeeSuggestions returns one unit-less fee per fee rule matching the whole form, plus
// one fee per (unit, rule) match when per-unit data is supplied. Units marked not serviced do
// not attract fees.
func EvaluateFeeSuggestions(formData domain.FormData, feeRules []domain.FeeRule, units []domain.UnitData) []domain.SuggestedFee {
	out := make([]domain.SuggestedFee, 0)
	for _, rule := range feeRules {
		if rule.Trigger.Matches(formData) {
			out = append(out, suggestFee(rule, nil))
		}
	}
	for i := range units {
		u := units[i]
		if u.Unit.NotServiced {
			continue
		}
		for _, rule := range feeRules {
			if rule.Trigger.Matches(u.Data) {
				out = append(out, suggestFee(rule, &u))
			}
		}
	}
	return out
}

func suggestFee(rule domain.FeeRule, unit *domain.UnitData) domain.SuggestedFee {
	reason := rule.Description
	if reason == "" {
		reason = fmt.Sprintf("%s: %s", rule.Name, rule.Trigger)
	}
	fee := domain.SuggestedFee{
		ID:        rule.ID,
		FeeRuleID: rule.ID,
		Name:      rule.Name,
		Amount:    rule.Amount,
		Reason:    reason,
		AutoAdded: rule.AutoAdded,
	}
	if unit != nil {
		fee.ID = rule.ID + "#" + unit.Unit.ID
		fee.UnitID = unit.Unit.ID
		fee.Reason = fmt.Sprintf("Unit %d: %s", unit.Unit.UnitNumber, reason)
	}
	return fee
}

// FeeTotal sums the amounts of the given fees.
func FeeTotal(fees []domain.SuggestedFee) float64 {
	var total float64
	for _, f := range fees {
		total += f.Amount
	}
	return total
}
