package rules

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"field-service-reports/internal/domain"
)

var _ = Describe("Rule evaluation scenarios", func() {
	It("requires crack evidence for fiberglass units", func() {
		rule := domain.AutomationRule{
			ID:             "fiberglass-crack",
			Trigger:        domain.When(domain.Equals{Field: "unit.material", Value: "fiberglass"}),
			RequiredFields: []string{"crack_photo"},
			Evidence:       map[string]domain.EvidenceSpec{"crack_photo": {MinPhotos: 1}},
		}

		req := EvaluateAutoRequirements(domain.FormData{"unit.material": "fiberglass"}, []domain.AutomationRule{rule}, nil)

		Expect(req.IsRequired("crack_photo")).To(BeTrue())
		Expect(req.EvidenceRequirements).To(HaveKeyWithValue("crack_photo", domain.EvidenceSpec{MinPhotos: 1}))
	})

	It("suggests one overflow fee per matching unit", func() {
		feeRule := domain.FeeRule{
			ID:        "overflow",
			Name:      "Overflow Fee",
			Trigger:   domain.When(domain.Equals{Field: "tank_level", Value: "overflow"}),
			Amount:    75,
			AutoAdded: true,
		}
		units := []domain.UnitData{
			{Unit: domain.Unit{ID: "tank-a", UnitNumber: 1}, Data: domain.FormData{"tank_level": "overflow"}},
			{Unit: domain.Unit{ID: "tank-b", UnitNumber: 2}, Data: domain.FormData{"tank_level": "normal"}},
			{Unit: domain.Unit{ID: "tank-c", UnitNumber: 3}, Data: domain.FormData{"tank_level": "overflow"}},
		}

		fees := EvaluateFeeSuggestions(domain.FormData{}, []domain.FeeRule{feeRule}, units)

		Expect(fees).To(HaveLen(2))
		unitIDs := map[string]struct{}{}
		for _, fee := range fees {
			Expect(fee.AutoAdded).To(BeTrue())
			Expect(fee.Amount).To(Equal(75.0))
			unitIDs[fee.UnitID] = struct{}{}
		}
		Expect(unitIDs).To(HaveLen(2))
		Expect(unitIDs).To(HaveKey("tank-a"))
		Expect(unitIDs).To(HaveKey("tank-c"))
	})

	It("reports only the unit that misses a rule-required field", func() {
		rule := domain.AutomationRule{
			ID:             "pumped-gallons",
			Trigger:        domain.When(domain.Equals{Field: "pumped", Value: true}),
			RequiredFields: []string{"gallons"},
		}
		units := []domain.UnitData{
			{Unit: domain.Unit{ID: "u0", UnitNumber: 1}, Data: domain.FormData{"pumped": true, "gallons": 750}},
			{Unit: domain.Unit{ID: "u1", UnitNumber: 2}, Data: domain.FormData{"pumped": true}},
		}

		errs := ValidateSubmit(ValidateInput{
			Rules:    []domain.AutomationRule{rule},
			Units:    units,
			UnitLoop: &domain.UnitLoopConfig{Enabled: true},
		})

		Expect(errs).To(HaveLen(1))
		Expect(errs[0].UnitIndex).NotTo(BeNil())
		Expect(*errs[0].UnitIndex).To(Equal(1))
		Expect(errs[0].FieldID).To(Equal("gallons"))
	})

	It("builds the same audit twice for the same inputs", func() {
		ruleSet := []domain.AutomationRule{{
			ID:          "overflow-followup",
			Name:        "Overflow follow-up",
			Trigger:     domain.When(domain.Equals{Field: "tank_level", Value: "overflow"}),
			AutoActions: []domain.AutoAction{{Type: domain.ActionCreateTask, Title: "Schedule re-pump"}},
		}}
		feeRules := []domain.FeeRule{{
			ID:        "overflow",
			Name:      "Overflow Fee",
			Trigger:   domain.When(domain.Equals{Field: "tank_level", Value: "overflow"}),
			Amount:    75,
			AutoAdded: true,
		}}
		units := []domain.UnitData{
			{Unit: domain.Unit{ID: "tank-a", UnitNumber: 1}, Data: domain.FormData{"tank_level": "overflow"}},
			{Unit: domain.Unit{ID: "tank-b", UnitNumber: 2, NotServiced: true}, Data: domain.FormData{"tank_level": "overflow"}},
		}

		first := CreateAutomationAudit(domain.FormData{}, ruleSet, feeRules, units)
		second := CreateAutomationAudit(domain.FormData{}, ruleSet, feeRules, units)

		Expect(first).To(Equal(second))
		Expect(first.RulesTriggered).To(HaveLen(1))
		Expect(first.RulesTriggered[0].UnitID).To(Equal("tank-a"))
		Expect(first.RulesTriggered[0].AutoActions).To(HaveLen(1))
		Expect(first.FeesSuggested).To(HaveLen(1))
		Expect(first.TasksCreated).To(BeEmpty())
	})
})
