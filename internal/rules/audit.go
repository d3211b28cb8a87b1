package rules

import (
	"errors"
	"fmt"
	"strings"

	"field-service-reports/internal/domain"
)

var (
	// ErrDismissReasonRequired is returned when an auto-added fee is dismissed without a reason.
	ErrDismissReasonRequired = errors.New("dismissing an auto-added fee requires a reason")
	ErrUnknownFee            = errors.New("decision references an unknown fee")
	ErrInvalidDecision       = errors.New("invalid fee decision")
)

// CreateAutomationAudit records which rules fired and which fees were suggested for the given
// form state. The result depends only on its inputs; CreatedAt is left for the caller to stamp.
func CreateAutomationAudit(formData domain.FormData, ruleSet []domain.AutomationRule, feeRules []domain.FeeRule, units []domain.UnitData) domain.AutomationAudit {
	audit := domain.AutomationAudit{
		RulesTriggered:    make([]domain.TriggeredRule, 0),
		FeesSuggested:     make([]domain.AuditFee, 0),
		TasksCreated:      make([]domain.AuditTask, 0),
		NotificationsSent: make([]domain.AuditNotification, 0),
	}

	for _, rule := range EvaluateAutoRequirements(formData, ruleSet, nil).TriggeredRules {
		audit.RulesTriggered = append(audit.RulesTriggered, triggered(rule, nil, ""))
	}
	for i, u := range units {
		if u.Unit.NotServiced {
			continue
		}
		idx := i
		for _, rule := range EvaluateAutoRequirements(u.Data, ruleSet, nil).TriggeredRules {
			audit.RulesTriggered = append(audit.RulesTriggered, triggered(rule, &idx, u.Unit.ID))
		}
	}
	for _, fee := range EvaluateFeeSuggestions(formData, feeRules, units) {
		audit.FeesSuggested = append(audit.FeesSuggested, domain.AuditFee{SuggestedFee: fee})
	}
	return audit
}

func triggered(rule domain.AutomationRule, unitIndex *int, unitID string) domain.TriggeredRule {
	return domain.TriggeredRule{
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		UnitID:         unitID,
		UnitIndex:      unitIndex,
		RequiredFields: append([]string(nil), rule.RequiredFields...),
		AutoActions:    append([]domain.AutoAction(nil), rule.AutoActions...),
	}
}

// ApplyFeeDecisions annotates every suggested fee with the user's decision and returns the
// annotated audit together with the fees that were applied. Fees without a decision keep their
// preselection: auto-added fees are applied, others dismissed.
func ApplyFeeDecisions(audit domain.AutomationAudit, decisions []domain.FeeDecision) (domain.AutomationAudit, []domain.SuggestedFee, error) {
	byID := make(map[string]domain.FeeDecision, len(decisions))
	known := make(map[string]struct{}, len(audit.FeesSuggested))
	for _, f := range audit.FeesSuggested {
		known[f.ID] = struct{}{}
	}
	for _, d := range decisions {
		if _, ok := known[d.FeeID]; !ok {
			return audit, nil, fmt.Errorf("%w: %s", ErrUnknownFee, d.FeeID)
		}
		if d.Decision != domain.FeeApplied && d.Decision != domain.FeeDismissed {
			return audit, nil, fmt.Errorf("%w: %q for fee %s", ErrInvalidDecision, d.Decision, d.FeeID)
		}
		byID[d.FeeID] = d
	}

	out := audit
	out.FeesSuggested = make([]domain.AuditFee, 0, len(audit.FeesSuggested))
	applied := make([]domain.SuggestedFee, 0)
	for _, f := range audit.FeesSuggested {
		d, ok := byID[f.ID]
		if !ok {
			d = domain.FeeDecision{FeeID: f.ID, Decision: domain.FeeDismissed}
			if f.AutoAdded {
				d.Decision = domain.FeeApplied
			}
		}
		reason := strings.TrimSpace(d.DismissReason)
		if d.Decision == domain.FeeDismissed && f.AutoAdded && reason == "" {
			return audit, nil, fmt.Errorf("%w: %s", ErrDismissReasonRequired, f.ID)
		}

		annotated := domain.AuditFee{SuggestedFee: f.SuggestedFee, UserDecision: d.Decision}
		if d.Decision == domain.FeeDismissed {
			annotated.DismissReason = reason
		} else {
			applied = append(applied, f.SuggestedFee)
		}
		out.FeesSuggested = append(out.FeesSuggested, annotated)
	}
	return out, applied, nil
}

// ActionKey is the idempotency key of one auto-action of a rule for a job.
func ActionKey(jobID, ruleID string, actionIndex int) string {
	return fmt.Sprintf("%s:%s:%d", jobID, ruleID, actionIndex)
}

// AuditEntries flattens an audit into ordered log lines. The sequence numbers are stable for a
// given audit so repeated writes of the same audit collapse onto the same rows.
func AuditEntries(audit domain.AutomationAudit) []domain.AuditEntry {
	entries := make([]domain.AuditEntry, 0, len(audit.RulesTriggered)+len(audit.FeesSuggested)+len(audit.TasksCreated)+len(audit.NotificationsSent))
	next := func(e domain.AuditEntry) {
		e.Seq = len(entries) + 1
		entries = append(entries, e)
	}

	for _, r := range audit.RulesTriggered {
		detail := map[string]any{"rule_name": r.RuleName}
		if r.UnitIndex != nil {
			detail["unit_index"] = *r.UnitIndex
		}
		next(domain.AuditEntry{State: domain.AuditRuleTriggered, RuleID: r.RuleID, UnitID: r.UnitID, RequiredFields: r.RequiredFields, Detail: detail})
	}
	for _, f := range audit.FeesSuggested {
		state := domain.AuditFeeApplied
		if f.UserDecision == domain.FeeDismissed {
			state = domain.AuditFeeDismissed
		}
		detail := map[string]any{
			"fee_id":     f.ID,
			"name":       f.Name,
			"amount":     f.Amount,
			"auto_added": f.AutoAdded,
			"reason":     f.Reason,
		}
		if f.DismissReason != "" {
			detail["dismiss_reason"] = f.DismissReason
		}
		next(domain.AuditEntry{State: state, RuleID: f.FeeRuleID, UnitID: f.UnitID, Detail: detail})
	}
	for _, t := range audit.TasksCreated {
		next(domain.AuditEntry{State: domain.AuditTaskCreated, RuleID: t.RuleID, Detail: map[string]any{
			"task_id":         t.TaskID,
			"title":           t.Title,
			"idempotency_key": t.IdempotencyKey,
		}})
	}
	for _, n := range audit.NotificationsSent {
		next(domain.AuditEntry{State: domain.AuditNotificationSent, RuleID: n.RuleID, Detail: map[string]any{
			"channel":         n.Channel,
			"recipient":       n.Recipient,
			"idempotency_key": n.IdempotencyKey,
		}})
	}
	return entries
}
