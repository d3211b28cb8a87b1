package submission

import (
	"context"

	log "github.com/sirupsen/logrus"

	"field-service-reports/internal/domain"
	"field-service-reports/internal/rules"
)

// executeActions runs the auto-actions of every triggered rule in order and appends the ones
// that succeed to audit. An action whose idempotency key is already in the audit is skipped,
// as is the second firing of a rule for another unit. It reports whether anything was added.
func executeActions(ctx context.Context, exec ActionExecutor, jobID string, audit *domain.AutomationAudit) bool {
	seen := make(map[string]struct{})
	added := false
	for _, tr := range audit.RulesTriggered {
		for idx, action := range tr.AutoActions {
			key := rules.ActionKey(jobID, tr.RuleID, idx)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if audit.HasAction(key) {
				continue
			}

			entry := log.WithFields(log.Fields{
				"job_id":          jobID,
				"rule_id":         tr.RuleID,
				"action":          action.Type,
				"idempotency_key": key,
			})
			if exec == nil {
				entry.Warn("no action executor configured, skipping auto-action")
				continue
			}

			switch action.Type {
			case domain.ActionCreateTask:
				taskID, err := exec.CreateTask(ctx, domain.TaskSpec{
					IdempotencyKey: key,
					JobID:          jobID,
					RuleID:         tr.RuleID,
					Title:          action.Title,
					Description:    action.Description,
					Assignee:       action.Assignee,
				})
				if err != nil {
					entry.WithError(err).Warn("auto-action failed, continuing")
					continue
				}
				audit.TasksCreated = append(audit.TasksCreated, domain.AuditTask{
					RuleID:         tr.RuleID,
					TaskID:         taskID,
					Title:          action.Title,
					IdempotencyKey: key,
				})
				added = true
			case domain.ActionSendNotification:
				err := exec.SendNotification(ctx, domain.NotificationSpec{
					IdempotencyKey: key,
					JobID:          jobID,
					RuleID:         tr.RuleID,
					Channel:        action.Channel,
					Recipient:      action.Recipient,
					Message:        action.Message,
				})
				if err != nil {
					entry.WithError(err).Warn("auto-action failed, continuing")
					continue
				}
				audit.NotificationsSent = append(audit.NotificationsSent, domain.AuditNotification{
					RuleID:         tr.RuleID,
					Channel:        action.Channel,
					Recipient:      action.Recipient,
					IdempotencyKey: key,
				})
				added = true
			default:
				entry.Warn("unknown auto-action type, skipping")
			}
		}
	}
	return added
}
