package rules

import (
	"field-service-reports/internal/domain"
)

const dateLayout = "2006-01-02"

// EvaluateDefaultValues computes field defaults from the job, customer and technician context.
// The first rule for a field wins. Values in existingDraft always override computed defaults so
// a resumed draft is never clobbered.
func EvaluateDefaultValues(job domain.JobContext, defaultRules []domain.DefaultValueRule, existingDraft domain.FormData) domain.FormData {
	ctx := jobContextData(job)
	out := make(domain.FormData)
	for _, rule := range defaultRules {
		if rule.FieldID == "" {
			continue
		}
		if _, done := out[rule.FieldID]; done {
			continue
		}
		if rule.When != nil && !rule.When.Matches(ctx) {
			continue
		}
		if v, ok := resolveDefault(rule, ctx); ok {
			out[rule.FieldID] = v
		}
	}
	for field, v := range existingDraft {
		out[field] = v
	}
	return out
}

func resolveDefault(rule domain.DefaultValueRule, ctx domain.FormData) (any, bool) {
	if rule.Source != "" {
		v, ok := ctx.Lookup(rule.Source)
		if !ok || domain.IsEmptyValue(v) {
			return nil, false
		}
		return v, true
	}
	if rule.Value != nil {
		return rule.Value, true
	}
	return nil, false
}

func jobContextData(job domain.JobContext) domain.FormData {
	jobData := map[string]any{
		"id":           job.JobID,
		"site_address": job.SiteAddress,
	}
	if !job.ScheduledAt.IsZero() {
		jobData["scheduled_date"] = job.ScheduledAt.Format(dateLayout)
	}
	if len(job.Attributes) > 0 {
		jobData["attributes"] = job.Attributes
	}
	return domain.FormData{
		"job": jobData,
		"customer": map[string]any{
			"id":   job.CustomerID,
			"name": job.CustomerName,
		},
		"technician": map[string]any{
			"id":   job.TechnicianID,
			"name": job.TechnicianName,
		},
	}
}
