package domain

import (
	"strings"
	"time"
)

// FormData is the loosely typed value bag a form section produces, keyed by field id.
type FormData map[string]any

// Lookup resolves a field id against the form data. Exact keys win, then dotted paths are
// walked through nested maps, and finally a leading "unit." is stripped so unit-scoped
// triggers can be evaluated against a unit's own sub-form.
func (f FormData) Lookup(field string) (any, bool) {
	if f == nil || field == "" {
		return nil, false
	}
	if v, ok := f[field]; ok {
		return v, true
	}
	if strings.Contains(field, ".") {
		if v, ok := lookupPath(map[string]any(f), strings.Split(field, ".")); ok {
			return v, true
		}
	}
	if rest, ok := strings.CutPrefix(field, "unit."); ok {
		return f.Lookup(rest)
	}
	return nil, false
}

// Clone returns a shallow copy safe to hand to another owner.
func (f FormData) Clone() FormData {
	if f == nil {
		return nil
	}
	out := make(FormData, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func lookupPath(m map[string]any, parts []string) (any, bool) {
	cur, ok := m[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return cur, true
	}
	switch next := cur.(type) {
	case map[string]any:
		return lookupPath(next, parts[1:])
	case FormData:
		return lookupPath(map[string]any(next), parts[1:])
	default:
		return nil, false
	}
}

type EvidenceSpec struct {
	MinPhotos   int  `json:"min_photos,omitempty"`
	GPSRequired bool `json:"gps_required,omitempty"`
}

type AutoAction struct {
	Type        AutoActionType `json:"type"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Assignee    string         `json:"assignee,omitempty"`
	Channel     string         `json:"channel,omitempty"`
	Recipient   string         `json:"recipient,omitempty"`
	Message     string         `json:"message,omitempty"`
}

// AutomationRule is one conditional policy unit of a template.
type AutomationRule struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name"`
	Description    string                  `json:"description,omitempty"`
	Trigger        Trigger                 `json:"trigger"`
	RequiredFields []string                `json:"required_fields,omitempty"`
	Evidence       map[string]EvidenceSpec `json:"evidence,omitempty"`
	AutoActions    []AutoAction            `json:"auto_actions,omitempty"`
}

type FeeRule struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Trigger     Trigger `json:"trigger"`
	Amount      float64 `json:"amount"`
	AutoAdded   bool    `json:"auto_added"`
}

type SuggestedFee struct {
	ID        string  `json:"id"`
	FeeRuleID string  `json:"fee_rule_id"`
	Name      string  `json:"name"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason"`
	AutoAdded bool    `json:"auto_added"`
	UnitID    string  `json:"unit_id,omitempty"`
}

type FeeDecision struct {
	FeeID         string          `json:"fee_id"`
	Decision      FeeDecisionType `json:"decision"`
	DismissReason string          `json:"dismiss_reason,omitempty"`
}

type ValidationError struct {
	Message   string `json:"message"`
	UnitIndex *int   `json:"unit_index,omitempty"`
	UnitID    string `json:"unit_id,omitempty"`
	FieldID   string `json:"field_id,omitempty"`
}

// IsGeneral reports whether the error belongs to the form as a whole rather than a unit.
func (e ValidationError) IsGeneral() bool {
	return e.UnitIndex == nil
}

type TriggeredRule struct {
	RuleID         string       `json:"rule_id"`
	RuleName       string       `json:"rule_name"`
	UnitID         string       `json:"unit_id,omitempty"`
	UnitIndex      *int         `json:"unit_index,omitempty"`
	RequiredFields []string     `json:"required_fields,omitempty"`
	AutoActions    []AutoAction `json:"auto_actions,omitempty"`
}

type AuditFee struct {
	SuggestedFee
	UserDecision  FeeDecisionType `json:"user_decision,omitempty"`
	DismissReason string          `json:"dismiss_reason,omitempty"`
}

type AuditTask struct {
	RuleID         string `json:"rule_id"`
	TaskID         string `json:"task_id"`
	Title          string `json:"title"`
	IdempotencyKey string `json:"idempotency_key"`
}

type AuditNotification struct {
	RuleID         string `json:"rule_id"`
	Channel        string `json:"channel"`
	Recipient      string `json:"recipient"`
	IdempotencyKey string `json:"idempotency_key"`
}

// AutomationAudit is the compliance record of which rules fired for a submission and what
// they caused. It is built once per attempt and not changed after the report is finalized.
type AutomationAudit struct {
	RulesTriggered    []TriggeredRule     `json:"rules_triggered"`
	FeesSuggested     []AuditFee          `json:"fees_suggested"`
	TasksCreated      []AuditTask         `json:"tasks_created"`
	NotificationsSent []AuditNotification `json:"notifications_sent"`
	CreatedAt         time.Time           `json:"created_at"`
	FinalizedAt       *time.Time          `json:"finalized_at,omitempty"`
}

// HasAction reports whether an auto-action with the given idempotency key already succeeded.
func (a AutomationAudit) HasAction(key string) bool {
	for _, t := range a.TasksCreated {
		if t.IdempotencyKey == key {
			return true
		}
	}
	for _, n := range a.NotificationsSent {
		if n.IdempotencyKey == key {
			return true
		}
	}
	return false
}

type Unit struct {
	ID          string `json:"id"`
	UnitNumber  int    `json:"unit_number"`
	UnitType    string `json:"unit_type,omitempty"`
	NotServiced bool   `json:"not_serviced,omitempty"`
}

type UnitData struct {
	Unit Unit     `json:"unit"`
	Data FormData `json:"data"`
}

type UnitLoopConfig struct {
	Enabled bool   `json:"enabled"`
	Units   []Unit `json:"units,omitempty"`
}

type FieldDef struct {
	ID       string     `json:"id"`
	Label    string     `json:"label,omitempty"`
	Required bool       `json:"required,omitempty"`
	Scope    FieldScope `json:"scope,omitempty"`
}

type DefaultValueRule struct {
	FieldID string   `json:"field_id"`
	Source  string   `json:"source,omitempty"`
	Value   any      `json:"value,omitempty"`
	When    *Trigger `json:"when,omitempty"`
}

type Template struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Fields       []FieldDef         `json:"fields,omitempty"`
	Rules        []AutomationRule   `json:"rules,omitempty"`
	FeeRules     []FeeRule          `json:"fee_rules,omitempty"`
	DefaultRules []DefaultValueRule `json:"default_rules,omitempty"`
	UnitLoop     *UnitLoopConfig    `json:"unit_loop,omitempty"`
}

// PerUnit reports whether the template repeats its unit sub-form once per unit.
func (t Template) PerUnit() bool {
	return t.UnitLoop != nil && t.UnitLoop.Enabled
}

type JobContext struct {
	JobID          string         `json:"job_id"`
	CustomerID     string         `json:"customer_id,omitempty"`
	CustomerName   string         `json:"customer_name,omitempty"`
	SiteAddress    string         `json:"site_address,omitempty"`
	TechnicianID   string         `json:"technician_id,omitempty"`
	TechnicianName string         `json:"technician_name,omitempty"`
	ScheduledAt    time.Time      `json:"scheduled_at,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

type Photo struct {
	ID          string    `json:"id"`
	FieldID     string    `json:"field_id"`
	UnitID      string    `json:"unit_id,omitempty"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"data,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// HasLocation reports whether the capture widget had a GPS lock for this photo.
func (p Photo) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}

type Signature struct {
	ID          string    `json:"id"`
	FieldID     string    `json:"field_id"`
	Signer      string    `json:"signer,omitempty"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"data,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// LocalReport is the single on-device record for a job: a freely overwritable draft or a
// submission-committed pending report waiting for the network.
type LocalReport struct {
	ID          string           `json:"id"`
	JobID       string           `json:"job_id"`
	TemplateID  string           `json:"template_id"`
	FormData    FormData         `json:"form_data"`
	Units       []UnitData       `json:"units,omitempty"`
	Photos      []Photo          `json:"photos,omitempty"`
	Signatures  []Signature      `json:"signatures,omitempty"`
	Status      ReportStatus     `json:"status"`
	Timestamp   time.Time        `json:"timestamp"`
	Audit       *AutomationAudit `json:"audit,omitempty"`
	AppliedFees []SuggestedFee   `json:"applied_fees,omitempty"`
}

type MediaRef struct {
	MediaID string    `json:"media_id"`
	Kind    MediaKind `json:"kind"`
	FieldID string    `json:"field_id,omitempty"`
	UnitID  string    `json:"unit_id,omitempty"`
	URL     string    `json:"url"`
}

type MediaUpload struct {
	JobID       string
	MediaID     string
	Kind        MediaKind
	FileName    string
	ContentType string
	Data        []byte
}

// ReportPayload is what the backend of record receives for a completed report.
type ReportPayload struct {
	JobID       string          `json:"job_id"`
	TemplateID  string          `json:"template_id"`
	FormData    FormData        `json:"form_data"`
	Units       []UnitData      `json:"units,omitempty"`
	Audit       AutomationAudit `json:"audit"`
	AppliedFees []SuggestedFee  `json:"applied_fees"`
	Media       []MediaRef      `json:"media"`
}

type TaskSpec struct {
	IdempotencyKey string `json:"idempotency_key"`
	JobID          string `json:"job_id"`
	RuleID         string `json:"rule_id"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Assignee       string `json:"assignee,omitempty"`
}

type NotificationSpec struct {
	IdempotencyKey string `json:"idempotency_key"`
	JobID          string `json:"job_id"`
	RuleID         string `json:"rule_id"`
	Channel        string `json:"channel"`
	Recipient      string `json:"recipient"`
	Message        string `json:"message"`
}

// StoredReport is the backend's view of a persisted report.
type StoredReport struct {
	ID          string             `json:"id"`
	JobID       string             `json:"job_id"`
	TemplateID  string             `json:"template_id"`
	Status      StoredReportStatus `json:"status"`
	Audit       AutomationAudit    `json:"audit"`
	AppliedFees []SuggestedFee     `json:"applied_fees"`
	Media       []MediaRef         `json:"media"`
	FinalizedAt *time.Time         `json:"finalized_at,omitempty"`
}

// AuditEntry is one flattened line of an automation audit as written to the audit log.
type AuditEntry struct {
	Seq            int            `json:"seq"`
	State          AuditState     `json:"state"`
	RuleID         string         `json:"rule_id,omitempty"`
	UnitID         string         `json:"unit_id,omitempty"`
	RequiredFields []string       `json:"required_fields,omitempty"`
	Detail         map[string]any `json:"detail,omitempty"`
}

// MediaObject is a media file the bucket has confirmed receiving.
type MediaObject struct {
	ObjectKey string `json:"object_key"`
	JobID     string `json:"job_id"`
	MediaID   string `json:"media_id"`
	FileName  string `json:"file_name"`
	EventName string `json:"event_name,omitempty"`
}
