package domain

type ReportStatus string

const (
	ReportStatusDraft   ReportStatus = "draft"
	ReportStatusPending ReportStatus = "pending"
)

type UnitStatus string

const (
	UnitNotStarted  UnitStatus = "not_started"
	UnitInProgress  UnitStatus = "in_progress"
	UnitCompleted   UnitStatus = "completed"
	UnitNotServiced UnitStatus = "not_serviced"
)

type JobStatus string

const (
	JobStatusScheduled  JobStatus = "scheduled"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
)

type StoredReportStatus string

const (
	StoredReportReceived  StoredReportStatus = "RECEIVED"
	StoredReportFinalized StoredReportStatus = "FINALIZED"
)

type AuditState string

const (
	AuditRuleTriggered    AuditState = "RULE_TRIGGERED"
	AuditFeeApplied       AuditState = "FEE_APPLIED"
	AuditFeeDismissed     AuditState = "FEE_DISMISSED"
	AuditTaskCreated      AuditState = "TASK_CREATED"
	AuditNotificationSent AuditState = "NOTIFICATION_SENT"
	AuditFinalized        AuditState = "FINALIZED"
)

type FeeDecisionType string

const (
	FeeApplied   FeeDecisionType = "applied"
	FeeDismissed FeeDecisionType = "dismissed"
)

type AutoActionType string

const (
	ActionCreateTask       AutoActionType = "create_task"
	ActionSendNotification AutoActionType = "send_notification"
)

type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaSignature MediaKind = "signature"
)

type FieldScope string

const (
	ScopeForm FieldScope = "form"
	ScopeUnit FieldScope = "unit"
)
