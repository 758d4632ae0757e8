package submissions

import (
	"time"

	"gorm.io/datatypes"
)

// Submission is one submitter's data for a form, keyed by the client generated uuid.
// Delivered only ever moves from false to true.
type Submission struct {
	ID             uint           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	FormID         uint           `gorm:"column:form_id;not null;index:idx_submissions_form_id" json:"form_id"`
	SubmissionUUID string         `gorm:"column:submission_uuid;size:36;not null;uniqueIndex:idx_submission_uuid" json:"submission_uuid"`
	PageNumber     int            `gorm:"column:page_number;not null;default:1;index:idx_submissions_page_number" json:"page_number"`
	FormData       datatypes.JSON `gorm:"column:form_data;not null" json:"form_data"`
	Delivered      bool           `gorm:"column:delivered;not null;default:false" json:"delivered"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;index:idx_submissions_created_at;autoCreateTime:false" json:"created_at"`
}

func (Submission) TableName() string {
	return "form_builder_submissions"
}

// WebhookLog records a single relay attempt. Rows are never updated.
type WebhookLog struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SubmissionID *uint     `gorm:"column:submission_id" json:"submission_id,omitempty"`
	FormID       uint      `gorm:"column:form_id;not null;index:idx_webhook_logs_form_page,priority:1" json:"form_id"`
	PageNumber   int       `gorm:"column:page_number;not null;index:idx_webhook_logs_form_page,priority:2" json:"page_number"`
	WebhookURL   string    `gorm:"column:webhook_url;size:500;not null" json:"webhook_url"`
	StatusCode   *int      `gorm:"column:response_code" json:"response_code,omitempty"`
	ResponseMS   *int64    `gorm:"column:response_time_ms" json:"response_time_ms,omitempty"`
	ErrorMessage *string   `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index:idx_webhook_logs_created_at;autoCreateTime:false" json:"created_at"`
}

func (WebhookLog) TableName() string {
	return "form_builder_webhook_logs"
}

// Row is a submission joined with the owning form's name and slug. Both are
// empty when the form has since been deleted.
type Row struct {
	Submission `gorm:"embedded"`
	FormName   string `gorm:"column:form_name" json:"form_name"`
	FormSlug   string `gorm:"column:form_slug" json:"form_slug"`
}

// Filter narrows List results. Zero values disable a criterion.
type Filter struct {
	FormID   uint
	DateFrom time.Time
	DateTo   time.Time
	Search   string
	Page     int
	PerPage  int
}

type ListResult struct {
	Submissions []Row `json:"submissions"`
	Total       int64 `json:"total"`
	Page        int   `json:"page"`
	PerPage     int   `json:"per_page"`
}
