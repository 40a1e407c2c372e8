package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Status is the closed set of states a GenerationJob can occupy. PENDING and
// RUNNING are the only non-terminal statuses; next_poll_at is only
// meaningful while a job is in one of those two.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusTimeout   Status = "TIMEOUT"
	StatusCanceled  Status = "CANCELED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimeout, StatusCanceled:
		return true
	default:
		return false
	}
}

// Error codes surfaced on GenerationJob.LastErrorCode and at the HTTP boundary.
const (
	ErrRateLimited           = "RATE_LIMITED"
	ErrInvalidParams         = "INVALID_PARAMS"
	ErrProviderServerError   = "PROVIDER_SERVER_ERROR"
	ErrJobNotFound           = "JOB_NOT_FOUND"
	ErrNetworkError          = "NETWORK_ERROR"
	ErrInvalidResponse       = "INVALID_RESPONSE"
	ErrProviderFailed        = "PROVIDER_FAILED"
	ErrTimeout               = "TIMEOUT"
	ErrInternal              = "INTERNAL_ERROR"
	ErrMissingIdempotencyKey = "MISSING_IDEMPOTENCY_KEY"
	ErrNotFound              = "NOT_FOUND"
)

// ToolType is the closed set of generation kinds an Option can carry.
type ToolType string

const (
	ToolTextToImage  ToolType = "text_to_image"
	ToolTextToVideo  ToolType = "text_to_video"
	ToolImageToVideo ToolType = "image_to_video"
	ToolSpeak        ToolType = "speak"
)

// Option is a candidate generation choice offered to the user upstream of
// this service (by the chat/recommender layer). It is read-only from this
// service's perspective; Parameters carries whatever the provider call needs.
type Option struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	UserID              uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	MessageID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"message_id"`
	Rank                int            `gorm:"not null;default:0" json:"rank"`
	ToolType            ToolType       `gorm:"not null" json:"tool_type"`
	ModelKey            string         `gorm:"not null" json:"model_key"`
	StyleID             *string        `json:"style_id,omitempty"`
	EnhancedPrompt      string         `gorm:"type:text;not null" json:"enhanced_prompt"`
	Parameters          datatypes.JSON `gorm:"type:jsonb" json:"parameters,omitempty"`
	RequiresAttachment  bool           `gorm:"not null;default:false" json:"requires_attachment"`
	CreatedAt           time.Time      `json:"created_at"`
}

func (Option) TableName() string { return "option" }

// GenerationJob tracks a single background generation request end to end:
// provider dispatch, adaptive polling, and the terminal outcome delivered to
// the client over SSE.
type GenerationJob struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()" json:"id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	OptionID       uuid.UUID `gorm:"type:uuid;not null;index" json:"option_id"`
	IdempotencyKey string    `gorm:"not null" json:"idempotency_key"`
	TraceID        string    `gorm:"index" json:"trace_id,omitempty"`

	// ToolType and ModelKey are copied from the Option at creation time so
	// terminal-status metrics can be labeled without re-reading a row that
	// may since have been deleted upstream.
	ToolType ToolType `gorm:"not null" json:"tool_type"`
	ModelKey string   `gorm:"not null" json:"model_key"`

	Status   Status `gorm:"not null;index" json:"status"`
	Progress int    `gorm:"not null;default:0" json:"progress"`
	Attempts int    `gorm:"not null;default:0" json:"attempts"`

	ProviderJobSetID *string `gorm:"uniqueIndex:idx_generation_job_provider_set_id" json:"provider_job_set_id,omitempty"`

	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
	NextPollAt   *time.Time `gorm:"index" json:"next_poll_at,omitempty"`
	TimeoutAt    time.Time  `gorm:"not null" json:"timeout_at"`

	OutputURLs datatypes.JSON `gorm:"type:jsonb" json:"output_urls,omitempty"`

	LastErrorCode    string `json:"last_error_code,omitempty"`
	LastErrorMessage string `gorm:"type:text" json:"last_error_message,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (GenerationJob) TableName() string { return "generation_job" }

// Waiting reports whether the job should still be polled by the scheduler.
func (j *GenerationJob) Waiting() bool {
	return j != nil && !j.Status.Terminal()
}
