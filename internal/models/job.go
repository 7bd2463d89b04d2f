package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Generation job status enums. completed and failed are terminal: once
// set they are never overwritten, no matter how many polls or callbacks
// report afterwards.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// IsTerminalStatus reports whether s permits no further transitions.
func IsTerminalStatus(s string) bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type GenerationJob struct {
	ID               uuid.UUID       `json:"id"`
	AccountID        uuid.UUID       `json:"account_id"`
	ExternalTaskID   *string         `json:"external_task_id,omitempty"`
	Model            string          `json:"model"`
	Prompt           string          `json:"prompt"`
	AspectRatio      string          `json:"aspect_ratio"`
	Resolution       string          `json:"resolution,omitempty"`
	OutputCount      int             `json:"output_count"`
	PresetID         *string         `json:"preset_id,omitempty"`
	SourceImageRef   *string         `json:"source_image_ref,omitempty"`
	Status           string          `json:"status"`
	Images           []string        `json:"images,omitempty"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	// TokensCost is the price computed at submission; TokensCharged is
	// what was actually debited (zero until the charge happens, and the
	// exact amount a failure refund restores).
	TokensCost       int64           `json:"tokens_cost"`
	TokensCharged    int64           `json:"tokens_charged"`
	ProviderMetadata json.RawMessage `json:"provider_metadata,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}
