// Package types holds the entities of the data model, shared by storage,
// queue, events, and the HTTP layer. Every entity except Workspace carries
// a WorkspaceID, the tenancy key described in the data model.
package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Role is a user's privilege level within its home workspace.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// Workspace is the tenant boundary. Never deleted, only marked inactive.
type Workspace struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Plan      string    `db:"plan" json:"plan"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// User is a principal acting within exactly one workspace.
type User struct {
	ID           string    `db:"id" json:"id"`
	WorkspaceID  string    `db:"workspace_id" json:"workspace_id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         Role      `db:"role" json:"role"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Subject is the authenticated caller attached to every request-scoped call.
// It is a plain value, never a hidden global — every Repository and service
// method takes it explicitly as the first argument.
type Subject struct {
	UserID      string
	WorkspaceID string
	Role        Role
	SessionID   string
}

// Session is a refresh-token rotation-chain link.
type Session struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	WorkspaceID      string     `db:"workspace_id" json:"workspace_id"`
	RefreshTokenHash string     `db:"refresh_token_hash" json:"-"`
	IssuedAt         time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt        time.Time  `db:"expires_at" json:"expires_at"`
	Revoked          bool       `db:"revoked" json:"revoked"`
	ParentSessionID  *string    `db:"parent_session_id" json:"parent_session_id,omitempty"`
}

// DocumentStatus is the lifecycle of an uploaded source artifact.
type DocumentStatus string

const (
	DocumentPending DocumentStatus = "pending"
	DocumentReady   DocumentStatus = "ready"
	DocumentFailed  DocumentStatus = "failed"
)

// Document is uploaded source-artifact metadata; the bytes live in BlobStore.
type Document struct {
	ID               string         `db:"id" json:"id"`
	WorkspaceID      string         `db:"workspace_id" json:"workspace_id"`
	UserID           string         `db:"user_id" json:"user_id"`
	Title            string         `db:"title" json:"title"`
	OriginalFilename string         `db:"original_filename" json:"original_filename"`
	ContentType      string         `db:"content_type" json:"content_type"`
	BlobRef          string         `db:"blob_ref" json:"blob_ref"`
	ContentHash      string         `db:"content_hash" json:"content_hash"`
	Status           DocumentStatus `db:"status" json:"status"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
	DeletedAt        *time.Time     `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TransformationKind enumerates the supported AI conversions.
type TransformationKind string

const (
	KindBlogPost      TransformationKind = "blog_post"
	KindSocialMedia   TransformationKind = "social_media"
	KindEmailSequence TransformationKind = "email_sequence"
	KindNewsletter    TransformationKind = "newsletter"
	KindSummary       TransformationKind = "summary"
	KindCustom        TransformationKind = "custom"
)

// TransformationStatus is the job lifecycle state.
type TransformationStatus string

const (
	TransformationPending   TransformationStatus = "pending"
	TransformationRunning   TransformationStatus = "running"
	TransformationCompleted TransformationStatus = "completed"
	TransformationFailed    TransformationStatus = "failed"
	TransformationCancelled TransformationStatus = "cancelled"
)

// Params is a shallow, JSON-serializable parameter bag, stored as jsonb.
type Params map[string]interface{}

// Value implements driver.Valuer so sqlx can write a Params map as jsonb.
func (p Params) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner so sqlx can read a jsonb column into Params.
func (p *Params) Scan(src interface{}) error {
	if src == nil {
		*p = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for Params", src)
	}
	if len(raw) == 0 {
		*p = nil
		return nil
	}
	return json.Unmarshal(raw, p)
}

// Transformation is one AI conversion job.
type Transformation struct {
	ID            string               `db:"id" json:"id"`
	WorkspaceID   string               `db:"workspace_id" json:"workspace_id"`
	UserID        string               `db:"user_id" json:"user_id"`
	DocumentID    *string              `db:"document_id" json:"document_id,omitempty"`
	Kind          TransformationKind   `db:"kind" json:"kind"`
	Parameters    Params               `db:"parameters" json:"parameters"`
	Status        TransformationStatus `db:"status" json:"status"`
	Result        *string              `db:"result" json:"result,omitempty"`
	ErrorReason   *string              `db:"error_reason" json:"error_reason,omitempty"`
	ProviderUsed  *string              `db:"provider_used" json:"provider_used,omitempty"`
	TokensUsed    *int64               `db:"tokens_used" json:"tokens_used,omitempty"`
	Attempts      int                  `db:"attempts" json:"attempts"`
	PresetID      *string              `db:"preset_id" json:"preset_id,omitempty"`
	CreatedAt     time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time            `db:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time           `db:"completed_at" json:"completed_at,omitempty"`
}

// Terminal reports whether the status cannot transition further.
func (s TransformationStatus) Terminal() bool {
	switch s {
	case TransformationCompleted, TransformationFailed, TransformationCancelled:
		return true
	default:
		return false
	}
}

// Preset is a reusable transformation-parameter template.
type Preset struct {
	ID          string             `db:"id" json:"id"`
	WorkspaceID string             `db:"workspace_id" json:"workspace_id"`
	UserID      string             `db:"user_id" json:"user_id"`
	Name        string             `db:"name" json:"name"`
	Description *string            `db:"description" json:"description,omitempty"`
	Kind        TransformationKind `db:"kind" json:"kind"`
	Parameters  Params             `db:"parameters" json:"parameters"`
	IsShared    bool               `db:"is_shared" json:"is_shared"`
	UsageCount  int64              `db:"usage_count" json:"usage_count"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `db:"updated_at" json:"updated_at"`
}

// QueuedTask is the durable enqueue record consumed by the TaskQueue.
type QueuedTask struct {
	ID               string     `db:"id" json:"id"`
	WorkspaceID      string     `db:"workspace_id" json:"workspace_id"`
	Attempts         int        `db:"attempts" json:"attempts"`
	NotBefore        time.Time  `db:"not_before" json:"not_before"`
	ClaimOwner       *string    `db:"claim_owner" json:"claim_owner,omitempty"`
	ClaimExpiresAt   *time.Time `db:"claim_expires_at" json:"claim_expires_at,omitempty"`
	Payload          []byte     `db:"payload" json:"-"`
	CancelRequested  bool       `db:"cancel_requested" json:"cancel_requested"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// EventKind enumerates the EventEnvelope.Kind values carried on the bus.
type EventKind string

const (
	EventTransformationStarted  EventKind = "transformation.started"
	EventTransformationProgress EventKind = "transformation.progress"
	EventTransformationComplete EventKind = "transformation.completed"
	EventTransformationFailed   EventKind = "transformation.failed"
	EventPresenceJoin           EventKind = "presence.join"
	EventPresenceLeave          EventKind = "presence.leave"
	EventPresenceGossip         EventKind = "presence.gossip"
	EventWorkspaceMessage       EventKind = "workspace.message"
)

// EventEnvelope is the wire format of the EventBus.
type EventEnvelope struct {
	Topic             string                 `json:"topic"`
	Kind              EventKind              `json:"kind"`
	Payload           map[string]interface{} `json:"payload"`
	OriginInstanceID  string                 `json:"origin_instance_id"`
	EmittedAt         time.Time              `json:"emitted_at"`
}

// TaskPayload is the serialized job input carried by a QueuedTask.
type TaskPayload struct {
	TransformationID string `json:"transformation_id"`
	WorkspaceID      string `json:"workspace_id"`
	Kind             TransformationKind `json:"kind"`
}
