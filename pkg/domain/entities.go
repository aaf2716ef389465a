// Package domain defines the persistent entities, value types, and rule
// evaluation primitives used by the copilot service.
package domain

import (
	"fmt"
	"slices"
	"time"
)

// EntityType identifies the type of record stored in the domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityUser identifies a user account record.
	EntityUser EntityType = "user"
	// EntityMopFile identifies an uploaded procedure document.
	EntityMopFile EntityType = "mop_file"
	// EntityPipeline identifies a pipeline derived from a procedure document.
	EntityPipeline EntityType = "pipeline"
	// EntityPipelineStep identifies an ordered step inside a pipeline.
	EntityPipelineStep EntityType = "pipeline_step"
	// EntityPipelineExecution identifies a (simulated) pipeline run.
	EntityPipelineExecution EntityType = "pipeline_execution"
	// EntitySharedPipeline identifies a share grant between two users.
	EntitySharedPipeline EntityType = "shared_pipeline"
	EntityTeamMember     EntityType = "team_member"
	// EntityIntegrationSettings identifies per-user CI and SCM settings.
	EntityIntegrationSettings EntityType = "integration_settings"
)

// PipelineStatus enumerates pipeline lifecycle states.
type PipelineStatus string

// Canonical pipeline statuses.
const (
	PipelineStatusDraft    PipelineStatus = "draft"
	PipelineStatusActive   PipelineStatus = "active"
	PipelineStatusArchived PipelineStatus = "archived"
)

// Valid reports whether the status is one of the canonical values.
func (s PipelineStatus) Valid() bool {
	switch s {
	case PipelineStatusDraft, PipelineStatusActive, PipelineStatusArchived:
		return true
	}
	return false
}

// ExecutionStatus enumerates execution lifecycle states.
type ExecutionStatus string

// Canonical execution statuses.
const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// SharePermission enumerates the access granted by a share.
type SharePermission string

// Share permission levels.
const (
	SharePermissionView SharePermission = "view"
	SharePermissionEdit SharePermission = "edit"
)

// Valid reports whether the permission is recognised.
func (p SharePermission) Valid() bool {
	return p == SharePermissionView || p == SharePermissionEdit
}

// TeamRole enumerates team member roles.
type TeamRole string

// Team roles.
const (
	TeamRoleAdmin     TeamRole = "admin"
	TeamRoleDeveloper TeamRole = "developer"
	TeamRoleViewer    TeamRole = "viewer"
)

// Valid reports whether the role is recognised.
func (r TeamRole) Valid() bool {
	switch r {
	case TeamRoleAdmin, TeamRoleDeveloper, TeamRoleViewer:
		return true
	}
	return false
}

// Severity captures rule violation severity.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// User is an account able to own documents and pipelines.
type User struct {
	Base
	Username  string `json:"username"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
}

// MopFile is an uploaded Manual Operating Procedure document. Content holds
// the raw text used for segmentation and is never rewritten after upload.
type MopFile struct {
	Base
	UserID      int64  `json:"userId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
	BlobKey     string `json:"blobKey,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// Pipeline is a runnable definition derived from a MOP file.
type Pipeline struct {
	Base
	UserID      int64          `json:"userId"`
	MopFileID   int64          `json:"mopFileId"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      PipelineStatus `json:"status"`
	Config      PipelineConfig `json:"config"`
}

// PipelineStep is one ordered unit of work inside a pipeline.
type PipelineStep struct {
	Base
	PipelineID int64          `json:"pipelineId"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Config     map[string]any `json:"config"`
	Position   int            `json:"position"`
}

// PipelineExecution records a single run of a pipeline.
type PipelineExecution struct {
	Base
	PipelineID  int64           `json:"pipelineId"`
	Status      ExecutionStatus `json:"status"`
	Logs        string          `json:"logs,omitempty"`
	Results     map[string]any  `json:"results,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// SharedPipeline grants another user access to a pipeline. At most one share
// exists for a given pipeline and recipient.
type SharedPipeline struct {
	Base
	PipelineID       int64           `json:"pipelineId"`
	SharedByUserID   int64           `json:"sharedById"`
	SharedWithUserID int64           `json:"sharedWithId"`
	Permissions      SharePermission `json:"permissions"`
}

// TeamMember lists a collaborator of the owning user.
type TeamMember struct {
	Base
	UserID int64    `json:"userId"`
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Role   TeamRole `json:"role"`
}

// DefaultGitHubBranch is used when integration settings leave the branch empty.
const DefaultGitHubBranch = "main"

// IntegrationSettings stores CI server and repository credentials for a user.
// The record is keyed by UserID; Base.ID mirrors it.
type IntegrationSettings struct {
	Base
	UserID             int64  `json:"userId"`
	JenkinsURL         string `json:"jenkinsUrl"`
	JenkinsUsername    string `json:"jenkinsUsername"`
	JenkinsToken       string `json:"jenkinsToken"`
	JenkinsJobTemplate string `json:"jenkinsJobTemplate"`
	GitHubURL          string `json:"githubUrl"`
	GitHubUsername     string `json:"githubUsername"`
	GitHubToken        string `json:"githubToken"`
	GitHubRepository   string `json:"githubRepository"`
	GitHubBranch       string `json:"githubBranch"`
}

// Change describes a mutation applied to an entity.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int64
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking reports whether any violation aborts the transaction.
func (r Result) HasBlocking() bool {
	return slices.ContainsFunc(r.Violations, func(v Violation) bool { return v.Severity == SeverityBlock })
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock && v.Message != "" {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}

// ErrNotFound reports a missing entity.
type ErrNotFound struct {
	Entity EntityType
	ID     int64
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}
