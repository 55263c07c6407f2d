package domain

// Status values for each entity kind. Kept as plain strings so they survive
// the wire and the database without conversion layers.
const (
	TaskStatusNew        = "new"
	TaskStatusReady      = "ready"
	TaskStatusInProgress = "in_progress"
	TaskStatusBlocked    = "blocked"
	TaskStatusReview     = "review"
	TaskStatusDone       = "done"
	TaskStatusDropped    = "dropped"

	ProjectStatusDiscovery = "discovery"
	ProjectStatusActive    = "active"
	ProjectStatusPaused    = "paused"
	ProjectStatusClosed    = "closed"

	SprintStatusPlanned = "planned"
	SprintStatusActive  = "active"
	SprintStatusClosed  = "closed"

	ActionListStatusOpen   = "open"
	ActionListStatusClosed = "closed"
)

// TaskStatuses lists every valid task status.
var TaskStatuses = []string{
	TaskStatusNew, TaskStatusReady, TaskStatusInProgress,
	TaskStatusBlocked, TaskStatusReview, TaskStatusDone, TaskStatusDropped,
}

// ValidTaskStatus reports whether s names a task status.
func ValidTaskStatus(s string) bool {
	for _, v := range TaskStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// BaseRecord is the capability set shared by every entity: identity, a
// monotonically increasing version token, and timestamps. Concrete types
// implement it by composition, not by embedding a base struct.
type BaseRecord interface {
	RecordID() string
	RecordVersion() int64
	CreatedTime() string
	UpdatedTime() string
}

type Task struct {
	ID                 string  `json:"id"`
	ProjectID          string  `json:"project_id"`
	SprintID           *string `json:"sprint_id,omitempty"`
	ParentID           *string `json:"parent_id,omitempty"`
	Title              string  `json:"title"`
	Status             string  `json:"status" enum:"new,ready,in_progress,blocked,review,done,dropped"`
	Priority           *int    `json:"priority,omitempty"`
	Version            int64   `json:"version"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
	DeletedAt          *string `json:"deleted_at,omitempty" format:"date-time"`
	DeletionNote       *string `json:"deletion_note,omitempty"`
	ParentDeletedAt    *string `json:"parent_deleted_at,omitempty" format:"date-time"`
	ParentDeletionNote *string `json:"parent_deletion_note,omitempty"`
}

func (t Task) RecordID() string     { return t.ID }
func (t Task) RecordVersion() int64 { return t.Version }
func (t Task) CreatedTime() string  { return t.CreatedAt }
func (t Task) UpdatedTime() string  { return t.UpdatedAt }

// Terminal reports whether the task can never change status again.
func (t Task) Terminal() bool {
	return t.Status == TaskStatusDone || t.Status == TaskStatusDropped
}

type Project struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status" enum:"discovery,active,paused,closed"`
	Version      int64   `json:"version"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
	DeletedAt    *string `json:"deleted_at,omitempty" format:"date-time"`
	DeletionNote *string `json:"deletion_note,omitempty"`
}

func (p Project) RecordID() string     { return p.ID }
func (p Project) RecordVersion() int64 { return p.Version }
func (p Project) CreatedTime() string  { return p.CreatedAt }
func (p Project) UpdatedTime() string  { return p.UpdatedAt }

type Sprint struct {
	ID                 string  `json:"id"`
	ProjectID          string  `json:"project_id"`
	Status             string  `json:"status" enum:"planned,active,closed"`
	StartsAt           *string `json:"starts_at,omitempty" format:"date-time"`
	EndsAt             *string `json:"ends_at,omitempty" format:"date-time"`
	Version            int64   `json:"version"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
	DeletedAt          *string `json:"deleted_at,omitempty" format:"date-time"`
	DeletionNote       *string `json:"deletion_note,omitempty"`
	ParentDeletedAt    *string `json:"parent_deleted_at,omitempty" format:"date-time"`
	ParentDeletionNote *string `json:"parent_deletion_note,omitempty"`
}

func (s Sprint) RecordID() string     { return s.ID }
func (s Sprint) RecordVersion() int64 { return s.Version }
func (s Sprint) CreatedTime() string  { return s.CreatedAt }
func (s Sprint) UpdatedTime() string  { return s.UpdatedAt }

// Item is one free-form entry on an action list.
type Item struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

type ActionList struct {
	ID                 string  `json:"id"`
	ProjectID          string  `json:"project_id"`
	SprintID           *string `json:"sprint_id,omitempty"`
	Status             string  `json:"status" enum:"open,closed"`
	Items              []Item  `json:"items"`
	Version            int64   `json:"version"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
	DeletedAt          *string `json:"deleted_at,omitempty" format:"date-time"`
	DeletionNote       *string `json:"deletion_note,omitempty"`
	ParentDeletedAt    *string `json:"parent_deleted_at,omitempty" format:"date-time"`
	ParentDeletionNote *string `json:"parent_deletion_note,omitempty"`
}

func (a ActionList) RecordID() string     { return a.ID }
func (a ActionList) RecordVersion() int64 { return a.Version }
func (a ActionList) CreatedTime() string  { return a.CreatedAt }
func (a ActionList) UpdatedTime() string  { return a.UpdatedAt }
