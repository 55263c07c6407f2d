package server

import (
	"taskline/internal/domain"
	"taskline/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty" enum:"discovery,active,paused,closed"`
}

type UpdateProjectRequest struct {
	Name   *string `json:"name,omitempty"`
	Status *string `json:"status,omitempty" enum:"discovery,active,paused,closed"`
}

type CreateSprintRequest struct {
	ID        string  `json:"id,omitempty"`
	ProjectID string  `json:"project_id"`
	StartsAt  *string `json:"starts_at,omitempty" format:"date-time"`
	EndsAt    *string `json:"ends_at,omitempty" format:"date-time"`
}

type UpdateSprintRequest struct {
	Status   *string `json:"status,omitempty" enum:"planned,active,closed"`
	StartsAt *string `json:"starts_at,omitempty" format:"date-time"`
	EndsAt   *string `json:"ends_at,omitempty" format:"date-time"`
}

type CreateTaskRequest struct {
	ID        string `json:"id,omitempty"`
	ProjectID string `json:"project_id"`
	SprintID  string `json:"sprint_id,omitempty"`
	ParentID  string `json:"parent_id,omitempty"`
	Title     string `json:"title"`
	Priority  *int   `json:"priority,omitempty"`
}

type UpdateTaskRequest struct {
	Title    *string `json:"title,omitempty"`
	Priority *int    `json:"priority,omitempty"`
	SprintID *string `json:"sprint_id,omitempty"`
}

type UpdateTaskStatusRequest struct {
	Status string `json:"status" enum:"new,ready,in_progress,blocked,review,done,dropped"`
}

type CreateActionListRequest struct {
	ID        string      `json:"id,omitempty"`
	ProjectID string      `json:"project_id"`
	SprintID  string      `json:"sprint_id,omitempty"`
	Items     []ItemInput `json:"items,omitempty"`
}

type ItemInput struct {
	Text string `json:"text"`
	Done bool   `json:"done,omitempty"`
}

type UpdateActionListRequest struct {
	Status   *string      `json:"status,omitempty" enum:"open,closed"`
	Items    *[]ItemInput `json:"items,omitempty"`
	SprintID *string      `json:"sprint_id,omitempty"`
}

type DeleteRequest struct {
	Note string `json:"note,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"discovery,active,paused,closed"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type SprintResponse struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"project_id"`
	Status          string  `json:"status" enum:"planned,active,closed"`
	StartsAt        *string `json:"starts_at,omitempty" format:"date-time"`
	EndsAt          *string `json:"ends_at,omitempty" format:"date-time"`
	Version         int64   `json:"version"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
	ParentDeletedAt *string `json:"parent_deleted_at,omitempty" format:"date-time"`
}

type TaskResponse struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"project_id"`
	SprintID        *string `json:"sprint_id,omitempty"`
	ParentID        *string `json:"parent_id,omitempty"`
	Title           string  `json:"title"`
	Status          string  `json:"status" enum:"new,ready,in_progress,blocked,review,done,dropped"`
	Priority        *int    `json:"priority,omitempty"`
	Version         int64   `json:"version"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
	ParentDeletedAt *string `json:"parent_deleted_at,omitempty" format:"date-time"`
}

type ActionListResponse struct {
	ID              string      `json:"id"`
	ProjectID       string      `json:"project_id"`
	SprintID        *string     `json:"sprint_id,omitempty"`
	Status          string      `json:"status" enum:"open,closed"`
	Items           []ItemInput `json:"items"`
	Version         int64       `json:"version"`
	CreatedAt       string      `json:"created_at" format:"date-time"`
	UpdatedAt       string      `json:"updated_at" format:"date-time"`
	ParentDeletedAt *string     `json:"parent_deleted_at,omitempty" format:"date-time"`
}

// Envelope wraps every happy-path response body. Failures bypass it and
// render as problem documents instead.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok[T any](data T) Envelope[T] { return Envelope[T]{Success: true, Data: data} }

func okEmpty() Envelope[any] { return Envelope[any]{Success: true} }

type CascadeResponse struct {
	Deleted string                  `json:"deleted"`
	Marked  int                     `json:"marked"`
	Failed  []engine.CascadeFailure `json:"failed,omitempty"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:        p.ID,
		Name:      p.Name,
		Status:    p.Status,
		Version:   p.Version,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func mapProjects(in []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(in))
	for _, p := range in {
		out = append(out, projectResponse(p))
	}
	return out
}

func sprintResponse(sp domain.Sprint) SprintResponse {
	return SprintResponse{
		ID:              sp.ID,
		ProjectID:       sp.ProjectID,
		Status:          sp.Status,
		StartsAt:        sp.StartsAt,
		EndsAt:          sp.EndsAt,
		Version:         sp.Version,
		CreatedAt:       sp.CreatedAt,
		UpdatedAt:       sp.UpdatedAt,
		ParentDeletedAt: sp.ParentDeletedAt,
	}
}

func mapSprints(in []domain.Sprint) []SprintResponse {
	out := make([]SprintResponse, 0, len(in))
	for _, sp := range in {
		out = append(out, sprintResponse(sp))
	}
	return out
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:              t.ID,
		ProjectID:       t.ProjectID,
		SprintID:        t.SprintID,
		ParentID:        t.ParentID,
		Title:           t.Title,
		Status:          t.Status,
		Priority:        t.Priority,
		Version:         t.Version,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		ParentDeletedAt: t.ParentDeletedAt,
	}
}

func mapTasks(in []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(in))
	for _, t := range in {
		out = append(out, taskResponse(t))
	}
	return out
}

func actionListResponse(a domain.ActionList) ActionListResponse {
	items := make([]ItemInput, 0, len(a.Items))
	for _, it := range a.Items {
		items = append(items, ItemInput{Text: it.Text, Done: it.Done})
	}
	return ActionListResponse{
		ID:              a.ID,
		ProjectID:       a.ProjectID,
		SprintID:        a.SprintID,
		Status:          a.Status,
		Items:           items,
		Version:         a.Version,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		ParentDeletedAt: a.ParentDeletedAt,
	}
}

func mapActionLists(in []domain.ActionList) []ActionListResponse {
	out := make([]ActionListResponse, 0, len(in))
	for _, a := range in {
		out = append(out, actionListResponse(a))
	}
	return out
}

func domainItems(in []ItemInput) []domain.Item {
	out := make([]domain.Item, 0, len(in))
	for _, it := range in {
		out = append(out, domain.Item{Text: it.Text, Done: it.Done})
	}
	return out
}
