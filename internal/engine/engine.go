// Package engine holds the business rules: orphan prevention, same-project
// sprint membership, status state machines, and the cascading soft-delete.
// It is the only permitted mutation entry point; callers never write through
// the repo directly.
package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskline/internal/apperr"
	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID(prefix string) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + "-" + raw[:8]
}

// appendEvent records an audit entry in its own short transaction. Losing an
// event on crash is tolerable; losing an entity write is not, so the entity
// CAS never waits on the event log.
func (e Engine) appendEvent(ctx context.Context, evtType, entityKind, entityID, projectID, correlationID string, payload events.EventPayload) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, entityKind, entityID, projectID, correlationID, payload); err != nil {
		return
	}
	_ = tx.Commit()
}

// requireProject resolves a parent project for a create. A blank id or a
// missing/soft-deleted project violates the no-orphans rule.
func (e Engine) requireProject(ctx context.Context, projectID, entity string) (*domain.Project, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, apperr.OrphanRejectedf(entity)
	}
	p, err := e.Repo.FindProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.DeletedAt != nil {
		return nil, apperr.OrphanRejectedf(entity)
	}
	return p, nil
}

// requireSameProjectSprint enforces that an optional sprint reference stays
// inside the owning project.
func (e Engine) requireSameProjectSprint(ctx context.Context, sprintID, projectID string) (*domain.Sprint, error) {
	sp, err := e.Repo.FindSprint(ctx, sprintID)
	if err != nil {
		return nil, err
	}
	if sp == nil || sp.DeletedAt != nil {
		return nil, apperr.NotFoundf("sprint", sprintID)
	}
	if sp.ProjectID != projectID {
		return nil, apperr.CrossProjectSprintf(sprintID, sp.ProjectID, projectID)
	}
	return sp, nil
}

// --- projects ---

type CreateProjectOptions struct {
	ID            string
	Name          string
	Status        string
	CorrelationID string
}

func (e Engine) CreateProject(ctx context.Context, opts CreateProjectOptions) (domain.Project, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Project{}, apperr.Validationf("name is required")
	}
	status := opts.Status
	if status == "" {
		status = domain.ProjectStatusDiscovery
	}
	if _, ok := projectTransitions[status]; !ok {
		return domain.Project{}, apperr.Validationf("unknown project status %q", status)
	}
	id := opts.ID
	if id == "" {
		id = newID("P")
	}
	now := e.nowStr()
	p, err := e.Repo.CreateProject(ctx, domain.Project{
		ID:        id,
		Name:      opts.Name,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Project{}, err
	}
	e.appendEvent(ctx, "project.created", "project", p.ID, p.ID, opts.CorrelationID, events.EventPayload{"name": p.Name, "status": p.Status})
	return p, nil
}

type UpdateProjectOptions struct {
	ID              string
	ExpectedVersion int64
	Name            *string
	Status          *string
	CorrelationID   string
}

func (e Engine) UpdateProject(ctx context.Context, opts UpdateProjectOptions) (domain.Project, error) {
	cur, err := e.Repo.FindProject(ctx, opts.ID)
	if err != nil {
		return domain.Project{}, err
	}
	if cur == nil || cur.DeletedAt != nil {
		return domain.Project{}, apperr.NotFoundf("project", opts.ID)
	}
	if cur.Version != opts.ExpectedVersion {
		return domain.Project{}, apperr.VersionConflictf("project", opts.ID, opts.ExpectedVersion)
	}
	next := *cur
	if opts.Name != nil {
		if strings.TrimSpace(*opts.Name) == "" {
			return domain.Project{}, apperr.Validationf("name cannot be empty")
		}
		next.Name = *opts.Name
	}
	if opts.Status != nil {
		if _, ok := projectTransitions[*opts.Status]; !ok {
			return domain.Project{}, apperr.Validationf("unknown project status %q", *opts.Status)
		}
		if err := ensureTransition(projectTransitions, cur.Status, *opts.Status); err != nil {
			return domain.Project{}, err
		}
		next.Status = *opts.Status
	}
	next.UpdatedAt = e.nowStr()
	updated, err := e.Repo.UpdateProject(ctx, next, opts.ExpectedVersion)
	if err != nil {
		return domain.Project{}, err
	}
	e.appendEvent(ctx, "project.updated", "project", updated.ID, updated.ID, opts.CorrelationID, events.EventPayload{"status": updated.Status})
	return updated, nil
}

// --- sprints ---

type CreateSprintOptions struct {
	ID            string
	ProjectID     string
	StartsAt      *string
	EndsAt        *string
	CorrelationID string
}

func (e Engine) CreateSprint(ctx context.Context, opts CreateSprintOptions) (domain.Sprint, error) {
	if _, err := e.requireProject(ctx, opts.ProjectID, "sprint"); err != nil {
		return domain.Sprint{}, err
	}
	id := opts.ID
	if id == "" {
		id = newID("S")
	}
	now := e.nowStr()
	sp, err := e.Repo.CreateSprint(ctx, domain.Sprint{
		ID:        id,
		ProjectID: opts.ProjectID,
		Status:    domain.SprintStatusPlanned,
		StartsAt:  opts.StartsAt,
		EndsAt:    opts.EndsAt,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Sprint{}, err
	}
	e.appendEvent(ctx, "sprint.created", "sprint", sp.ID, sp.ProjectID, opts.CorrelationID, nil)
	return sp, nil
}

type UpdateSprintOptions struct {
	ID              string
	ExpectedVersion int64
	Status          *string
	StartsAt        *string
	EndsAt          *string
	CorrelationID   string
}

func (e Engine) UpdateSprint(ctx context.Context, opts UpdateSprintOptions) (domain.Sprint, error) {
	cur, err := e.Repo.FindSprint(ctx, opts.ID)
	if err != nil {
		return domain.Sprint{}, err
	}
	if cur == nil || cur.DeletedAt != nil {
		return domain.Sprint{}, apperr.NotFoundf("sprint", opts.ID)
	}
	if cur.Version != opts.ExpectedVersion {
		return domain.Sprint{}, apperr.VersionConflictf("sprint", opts.ID, opts.ExpectedVersion)
	}
	next := *cur
	if opts.Status != nil {
		if _, ok := sprintTransitions[*opts.Status]; !ok {
			return domain.Sprint{}, apperr.Validationf("unknown sprint status %q", *opts.Status)
		}
		if err := ensureTransition(sprintTransitions, cur.Status, *opts.Status); err != nil {
			return domain.Sprint{}, err
		}
		next.Status = *opts.Status
	}
	if opts.StartsAt != nil {
		next.StartsAt = opts.StartsAt
	}
	if opts.EndsAt != nil {
		next.EndsAt = opts.EndsAt
	}
	next.UpdatedAt = e.nowStr()
	updated, err := e.Repo.UpdateSprint(ctx, next, opts.ExpectedVersion)
	if err != nil {
		return domain.Sprint{}, err
	}
	e.appendEvent(ctx, "sprint.updated", "sprint", updated.ID, updated.ProjectID, opts.CorrelationID, events.EventPayload{"status": updated.Status})
	return updated, nil
}

// --- tasks ---

type CreateTaskOptions struct {
	ID            string
	ProjectID     string
	SprintID      string
	ParentID      string
	Title         string
	Priority      *int
	CorrelationID string
}

func (e Engine) CreateTask(ctx context.Context, opts CreateTaskOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, apperr.Validationf("title is required")
	}
	if _, err := e.requireProject(ctx, opts.ProjectID, "task"); err != nil {
		return domain.Task{}, err
	}
	var sprintID *string
	if opts.SprintID != "" {
		if _, err := e.requireSameProjectSprint(ctx, opts.SprintID, opts.ProjectID); err != nil {
			return domain.Task{}, err
		}
		sprintID = &opts.SprintID
	}
	var parentID *string
	if opts.ParentID != "" {
		parent, err := e.Repo.FindTask(ctx, opts.ParentID)
		if err != nil {
			return domain.Task{}, err
		}
		if parent == nil || parent.DeletedAt != nil {
			return domain.Task{}, apperr.NotFoundf("task", opts.ParentID)
		}
		if parent.ProjectID != opts.ProjectID {
			return domain.Task{}, apperr.Validationf("parent task %s is in project %s", opts.ParentID, parent.ProjectID)
		}
		parentID = &opts.ParentID
	}
	id := opts.ID
	if id == "" {
		id = newID("T")
	}
	now := e.nowStr()
	t, err := e.Repo.CreateTask(ctx, domain.Task{
		ID:        id,
		ProjectID: opts.ProjectID,
		SprintID:  sprintID,
		ParentID:  parentID,
		Title:     opts.Title,
		Status:    domain.TaskStatusNew,
		Priority:  opts.Priority,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.appendEvent(ctx, "task.created", "task", t.ID, t.ProjectID, opts.CorrelationID, events.EventPayload{"title": t.Title, "status": t.Status})
	return t, nil
}

// UpdateTaskStatus advances the task state machine. Illegal transitions fail
// before the repository is touched.
func (e Engine) UpdateTaskStatus(ctx context.Context, id string, expectedVersion int64, newStatus, correlationID string) (domain.Task, error) {
	if !domain.ValidTaskStatus(newStatus) {
		return domain.Task{}, apperr.Validationf("unknown task status %q", newStatus)
	}
	cur, err := e.Repo.FindTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if cur == nil || cur.DeletedAt != nil {
		return domain.Task{}, apperr.NotFoundf("task", id)
	}
	if cur.Version != expectedVersion {
		return domain.Task{}, apperr.VersionConflictf("task", id, expectedVersion)
	}
	if cur.Status == newStatus {
		// restating the current status writes nothing and keeps the version
		return *cur, nil
	}
	if err := ensureTransition(taskTransitions, cur.Status, newStatus); err != nil {
		return domain.Task{}, err
	}
	next := *cur
	from := cur.Status
	next.Status = newStatus
	next.UpdatedAt = e.nowStr()
	updated, err := e.Repo.UpdateTask(ctx, next, expectedVersion)
	if err != nil {
		return domain.Task{}, err
	}
	e.appendEvent(ctx, "task.status", "task", updated.ID, updated.ProjectID, correlationID, events.EventPayload{"from": from, "to": newStatus})
	return updated, nil
}

type UpdateTaskOptions struct {
	ID              string
	ExpectedVersion int64
	Title           *string
	Priority        *int
	ClearPriority   bool
	SprintID        *string // non-nil reassigns; empty string detaches
	CorrelationID   string
}

func (e Engine) UpdateTask(ctx context.Context, opts UpdateTaskOptions) (domain.Task, error) {
	cur, err := e.Repo.FindTask(ctx, opts.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if cur == nil || cur.DeletedAt != nil {
		return domain.Task{}, apperr.NotFoundf("task", opts.ID)
	}
	if cur.Version != opts.ExpectedVersion {
		return domain.Task{}, apperr.VersionConflictf("task", opts.ID, opts.ExpectedVersion)
	}
	next := *cur
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return domain.Task{}, apperr.Validationf("title cannot be empty")
		}
		next.Title = *opts.Title
	}
	if opts.ClearPriority {
		next.Priority = nil
	} else if opts.Priority != nil {
		next.Priority = opts.Priority
	}
	if opts.SprintID != nil {
		if *opts.SprintID == "" {
			next.SprintID = nil
		} else {
			if _, err := e.requireSameProjectSprint(ctx, *opts.SprintID, cur.ProjectID); err != nil {
				return domain.Task{}, err
			}
			next.SprintID = opts.SprintID
		}
	}
	next.UpdatedAt = e.nowStr()
	updated, err := e.Repo.UpdateTask(ctx, next, opts.ExpectedVersion)
	if err != nil {
		return domain.Task{}, err
	}
	e.appendEvent(ctx, "task.updated", "task", updated.ID, updated.ProjectID, opts.CorrelationID, nil)
	return updated, nil
}

func (e Engine) DeleteTask(ctx context.Context, id string, expectedVersion int64, note, correlationID string) error {
	if err := e.Repo.SoftDeleteTask(ctx, id, expectedVersion, e.nowStr(), note); err != nil {
		return err
	}
	e.appendEvent(ctx, "task.deleted", "task", id, "", correlationID, events.EventPayload{"note": note})
	return nil
}

// --- action lists ---

type CreateActionListOptions struct {
	ID            string
	ProjectID     string
	SprintID      string
	Items         []domain.Item
	CorrelationID string
}

func (e Engine) CreateActionList(ctx context.Context, opts CreateActionListOptions) (domain.ActionList, error) {
	if _, err := e.requireProject(ctx, opts.ProjectID, "action_list"); err != nil {
		return domain.ActionList{}, err
	}
	var sprintID *string
	if opts.SprintID != "" {
		if _, err := e.requireSameProjectSprint(ctx, opts.SprintID, opts.ProjectID); err != nil {
			return domain.ActionList{}, err
		}
		sprintID = &opts.SprintID
	}
	id := opts.ID
	if id == "" {
		id = newID("L")
	}
	now := e.nowStr()
	a, err := e.Repo.CreateActionList(ctx, domain.ActionList{
		ID:        id,
		ProjectID: opts.ProjectID,
		SprintID:  sprintID,
		Status:    domain.ActionListStatusOpen,
		Items:     opts.Items,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.ActionList{}, err
	}
	e.appendEvent(ctx, "actionlist.created", "action_list", a.ID, a.ProjectID, opts.CorrelationID, nil)
	return a, nil
}

type UpdateActionListOptions struct {
	ID              string
	ExpectedVersion int64
	Status          *string
	Items           *[]domain.Item
	SprintID        *string // non-nil reassigns; empty string detaches
	CorrelationID   string
}

func (e Engine) UpdateActionList(ctx context.Context, opts UpdateActionListOptions) (domain.ActionList, error) {
	cur, err := e.Repo.FindActionList(ctx, opts.ID)
	if err != nil {
		return domain.ActionList{}, err
	}
	if cur == nil || cur.DeletedAt != nil {
		return domain.ActionList{}, apperr.NotFoundf("action_list", opts.ID)
	}
	if cur.Version != opts.ExpectedVersion {
		return domain.ActionList{}, apperr.VersionConflictf("action_list", opts.ID, opts.ExpectedVersion)
	}
	next := *cur
	if opts.Status != nil {
		if _, ok := actionListTransitions[*opts.Status]; !ok {
			return domain.ActionList{}, apperr.Validationf("unknown action list status %q", *opts.Status)
		}
		if err := ensureTransition(actionListTransitions, cur.Status, *opts.Status); err != nil {
			return domain.ActionList{}, err
		}
		next.Status = *opts.Status
	}
	if opts.Items != nil {
		next.Items = *opts.Items
	}
	if opts.SprintID != nil {
		if *opts.SprintID == "" {
			next.SprintID = nil
		} else {
			if _, err := e.requireSameProjectSprint(ctx, *opts.SprintID, cur.ProjectID); err != nil {
				return domain.ActionList{}, err
			}
			next.SprintID = opts.SprintID
		}
	}
	next.UpdatedAt = e.nowStr()
	updated, err := e.Repo.UpdateActionList(ctx, next, opts.ExpectedVersion)
	if err != nil {
		return domain.ActionList{}, err
	}
	e.appendEvent(ctx, "actionlist.updated", "action_list", updated.ID, updated.ProjectID, opts.CorrelationID, nil)
	return updated, nil
}

func (e Engine) DeleteActionList(ctx context.Context, id string, expectedVersion int64, note, correlationID string) error {
	if err := e.Repo.SoftDeleteActionList(ctx, id, expectedVersion, e.nowStr(), note); err != nil {
		return err
	}
	e.appendEvent(ctx, "actionlist.deleted", "action_list", id, "", correlationID, events.EventPayload{"note": note})
	return nil
}

// --- queries ---

func (e Engine) ListTasksInSprint(ctx context.Context, sprintID string) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, repo.TaskFilters{SprintID: sprintID})
}

func (e Engine) ListTasksInProject(ctx context.Context, projectID string) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
}

func (e Engine) ListSprintsInProject(ctx context.Context, projectID string) ([]domain.Sprint, error) {
	return e.Repo.ListSprints(ctx, repo.SprintFilters{ProjectID: projectID})
}

func (e Engine) ListActionListsInProject(ctx context.Context, projectID string) ([]domain.ActionList, error) {
	return e.Repo.ListActionLists(ctx, repo.ActionListFilters{ProjectID: projectID})
}

// OrphanedTasks should stay empty under correct operation; a non-empty
// result flags an interrupted cascade or a bypassed invariant.
func (e Engine) OrphanedTasks(ctx context.Context) ([]domain.Task, error) {
	return e.Repo.OrphanedTasks(ctx)
}
