// Package repo is the sole writer interface over the entity store. Every
// versioned write is a single compare-and-swap statement: the version check
// and the mutation happen in one round trip, so a rejected write never
// partially applies.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"taskline/internal/apperr"
	"taskline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

// --- projects ---

const projectCols = `id,name,status,version,created_at,updated_at,deleted_at,deletion_note`

func scanProject(s interface{ Scan(...any) error }) (domain.Project, error) {
	var p domain.Project
	err := s.Scan(&p.ID, &p.Name, &p.Status, &p.Version, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt, &p.DeletionNote)
	return p, err
}

// FindProject returns (nil, nil) when the id is absent.
func (r Repo) FindProject(ctx context.Context, id string) (*domain.Project, error) {
	p, err := scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r Repo) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	p.Version = 1
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(`+projectCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Status, p.Version, p.CreatedAt, p.UpdatedAt, p.DeletedAt, p.DeletionNote)
	if isUniqueViolation(err) {
		return p, apperr.VersionConflictf("project", p.ID, 0)
	}
	return p, err
}

func (r Repo) UpdateProject(ctx context.Context, p domain.Project, expectedVersion int64) (domain.Project, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE projects SET name=?, status=?, updated_at=?, version=version+1 WHERE id=? AND version=? AND deleted_at IS NULL`,
		p.Name, p.Status, p.UpdatedAt, p.ID, expectedVersion)
	if err != nil {
		return p, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return p, r.writeConflict(ctx, "projects", "project", p.ID, expectedVersion)
	}
	p.Version = expectedVersion + 1
	return p, nil
}

func (r Repo) SoftDeleteProject(ctx context.Context, id string, expectedVersion int64, at, note string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE projects SET deleted_at=?, deletion_note=?, updated_at=?, version=version+1 WHERE id=? AND version=? AND deleted_at IS NULL`,
		at, nullable(note), at, id, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.writeConflict(ctx, "projects", "project", id, expectedVersion)
	}
	return nil
}

func (r Repo) ListProjects(ctx context.Context, includeDeleted bool) ([]domain.Project, error) {
	query := `SELECT ` + projectCols + ` FROM projects`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// --- sprints ---

const sprintCols = `id,project_id,status,starts_at,ends_at,version,created_at,updated_at,deleted_at,deletion_note,parent_deleted_at,parent_deletion_note`

func scanSprint(s interface{ Scan(...any) error }) (domain.Sprint, error) {
	var sp domain.Sprint
	err := s.Scan(&sp.ID, &sp.ProjectID, &sp.Status, &sp.StartsAt, &sp.EndsAt, &sp.Version,
		&sp.CreatedAt, &sp.UpdatedAt, &sp.DeletedAt, &sp.DeletionNote, &sp.ParentDeletedAt, &sp.ParentDeletionNote)
	return sp, err
}

func (r Repo) FindSprint(ctx context.Context, id string) (*domain.Sprint, error) {
	sp, err := scanSprint(r.DB.QueryRowContext(ctx, `SELECT `+sprintCols+` FROM sprints WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func (r Repo) CreateSprint(ctx context.Context, sp domain.Sprint) (domain.Sprint, error) {
	sp.Version = 1
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sprints(`+sprintCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		sp.ID, sp.ProjectID, sp.Status, sp.StartsAt, sp.EndsAt, sp.Version,
		sp.CreatedAt, sp.UpdatedAt, sp.DeletedAt, sp.DeletionNote, sp.ParentDeletedAt, sp.ParentDeletionNote)
	if isUniqueViolation(err) {
		return sp, apperr.VersionConflictf("sprint", sp.ID, 0)
	}
	return sp, err
}

func (r Repo) UpdateSprint(ctx context.Context, sp domain.Sprint, expectedVersion int64) (domain.Sprint, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE sprints SET status=?, starts_at=?, ends_at=?, updated_at=?, version=version+1 WHERE id=? AND version=? AND deleted_at IS NULL`,
		sp.Status, sp.StartsAt, sp.EndsAt, sp.UpdatedAt, sp.ID, expectedVersion)
	if err != nil {
		return sp, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sp, r.writeConflict(ctx, "sprints", "sprint", sp.ID, expectedVersion)
	}
	sp.Version = expectedVersion + 1
	return sp, nil
}

func (r Repo) SoftDeleteSprint(ctx context.Context, id string, expectedVersion int64, at, note string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE sprints SET deleted_at=?, deletion_note=?, updated_at=?, version=version+1 WHERE id=? AND version=? AND deleted_at IS NULL`,
		at, nullable(note), at, id, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.writeConflict(ctx, "sprints", "sprint", id, expectedVersion)
	}
	return nil
}

// MarkSprintParentDeleted stamps the cascade audit marker. Re-marking an
// already-marked sprint is a no-op, which keeps the cascade idempotent.
func (r Repo) MarkSprintParentDeleted(ctx context.Context, id, at, note string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE sprints SET parent_deleted_at=?, parent_deletion_note=?, updated_at=?, version=version+1 WHERE id=? AND parent_deleted_at IS NULL`,
		at, nullable(note), at, id)
	return err
}

type SprintFilters struct {
	ProjectID      string
	Status         string
	IncludeDeleted bool
}

func (r Repo) ListSprints(ctx context.Context, f SprintFilters) ([]domain.Sprint, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if !f.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	query := `SELECT ` + sprintCols + ` FROM sprints`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Sprint
	for rows.Next() {
		sp, err := scanSprint(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sp)
	}
	return res, rows.Err()
}

// --- tasks ---

const taskCols = `id,project_id,sprint_id,parent_id,title,status,priority,version,created_at,updated_at,deleted_at,deletion_note,parent_deleted_at,parent_deletion_note`

func scanTask(s interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	err := s.Scan(&t.ID, &t.ProjectID, &t.SprintID, &t.ParentID, &t.Title, &t.Status, &t.Priority, &t.Version,
		&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt, &t.DeletionNote, &t.ParentDeletedAt, &t.ParentDeletionNote)
	return t, err
}

func (r Repo) FindTask(ctx context.Context, id string) (*domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r Repo) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t.Version = 1
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(`+taskCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.SprintID, t.ParentID, t.Title, t.Status, t.Priority, t.Version,
		t.CreatedAt, t.UpdatedAt, t.DeletedAt, t.DeletionNote, t.ParentDeletedAt, t.ParentDeletionNote)
	if isUniqueViolation(err) {
		return t, apperr.VersionConflictf("task", t.ID, 0)
	}
	return t, err
}

func (r Repo) UpdateTask(ctx context.Context, t domain.Task, expectedVersion int64) (domain.Task, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE tasks SET sprint_id=?, parent_id=?, title=?, status=?, priority=?, updated_at=?, version=version+1 WHERE id=? AND version=? AND deleted_at IS NULL`,
		t.SprintID, t.ParentID, t.Title, t.Status, t.Priority, t.UpdatedAt, t.ID, expectedVersion)
	if err != nil {
		return t, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return t, r.writeConflict(ctx, "tasks", "task", t.ID, expectedVersion)
	}
	t.Version = expectedVersion + 1
	return t, nil
}

func (r Repo) SoftDeleteTask(ctx context.Context, id string, expectedVersion int64, at, note string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE tasks SET deleted_at=?, deletion_note=?, updated_at=?, version=version+1 WHERE id=? AND version=? AND deleted_at IS NULL`,
		at, nullable(note), at, id, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.writeConflict(ctx, "tasks", "task", id, expectedVersion)
	}
	return nil
}

func (r Repo) MarkTaskParentDeleted(ctx context.Context, id, at, note string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE tasks SET parent_deleted_at=?, parent_deletion_note=?, updated_at=?, version=version+1 WHERE id=? AND parent_deleted_at IS NULL`,
		at, nullable(note), at, id)
	return err
}

type TaskFilters struct {
	ProjectID      string
	SprintID       string
	Statuses       []string
	IncludeDeleted bool
	Limit          int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.SprintID != "" {
		clauses = append(clauses, "sprint_id=?")
		args = append(args, f.SprintID)
	}
	if len(f.Statuses) > 0 {
		ph := strings.TrimRight(strings.Repeat("?,", len(f.Statuses)), ",")
		clauses = append(clauses, "status IN ("+ph+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if !f.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	query := `SELECT ` + taskCols + ` FROM tasks`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// OrphanedTasks is the consistency probe: tasks whose project row is gone,
// or whose project/sprint was soft-deleted without the cascade marker
// landing. Non-empty output means a cascade was interrupted and should be
// re-driven.
func (r Repo) OrphanedTasks(ctx context.Context) ([]domain.Task, error) {
	query := `SELECT ` + prefixCols("t", taskCols) + ` FROM tasks t
LEFT JOIN projects p ON p.id = t.project_id
LEFT JOIN sprints s ON s.id = t.sprint_id
WHERE t.deleted_at IS NULL AND (
    p.id IS NULL
    OR (p.deleted_at IS NOT NULL AND t.parent_deleted_at IS NULL)
    OR (s.deleted_at IS NOT NULL AND t.parent_deleted_at IS NULL)
)
ORDER BY t.created_at ASC, t.id ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// --- action lists ---

const actionListCols = `id,project_id,sprint_id,status,items_json,version,created_at,updated_at,deleted_at,deletion_note,parent_deleted_at,parent_deletion_note`

func scanActionList(s interface{ Scan(...any) error }) (domain.ActionList, error) {
	var a domain.ActionList
	var items string
	err := s.Scan(&a.ID, &a.ProjectID, &a.SprintID, &a.Status, &items, &a.Version,
		&a.CreatedAt, &a.UpdatedAt, &a.DeletedAt, &a.DeletionNote, &a.ParentDeletedAt, &a.ParentDeletionNote)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(items), &a.Items); err != nil {
		return a, fmt.Errorf("decode action list items: %w", err)
	}
	if a.Items == nil {
		a.Items = []domain.Item{}
	}
	return a, nil
}

func marshalItems(items []domain.Item) (string, error) {
	if items == nil {
		items = []domain.Item{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode action list items: %w", err)
	}
	return string(b), nil
}

func (r Repo) FindActionList(ctx context.Context, id string) (*domain.ActionList, error) {
	a, err := scanActionList(r.DB.QueryRowContext(ctx, `SELECT `+actionListCols+` FROM action_lists WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r Repo) CreateActionList(ctx context.Context, a domain.ActionList) (domain.ActionList, error) {
	a.Version = 1
	items, err := marshalItems(a.Items)
	if err != nil {
		return a, err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO action_lists(`+actionListCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.SprintID, a.Status, items, a.Version,
		a.CreatedAt, a.UpdatedAt, a.DeletedAt, a.DeletionNote, a.ParentDeletedAt, a.ParentDeletionNote)
	if isUniqueViolation(err) {
		return a, apperr.VersionConflictf("action_list", a.ID, 0)
	}
	return a, err
}

func (r Repo) UpdateActionList(ctx context.Context, a domain.ActionList, expectedVersion int64) (domain.ActionList, error) {
	items, err := marshalItems(a.Items)
	if err != nil {
		return a, err
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE action_lists SET sprint_id=?, status=?, items_json=?, updated_at=?, version=version+1 WHERE id=? AND version=? AND deleted_at IS NULL`,
		a.SprintID, a.Status, items, a.UpdatedAt, a.ID, expectedVersion)
	if err != nil {
		return a, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return a, r.writeConflict(ctx, "action_lists", "action_list", a.ID, expectedVersion)
	}
	a.Version = expectedVersion + 1
	return a, nil
}

func (r Repo) SoftDeleteActionList(ctx context.Context, id string, expectedVersion int64, at, note string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE action_lists SET deleted_at=?, deletion_note=?, updated_at=?, version=version+1 WHERE id=? AND version=? AND deleted_at IS NULL`,
		at, nullable(note), at, id, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.writeConflict(ctx, "action_lists", "action_list", id, expectedVersion)
	}
	return nil
}

func (r Repo) MarkActionListParentDeleted(ctx context.Context, id, at, note string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE action_lists SET parent_deleted_at=?, parent_deletion_note=?, updated_at=?, version=version+1 WHERE id=? AND parent_deleted_at IS NULL`,
		at, nullable(note), at, id)
	return err
}

type ActionListFilters struct {
	ProjectID      string
	SprintID       string
	Status         string
	IncludeDeleted bool
}

func (r Repo) ListActionLists(ctx context.Context, f ActionListFilters) ([]domain.ActionList, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.SprintID != "" {
		clauses = append(clauses, "sprint_id=?")
		args = append(args, f.SprintID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if !f.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	query := `SELECT ` + actionListCols + ` FROM action_lists`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionList
	for rows.Next() {
		a, err := scanActionList(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- helpers ---

// writeConflict disambiguates a zero-row CAS write: a missing or deleted row
// is NotFound, an existing row means the caller's token went stale.
func (r Repo) writeConflict(ctx context.Context, table, entity, id string, expectedVersion int64) error {
	var deletedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT deleted_at FROM `+table+` WHERE id=?`, id).Scan(&deletedAt)
	if err == sql.ErrNoRows {
		return apperr.NotFoundf(entity, id)
	}
	if err != nil {
		return err
	}
	if deletedAt.Valid {
		return apperr.NotFoundf(entity, id)
	}
	return apperr.VersionConflictf(entity, id, expectedVersion)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func prefixCols(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, c := range parts {
		parts[i] = alias + "." + c
	}
	return strings.Join(parts, ",")
}
