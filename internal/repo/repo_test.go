package repo_test

import (
	"context"
	"testing"

	"taskline/internal/apperr"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/migrate"
	"taskline/internal/repo"
)

const ts = "2026-01-01T00:00:00Z"

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func seedProject(t *testing.T, r repo.Repo, id string) domain.Project {
	t.Helper()
	p, err := r.CreateProject(context.Background(), domain.Project{
		ID: id, Name: id, Status: domain.ProjectStatusDiscovery, CreatedAt: ts, UpdatedAt: ts,
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return p
}

func seedTask(t *testing.T, r repo.Repo, id, projectID string) domain.Task {
	t.Helper()
	task, err := r.CreateTask(context.Background(), domain.Task{
		ID: id, ProjectID: projectID, Title: id, Status: domain.TaskStatusNew, CreatedAt: ts, UpdatedAt: ts,
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func TestFindAbsentReturnsNil(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	p, err := r.FindProject(ctx, "P-nope")
	if err != nil || p != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", p, err)
	}
	task, err := r.FindTask(ctx, "T-nope")
	if err != nil || task != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", task, err)
	}
}

func TestCreateDuplicateIDConflicts(t *testing.T) {
	r := newTestRepo(t)
	seedProject(t, r, "P-dup")
	_, err := r.CreateProject(context.Background(), domain.Project{
		ID: "P-dup", Name: "again", Status: domain.ProjectStatusDiscovery, CreatedAt: ts, UpdatedAt: ts,
	})
	if apperr.KindOf(err) != apperr.VersionConflict {
		t.Fatalf("got %v, want version conflict", err)
	}
}

func TestUpdateTaskCAS(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedProject(t, r, "P-1")
	task := seedTask(t, r, "T-1", "P-1")

	// two writers read version 1; only one wins
	task.Title = "first"
	first, err := r.UpdateTask(ctx, task, 1)
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	if first.Version != 2 {
		t.Fatalf("version = %d, want 2", first.Version)
	}
	task.Title = "second"
	_, err = r.UpdateTask(ctx, task, 1)
	if apperr.KindOf(err) != apperr.VersionConflict {
		t.Fatalf("second write: got %v, want version conflict", err)
	}

	got, err := r.FindTask(ctx, "T-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Title != "first" || got.Version != 2 {
		t.Fatalf("losing write landed: %+v", got)
	}
}

func TestUpdateDisambiguatesMissingFromStale(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedProject(t, r, "P-1")
	task := seedTask(t, r, "T-real", "P-1")

	ghost := task
	ghost.ID = "T-ghost"
	_, err := r.UpdateTask(ctx, ghost, 1)
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("missing id: got %v, want not found", err)
	}

	_, err = r.UpdateTask(ctx, task, 99)
	if apperr.KindOf(err) != apperr.VersionConflict {
		t.Fatalf("stale version: got %v, want conflict", err)
	}
}

func TestSoftDeleteHidesFromListsButNotFinds(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedProject(t, r, "P-1")
	seedTask(t, r, "T-1", "P-1")

	if err := r.SoftDeleteTask(ctx, "T-1", 1, ts, "done with it"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	tasks, err := r.ListTasks(ctx, repo.TaskFilters{ProjectID: "P-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("deleted task still listed")
	}

	tasks, err = r.ListTasks(ctx, repo.TaskFilters{ProjectID: "P-1", IncludeDeleted: true})
	if err != nil || len(tasks) != 1 {
		t.Fatalf("include_deleted list = %d (%v), want 1", len(tasks), err)
	}
	if tasks[0].DeletionNote == nil || *tasks[0].DeletionNote != "done with it" {
		t.Fatalf("deletion note = %v", tasks[0].DeletionNote)
	}

	// the record itself stays readable
	got, err := r.FindTask(ctx, "T-1")
	if err != nil || got == nil {
		t.Fatalf("find deleted: (%v, %v)", got, err)
	}
	if got.DeletedAt == nil {
		t.Fatalf("deleted_at not set")
	}

	// deleting again is NotFound, not conflict
	err = r.SoftDeleteTask(ctx, "T-1", got.Version, ts, "")
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("double delete: got %v, want not found", err)
	}
}

func TestOrphanedTasksDetection(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedProject(t, r, "P-1")
	seedTask(t, r, "T-1", "P-1")

	// interrupted cascade: parent deleted, marker never written
	if err := r.SoftDeleteProject(ctx, "P-1", 1, ts, ""); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	orphans, err := r.OrphanedTasks(ctx)
	if err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ID != "T-1" {
		t.Fatalf("orphans = %+v, want T-1", orphans)
	}

	// writing the marker clears the finding
	if err := r.MarkTaskParentDeleted(ctx, "T-1", ts, "project P-1 deleted"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	orphans, err = r.OrphanedTasks(ctx)
	if err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("orphans after marking = %+v", orphans)
	}
}

func TestActionListItemsRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedProject(t, r, "P-1")
	al, err := r.CreateActionList(ctx, domain.ActionList{
		ID: "L-1", ProjectID: "P-1", Status: domain.ActionListStatusOpen,
		Items:     []domain.Item{{Text: "write notes"}, {Text: "send recap", Done: true}},
		CreatedAt: ts, UpdatedAt: ts,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := r.FindActionList(ctx, al.ID)
	if err != nil || got == nil {
		t.Fatalf("find: (%v, %v)", got, err)
	}
	if len(got.Items) != 2 || got.Items[1].Text != "send recap" || !got.Items[1].Done {
		t.Fatalf("items = %+v", got.Items)
	}
}

func TestRequestLogReplay(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	sr, err := r.FindRequest(ctx, "req-1")
	if err != nil || sr != nil {
		t.Fatalf("unseen id: (%v, %v), want (nil, nil)", sr, err)
	}

	won, err := r.ReserveRequest(ctx, "req-1", "POST", "/v0/tasks", ts)
	if err != nil || !won {
		t.Fatalf("reserve: (%v, %v), want the claim", won, err)
	}
	// a concurrent duplicate cannot claim the same id
	won, err = r.ReserveRequest(ctx, "req-1", "POST", "/v0/tasks", ts)
	if err != nil || won {
		t.Fatalf("duplicate reserve: (%v, %v), want loss", won, err)
	}

	sr, err = r.FindRequest(ctx, "req-1")
	if err != nil || sr == nil || !sr.Pending() {
		t.Fatalf("reserved row: (%+v, %v), want pending", sr, err)
	}

	if err := r.CompleteRequest(ctx, "req-1", 201, "application/json", `{"id":"T-1"}`); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// a late completion must not overwrite the settled outcome
	if err := r.CompleteRequest(ctx, "req-1", 500, "", "boom"); err != nil {
		t.Fatalf("late complete: %v", err)
	}

	sr, err = r.FindRequest(ctx, "req-1")
	if err != nil || sr == nil {
		t.Fatalf("find: (%v, %v)", sr, err)
	}
	if sr.Status != 201 || sr.BodyJSON != `{"id":"T-1"}` || sr.ContentType != "application/json" {
		t.Fatalf("replay record = %+v, want the first completion", sr)
	}
	// a settled row survives release; only pending reservations are dropped
	if err := r.ReleaseRequest(ctx, "req-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if sr, _ = r.FindRequest(ctx, "req-1"); sr == nil {
		t.Fatal("settled outcome was released")
	}
}

func TestReleasedReservationCanBeReclaimed(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if won, err := r.ReserveRequest(ctx, "req-2", "POST", "/v0/tasks", ts); err != nil || !won {
		t.Fatalf("reserve: (%v, %v)", won, err)
	}
	if err := r.ReleaseRequest(ctx, "req-2"); err != nil {
		t.Fatalf("release: %v", err)
	}
	// a 5xx attempt releases its claim, so the retry executes again
	if won, err := r.ReserveRequest(ctx, "req-2", "POST", "/v0/tasks", ts); err != nil || !won {
		t.Fatalf("re-reserve after release: (%v, %v)", won, err)
	}
}
