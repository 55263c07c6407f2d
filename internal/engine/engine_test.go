package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskline/internal/apperr"
	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
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
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) mustProject(t *testing.T, name string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{Name: name})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env testEnv) mustSprint(t *testing.T, projectID string) domain.Sprint {
	t.Helper()
	sp, err := env.Engine.CreateSprint(env.Ctx, engine.CreateSprintOptions{ProjectID: projectID})
	if err != nil {
		t.Fatalf("create sprint: %v", err)
	}
	return sp
}

func (env testEnv) mustTask(t *testing.T, projectID, title string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{ProjectID: projectID, Title: title})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateTaskRejectsOrphans(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{Title: "no parent"})
	if apperr.KindOf(err) != apperr.OrphanRejected {
		t.Fatalf("blank project: got %v, want orphan rejection", err)
	}

	_, err = env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{ProjectID: "P-missing", Title: "ghost parent"})
	if apperr.KindOf(err) != apperr.OrphanRejected {
		t.Fatalf("missing project: got %v, want orphan rejection", err)
	}

	p := env.mustProject(t, "real")
	if _, err := env.Engine.DeleteProject(env.Ctx, p.ID, p.Version, "", ""); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{ProjectID: p.ID, Title: "deleted parent"})
	if apperr.KindOf(err) != apperr.OrphanRejected {
		t.Fatalf("deleted project: got %v, want orphan rejection", err)
	}
}

func TestCreateTaskRejectsCrossProjectSprint(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.mustProject(t, "one")
	p2 := env.mustProject(t, "two")
	sp := env.mustSprint(t, p2.ID)

	_, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		ProjectID: p1.ID,
		SprintID:  sp.ID,
		Title:     "wrong sprint",
	})
	if apperr.KindOf(err) != apperr.CrossProjectSprint {
		t.Fatalf("got %v, want cross-project sprint rejection", err)
	}

	_, err = env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		ProjectID: p1.ID,
		SprintID:  "S-nope",
		Title:     "missing sprint",
	})
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t, "flow")
	task := env.mustTask(t, p.ID, "walk the machine")
	if task.Status != domain.TaskStatusNew {
		t.Fatalf("new task status = %q", task.Status)
	}

	for _, status := range []string{"ready", "in_progress", "review", "done"} {
		var err error
		task, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, task.Version, status, "")
		if err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
		if task.Status != status {
			t.Fatalf("status = %q, want %q", task.Status, status)
		}
	}

	// done is terminal
	_, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, task.Version, "in_progress", "")
	if apperr.KindOf(err) != apperr.InvalidTransition {
		t.Fatalf("done -> in_progress: got %v, want invalid transition", err)
	}

	// skipping stages is rejected
	other := env.mustTask(t, p.ID, "skipper")
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, other.ID, other.Version, "done", "")
	if apperr.KindOf(err) != apperr.InvalidTransition {
		t.Fatalf("new -> done: got %v, want invalid transition", err)
	}

	// dropped exits from any non-terminal state
	other, err = env.Engine.UpdateTaskStatus(env.Ctx, other.ID, other.Version, "dropped", "")
	if err != nil || other.Status != domain.TaskStatusDropped {
		t.Fatalf("new -> dropped: %v", err)
	}
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, other.ID, other.Version, "ready", "")
	if apperr.KindOf(err) != apperr.InvalidTransition {
		t.Fatalf("dropped -> ready: got %v, want invalid transition", err)
	}
}

func TestVersionIncrementsByOne(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t, "versioned")
	task := env.mustTask(t, p.ID, "count me")
	if task.Version != 1 {
		t.Fatalf("fresh version = %d, want 1", task.Version)
	}
	updated, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, task.Version, "ready", "")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("version after one update = %d, want 2", updated.Version)
	}
}

func TestStaleVersionRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t, "contested")
	task := env.mustTask(t, p.ID, "shared")

	first, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, task.Version, "ready", "")
	if err != nil {
		t.Fatalf("first writer: %v", err)
	}

	// second writer still holds version 1
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, task.Version, "ready", "")
	if apperr.KindOf(err) != apperr.VersionConflict {
		t.Fatalf("stale write: got %v, want version conflict", err)
	}

	// conflict does not bump the version
	cur, err := env.Engine.Repo.FindTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if cur.Version != first.Version {
		t.Fatalf("version moved on rejected write: %d", cur.Version)
	}
}

func TestUpdateMissingTaskIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.UpdateTaskStatus(env.Ctx, "T-absent", 1, "ready", "")
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("got %v, want not found", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("error is not *apperr.Error: %T", err)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t, "doomed")
	sp := env.mustSprint(t, p.ID)
	t1 := env.mustTask(t, p.ID, "one")
	t2 := env.mustTask(t, p.ID, "two")
	al, err := env.Engine.CreateActionList(env.Ctx, engine.CreateActionListOptions{ProjectID: p.ID})
	if err != nil {
		t.Fatalf("create list: %v", err)
	}

	res, err := env.Engine.DeleteProject(env.Ctx, p.ID, p.Version, "cleanup", "")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Marked != 4 {
		t.Fatalf("marked = %d, want 4", res.Marked)
	}
	if len(res.Failed) != 0 {
		t.Fatalf("failures: %+v", res.Failed)
	}

	for _, id := range []string{t1.ID, t2.ID} {
		got, err := env.Engine.Repo.FindTask(env.Ctx, id)
		if err != nil {
			t.Fatalf("find %s: %v", id, err)
		}
		if got.ParentDeletedAt == nil {
			t.Fatalf("task %s missing parent-deleted marker", id)
		}
		if got.DeletedAt != nil {
			t.Fatalf("task %s soft-deleted by cascade, want marker only", id)
		}
	}
	gotSp, _ := env.Engine.Repo.FindSprint(env.Ctx, sp.ID)
	if gotSp.ParentDeletedAt == nil {
		t.Fatalf("sprint missing marker")
	}
	gotAl, _ := env.Engine.Repo.FindActionList(env.Ctx, al.ID)
	if gotAl.ParentDeletedAt == nil {
		t.Fatalf("action list missing marker")
	}

	// no orphans: everything carries a marker
	orphans, err := env.Engine.OrphanedTasks(env.Ctx)
	if err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("orphans = %+v, want none", orphans)
	}
}

func TestDeleteSprintMarksAssignedOnly(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t, "keeper")
	sp := env.mustSprint(t, p.ID)
	in, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{ProjectID: p.ID, SprintID: sp.ID, Title: "in sprint"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	out := env.mustTask(t, p.ID, "backlog")

	res, err := env.Engine.DeleteSprint(env.Ctx, sp.ID, sp.Version, "", "")
	if err != nil {
		t.Fatalf("delete sprint: %v", err)
	}
	if res.Marked != 1 {
		t.Fatalf("marked = %d, want 1", res.Marked)
	}

	gotIn, _ := env.Engine.Repo.FindTask(env.Ctx, in.ID)
	if gotIn.ParentDeletedAt == nil {
		t.Fatalf("assigned task missing marker")
	}
	gotOut, _ := env.Engine.Repo.FindTask(env.Ctx, out.ID)
	if gotOut.ParentDeletedAt != nil {
		t.Fatalf("backlog task marked by sprint delete")
	}
}

func TestCascadeMarkIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t, "twice")
	task := env.mustTask(t, p.ID, "marked once")
	if _, err := env.Engine.DeleteProject(env.Ctx, p.ID, p.Version, "", ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	first, _ := env.Engine.Repo.FindTask(env.Ctx, task.ID)

	// re-running the mark does not move the version or the timestamp
	if err := env.Engine.Repo.MarkTaskParentDeleted(env.Ctx, task.ID, "2030-01-01T00:00:00Z", "again"); err != nil {
		t.Fatalf("re-mark: %v", err)
	}
	second, _ := env.Engine.Repo.FindTask(env.Ctx, task.ID)
	if second.Version != first.Version {
		t.Fatalf("version moved on re-mark: %d -> %d", first.Version, second.Version)
	}
	if *second.ParentDeletedAt != *first.ParentDeletedAt {
		t.Fatalf("marker timestamp rewritten")
	}
}

func TestDeleteProjectWithStaleVersion(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t, "careful")
	if _, err := env.Engine.UpdateProject(env.Ctx, engine.UpdateProjectOptions{
		ID: p.ID, ExpectedVersion: p.Version, Status: strPtr("active"),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	_, err := env.Engine.DeleteProject(env.Ctx, p.ID, p.Version, "", "")
	if apperr.KindOf(err) != apperr.VersionConflict {
		t.Fatalf("got %v, want version conflict", err)
	}
	// nothing was marked
	task := env.mustTask(t, p.ID, "survivor")
	got, _ := env.Engine.Repo.FindTask(env.Ctx, task.ID)
	if got.ParentDeletedAt != nil {
		t.Fatalf("dependent marked despite rejected delete")
	}
}

func TestSprintAndListLifecycle(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t, "lifecycle")
	sp := env.mustSprint(t, p.ID)

	sp, err := env.Engine.UpdateSprint(env.Ctx, engine.UpdateSprintOptions{
		ID: sp.ID, ExpectedVersion: sp.Version, Status: strPtr("active"),
	})
	if err != nil || sp.Status != domain.SprintStatusActive {
		t.Fatalf("activate sprint: %v", err)
	}
	_, err = env.Engine.UpdateSprint(env.Ctx, engine.UpdateSprintOptions{
		ID: sp.ID, ExpectedVersion: sp.Version, Status: strPtr("planned"),
	})
	if apperr.KindOf(err) != apperr.InvalidTransition {
		t.Fatalf("active -> planned: got %v, want invalid transition", err)
	}

	al, err := env.Engine.CreateActionList(env.Ctx, engine.CreateActionListOptions{
		ProjectID: p.ID,
		SprintID:  sp.ID,
		Items:     []domain.Item{{Text: "review notes"}},
	})
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	al, err = env.Engine.UpdateActionList(env.Ctx, engine.UpdateActionListOptions{
		ID: al.ID, ExpectedVersion: al.Version, Status: strPtr("closed"),
	})
	if err != nil || al.Status != domain.ActionListStatusClosed {
		t.Fatalf("close list: %v", err)
	}
	// lists can reopen
	al, err = env.Engine.UpdateActionList(env.Ctx, engine.UpdateActionListOptions{
		ID: al.ID, ExpectedVersion: al.Version, Status: strPtr("open"),
	})
	if err != nil || al.Status != domain.ActionListStatusOpen {
		t.Fatalf("reopen list: %v", err)
	}
}

func TestReassignTaskSprint(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t, "home")
	other := env.mustProject(t, "away")
	spHome := env.mustSprint(t, p.ID)
	spAway := env.mustSprint(t, other.ID)
	task := env.mustTask(t, p.ID, "mover")

	task, err := env.Engine.UpdateTask(env.Ctx, engine.UpdateTaskOptions{
		ID: task.ID, ExpectedVersion: task.Version, SprintID: strPtr(spHome.ID),
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if task.SprintID == nil || *task.SprintID != spHome.ID {
		t.Fatalf("sprint = %v", task.SprintID)
	}

	_, err = env.Engine.UpdateTask(env.Ctx, engine.UpdateTaskOptions{
		ID: task.ID, ExpectedVersion: task.Version, SprintID: strPtr(spAway.ID),
	})
	if apperr.KindOf(err) != apperr.CrossProjectSprint {
		t.Fatalf("cross-project reassign: got %v, want rejection", err)
	}

	task, err = env.Engine.UpdateTask(env.Ctx, engine.UpdateTaskOptions{
		ID: task.ID, ExpectedVersion: task.Version, SprintID: strPtr(""),
	})
	if err != nil {
		t.Fatalf("detach: %v", err)
	}
	if task.SprintID != nil {
		t.Fatalf("sprint not cleared")
	}
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{Name: "audited", CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 5, "project.created", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.EntityID == nil || *ev.EntityID != p.ID {
		t.Fatalf("entity id = %v", ev.EntityID)
	}
	if ev.CorrelationID == nil || *ev.CorrelationID != "corr-1" {
		t.Fatalf("correlation id = %v", ev.CorrelationID)
	}
}

func strPtr(s string) *string { return &s }

func TestCreateChainAndStaleRetry(t *testing.T) {
	env := newTestEnv(t)

	p, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "P-1", Name: "chain"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	sp, err := env.Engine.CreateSprint(env.Ctx, engine.CreateSprintOptions{ID: "S-1", ProjectID: p.ID})
	if err != nil {
		t.Fatalf("create sprint: %v", err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		ID:        "T-1",
		ProjectID: p.ID,
		SprintID:  sp.ID,
		Title:     "first",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	updated, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, task.Version, "ready", "")
	if err != nil {
		t.Fatalf("status update: %v", err)
	}
	if updated.Version != task.Version+1 {
		t.Fatalf("version = %d, want %d", updated.Version, task.Version+1)
	}

	// replaying the same update with the pre-update version must conflict
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, task.Version, "ready", "")
	if apperr.KindOf(err) != apperr.VersionConflict {
		t.Fatalf("stale retry: %v, want version conflict", err)
	}
}

func TestSameStatusUpdateKeepsVersion(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t, "steady")
	task := env.mustTask(t, p.ID, "restated")

	ready, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, task.Version, "ready", "")
	if err != nil {
		t.Fatalf("ready: %v", err)
	}

	again, err := env.Engine.UpdateTaskStatus(env.Ctx, ready.ID, ready.Version, "ready", "")
	if err != nil {
		t.Fatalf("restate ready: %v", err)
	}
	if again.Version != ready.Version {
		t.Fatalf("version moved %d -> %d on a same-status update", ready.Version, again.Version)
	}

	dropped, err := env.Engine.UpdateTaskStatus(env.Ctx, ready.ID, ready.Version, "dropped", "")
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	// restating a terminal status is also a no-op, not an illegal transition
	again, err = env.Engine.UpdateTaskStatus(env.Ctx, dropped.ID, dropped.Version, "dropped", "")
	if err != nil {
		t.Fatalf("restate dropped: %v", err)
	}
	if again.Version != dropped.Version {
		t.Fatalf("version moved %d -> %d on a terminal restate", dropped.Version, again.Version)
	}
}
