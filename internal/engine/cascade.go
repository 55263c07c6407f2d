package engine

import (
	"context"
	"fmt"

	"taskline/internal/events"
	"taskline/internal/repo"
)

// CascadeFailure records one dependent the cascade could not mark. The parent
// delete already committed; the caller is expected to retry or surface the
// leftover through the orphan audit.
type CascadeFailure struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// CascadeResult summarizes a parent soft-delete and the fan-out over its
// dependents. Marking is at-least-once: re-running the cascade over an
// already marked dependent is a no-op.
type CascadeResult struct {
	Deleted string           `json:"deleted"`
	Marked  int              `json:"marked"`
	Failed  []CascadeFailure `json:"failed,omitempty"`
}

func cascadeNote(kind, id string) string {
	return fmt.Sprintf("%s %s deleted", kind, id)
}

// DeleteProject soft-deletes the project, then marks every live sprint, task,
// and action list under it. The parent delete is version-guarded; the marks
// are not, so a crash mid-cascade leaves markers missing rather than wrong,
// and a retry finishes the job.
func (e Engine) DeleteProject(ctx context.Context, id string, expectedVersion int64, note, correlationID string) (CascadeResult, error) {
	at := e.nowStr()
	if err := e.Repo.SoftDeleteProject(ctx, id, expectedVersion, at, note); err != nil {
		return CascadeResult{}, err
	}
	res := CascadeResult{Deleted: id}
	marker := cascadeNote("project", id)

	sprints, err := e.Repo.ListSprints(ctx, repo.SprintFilters{ProjectID: id})
	if err != nil {
		res.Failed = append(res.Failed, CascadeFailure{Entity: "sprint", ID: "*", Reason: err.Error()})
	}
	for _, sp := range sprints {
		if err := e.Repo.MarkSprintParentDeleted(ctx, sp.ID, at, marker); err != nil {
			res.Failed = append(res.Failed, CascadeFailure{Entity: "sprint", ID: sp.ID, Reason: err.Error()})
			continue
		}
		res.Marked++
	}

	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: id})
	if err != nil {
		res.Failed = append(res.Failed, CascadeFailure{Entity: "task", ID: "*", Reason: err.Error()})
	}
	for _, t := range tasks {
		if err := e.Repo.MarkTaskParentDeleted(ctx, t.ID, at, marker); err != nil {
			res.Failed = append(res.Failed, CascadeFailure{Entity: "task", ID: t.ID, Reason: err.Error()})
			continue
		}
		res.Marked++
	}

	lists, err := e.Repo.ListActionLists(ctx, repo.ActionListFilters{ProjectID: id})
	if err != nil {
		res.Failed = append(res.Failed, CascadeFailure{Entity: "action_list", ID: "*", Reason: err.Error()})
	}
	for _, a := range lists {
		if err := e.Repo.MarkActionListParentDeleted(ctx, a.ID, at, marker); err != nil {
			res.Failed = append(res.Failed, CascadeFailure{Entity: "action_list", ID: a.ID, Reason: err.Error()})
			continue
		}
		res.Marked++
	}

	e.appendEvent(ctx, "project.deleted", "project", id, id, correlationID, events.EventPayload{
		"note":   note,
		"marked": res.Marked,
		"failed": len(res.Failed),
	})
	return res, nil
}

// DeleteSprint soft-deletes the sprint and marks the tasks and action lists
// assigned to it. Marked dependents keep their project and stay addressable.
func (e Engine) DeleteSprint(ctx context.Context, id string, expectedVersion int64, note, correlationID string) (CascadeResult, error) {
	sp, err := e.Repo.FindSprint(ctx, id)
	if err != nil {
		return CascadeResult{}, err
	}
	at := e.nowStr()
	if err := e.Repo.SoftDeleteSprint(ctx, id, expectedVersion, at, note); err != nil {
		return CascadeResult{}, err
	}
	res := CascadeResult{Deleted: id}
	marker := cascadeNote("sprint", id)

	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{SprintID: id})
	if err != nil {
		res.Failed = append(res.Failed, CascadeFailure{Entity: "task", ID: "*", Reason: err.Error()})
	}
	for _, t := range tasks {
		if err := e.Repo.MarkTaskParentDeleted(ctx, t.ID, at, marker); err != nil {
			res.Failed = append(res.Failed, CascadeFailure{Entity: "task", ID: t.ID, Reason: err.Error()})
			continue
		}
		res.Marked++
	}

	lists, err := e.Repo.ListActionLists(ctx, repo.ActionListFilters{SprintID: id})
	if err != nil {
		res.Failed = append(res.Failed, CascadeFailure{Entity: "action_list", ID: "*", Reason: err.Error()})
	}
	for _, a := range lists {
		if err := e.Repo.MarkActionListParentDeleted(ctx, a.ID, at, marker); err != nil {
			res.Failed = append(res.Failed, CascadeFailure{Entity: "action_list", ID: a.ID, Reason: err.Error()})
			continue
		}
		res.Marked++
	}

	projectID := ""
	if sp != nil {
		projectID = sp.ProjectID
	}
	e.appendEvent(ctx, "sprint.deleted", "sprint", id, projectID, correlationID, events.EventPayload{
		"note":   note,
		"marked": res.Marked,
		"failed": len(res.Failed),
	})
	return res, nil
}
