package engine

import (
	"taskline/internal/apperr"
	"taskline/internal/domain"
)

// Allowed status transitions per entity. Task flow is
// new -> ready -> in_progress -> {blocked, review} -> done, with dropped
// reachable from every non-terminal state and blocked/review able to resume
// work. done and dropped are terminal.
var taskTransitions = map[string][]string{
	domain.TaskStatusNew:        {domain.TaskStatusReady, domain.TaskStatusDropped},
	domain.TaskStatusReady:      {domain.TaskStatusInProgress, domain.TaskStatusDropped},
	domain.TaskStatusInProgress: {domain.TaskStatusBlocked, domain.TaskStatusReview, domain.TaskStatusDropped},
	domain.TaskStatusBlocked:    {domain.TaskStatusInProgress, domain.TaskStatusReview, domain.TaskStatusDone, domain.TaskStatusDropped},
	domain.TaskStatusReview:     {domain.TaskStatusInProgress, domain.TaskStatusDone, domain.TaskStatusDropped},
	domain.TaskStatusDone:       {},
	domain.TaskStatusDropped:    {},
}

var projectTransitions = map[string][]string{
	domain.ProjectStatusDiscovery: {domain.ProjectStatusActive, domain.ProjectStatusClosed},
	domain.ProjectStatusActive:    {domain.ProjectStatusPaused, domain.ProjectStatusClosed},
	domain.ProjectStatusPaused:    {domain.ProjectStatusActive, domain.ProjectStatusClosed},
	domain.ProjectStatusClosed:    {},
}

var sprintTransitions = map[string][]string{
	domain.SprintStatusPlanned: {domain.SprintStatusActive, domain.SprintStatusClosed},
	domain.SprintStatusActive:  {domain.SprintStatusClosed},
	domain.SprintStatusClosed:  {},
}

var actionListTransitions = map[string][]string{
	domain.ActionListStatusOpen:   {domain.ActionListStatusClosed},
	domain.ActionListStatusClosed: {domain.ActionListStatusOpen},
}

func ensureTransition(table map[string][]string, from, to string) error {
	if from == to {
		return nil
	}
	for _, allowed := range table[from] {
		if allowed == to {
			return nil
		}
	}
	return apperr.InvalidTransitionf(from, to)
}
