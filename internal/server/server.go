// Package server exposes the HTTP API. Errors are rendered as RFC 9457
// problem documents; mutating routes replay stored responses when the same
// X-Request-Id is seen again.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskline/internal/apperr"
	"taskline/internal/engine"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type requestKey struct{}

// ProblemBody is the RFC 9457 problem document used for every error.
type ProblemBody struct {
	Type     string `json:"type" example:"https://taskline.dev/problems/version-conflict"`
	Title    string `json:"title" example:"Version Conflict"`
	Status   int    `json:"status" example:"409"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty" example:"/v0/tasks/T-1a2b3c4d"`
}

type problem struct {
	status int
	ProblemBody
}

func (p *problem) GetStatus() int { return p.status }
func (p *problem) Error() string  { return p.Detail }

func (p *problem) ContentType(string) string { return "application/problem+json" }

// New returns an HTTP handler exposing the Taskline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newProblem(status, msg, "")
	}
	huma.NewErrorWithContext = func(hctx huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema violations surface as validation problems.
			status = http.StatusBadRequest
		}
		instance := ""
		if hctx != nil {
			instance = hctx.URL().Path
		}
		return newProblem(status, msg, instance)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(correlationEcho)
	router.Use(newIdempotencyMiddleware(cfg.Engine.Repo))

	hcfg := huma.DefaultConfig("Taskline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerSprints(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerActionLists(group, cfg.Engine)
	registerAudit(group, cfg.Engine)

	return router, nil
}

func newProblem(status int, detail, instance string) huma.StatusError {
	title := http.StatusText(status)
	ptype := apperr.ProblemTypeBase + strings.ToLower(strings.ReplaceAll(title, " ", "-"))
	// 400s stay inside the taxonomy so callers branch on one stable set
	if status == http.StatusBadRequest {
		title = apperr.Title(apperr.Validation)
		ptype = apperr.ProblemType(apperr.Validation)
	}
	return &problem{
		status: status,
		ProblemBody: ProblemBody{
			Type:     ptype,
			Title:    title,
			Status:   status,
			Detail:   detail,
			Instance: instance,
		},
	}
}

// handleError maps domain errors onto problem documents. Unknown errors
// become opaque 500s.
func handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	instance := ""
	if r, ok := ctx.Value(requestKey{}).(*http.Request); ok {
		instance = r.URL.Path
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		status := apperr.HTTPStatus(ae.Kind)
		return &problem{
			status: status,
			ProblemBody: ProblemBody{
				Type:     apperr.ProblemType(ae.Kind),
				Title:    apperr.Title(ae.Kind),
				Status:   status,
				Detail:   ae.Message,
				Instance: instance,
			},
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &problem{
			status: http.StatusGatewayTimeout,
			ProblemBody: ProblemBody{
				Type:     apperr.ProblemTypeBase + "timeout",
				Title:    "Timeout",
				Status:   http.StatusGatewayTimeout,
				Detail:   "operation timed out",
				Instance: instance,
			},
		}
	}
	return &problem{
		status: http.StatusInternalServerError,
		ProblemBody: ProblemBody{
			Type:     apperr.ProblemTypeBase + "internal",
			Title:    "Internal Server Error",
			Status:   http.StatusInternalServerError,
			Detail:   "internal error",
			Instance: instance,
		},
	}
}

// concurrencyToken parses the X-Concurrency-Token header. Every update and
// delete requires it; the value is the version read by the client.
func concurrencyToken(ctx context.Context, raw string) (int64, huma.StatusError) {
	if strings.TrimSpace(raw) == "" {
		return 0, handleError(ctx, apperr.Validationf("X-Concurrency-Token header is required"))
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		return 0, handleError(ctx, apperr.Validationf("X-Concurrency-Token must be a positive integer"))
	}
	return v, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body Envelope[map[string]string] `json:"body"`
	}, error) {
		return &struct {
			Body Envelope[map[string]string] `json:"body"`
		}{Body: ok(map[string]string{"status": "ok"})}, nil
	})
}

type correlationHeader struct {
	CorrelationID string `header:"X-Correlation-Id"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		correlationHeader
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body Envelope[ProjectResponse] `json:"body"`
	}, error) {
		p, err := e.CreateProject(ctx, engine.CreateProjectOptions{
			ID:            input.Body.ID,
			Name:          input.Body.Name,
			Status:        input.Body.Status,
			CorrelationID: input.CorrelationID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[ProjectResponse] `json:"body"`
		}{Body: ok(projectResponse(p))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		IncludeDeleted bool `query:"include_deleted"`
	}) (*struct {
		Body Envelope[[]ProjectResponse] `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx, input.IncludeDeleted)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[[]ProjectResponse] `json:"body"`
		}{Body: ok(mapProjects(items))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body Envelope[ProjectResponse] `json:"body"`
	}, error) {
		p, err := e.Repo.FindProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if p == nil || p.DeletedAt != nil {
			return nil, handleError(ctx, apperr.NotFoundf("project", input.ProjectID))
		}
		return &struct {
			Body Envelope[ProjectResponse] `json:"body"`
		}{Body: ok(projectResponse(*p))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		correlationHeader
		ProjectID string               `path:"project_id"`
		Token     string               `header:"X-Concurrency-Token"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body Envelope[ProjectResponse] `json:"body"`
	}, error) {
		ver, perr := concurrencyToken(ctx, input.Token)
		if perr != nil {
			return nil, perr
		}
		p, err := e.UpdateProject(ctx, engine.UpdateProjectOptions{
			ID:              input.ProjectID,
			ExpectedVersion: ver,
			Name:            input.Body.Name,
			Status:          input.Body.Status,
			CorrelationID:   input.CorrelationID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[ProjectResponse] `json:"body"`
		}{Body: ok(projectResponse(p))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		correlationHeader
		ProjectID string `path:"project_id"`
		Token     string `header:"X-Concurrency-Token"`
		Note      string `query:"note"`
	}) (*struct {
		Body Envelope[CascadeResponse] `json:"body"`
	}, error) {
		ver, perr := concurrencyToken(ctx, input.Token)
		if perr != nil {
			return nil, perr
		}
		res, err := e.DeleteProject(ctx, input.ProjectID, ver, input.Note, input.CorrelationID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[CascadeResponse] `json:"body"`
		}{Body: ok(CascadeResponse(res))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-sprints",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/sprints",
		Summary:     "Sprints in project",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body Envelope[[]SprintResponse] `json:"body"`
	}, error) {
		items, err := e.ListSprintsInProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[[]SprintResponse] `json:"body"`
		}{Body: ok(mapSprints(items))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "Tasks in project",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body Envelope[[]TaskResponse] `json:"body"`
	}, error) {
		items, err := e.ListTasksInProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[[]TaskResponse] `json:"body"`
		}{Body: ok(mapTasks(items))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-actionlists",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/actionlists",
		Summary:     "Action lists in project",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body Envelope[[]ActionListResponse] `json:"body"`
	}, error) {
		items, err := e.ListActionListsInProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[[]ActionListResponse] `json:"body"`
		}{Body: ok(mapActionLists(items))}, nil
	})
}

func registerSprints(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-sprint",
		Method:        http.MethodPost,
		Path:          "/sprints",
		Summary:       "Create sprint",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		correlationHeader
		Body CreateSprintRequest `json:"body"`
	}) (*struct {
		Body Envelope[SprintResponse] `json:"body"`
	}, error) {
		sp, err := e.CreateSprint(ctx, engine.CreateSprintOptions{
			ID:            input.Body.ID,
			ProjectID:     input.Body.ProjectID,
			StartsAt:      input.Body.StartsAt,
			EndsAt:        input.Body.EndsAt,
			CorrelationID: input.CorrelationID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[SprintResponse] `json:"body"`
		}{Body: ok(sprintResponse(sp))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sprint",
		Method:      http.MethodGet,
		Path:        "/sprints/{sprint_id}",
		Summary:     "Get sprint",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SprintID string `path:"sprint_id"`
	}) (*struct {
		Body Envelope[SprintResponse] `json:"body"`
	}, error) {
		sp, err := e.Repo.FindSprint(ctx, input.SprintID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if sp == nil || sp.DeletedAt != nil {
			return nil, handleError(ctx, apperr.NotFoundf("sprint", input.SprintID))
		}
		return &struct {
			Body Envelope[SprintResponse] `json:"body"`
		}{Body: ok(sprintResponse(*sp))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-sprint",
		Method:      http.MethodPatch,
		Path:        "/sprints/{sprint_id}",
		Summary:     "Update sprint",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		correlationHeader
		SprintID string              `path:"sprint_id"`
		Token    string              `header:"X-Concurrency-Token"`
		Body     UpdateSprintRequest `json:"body"`
	}) (*struct {
		Body Envelope[SprintResponse] `json:"body"`
	}, error) {
		ver, perr := concurrencyToken(ctx, input.Token)
		if perr != nil {
			return nil, perr
		}
		sp, err := e.UpdateSprint(ctx, engine.UpdateSprintOptions{
			ID:              input.SprintID,
			ExpectedVersion: ver,
			Status:          input.Body.Status,
			StartsAt:        input.Body.StartsAt,
			EndsAt:          input.Body.EndsAt,
			CorrelationID:   input.CorrelationID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[SprintResponse] `json:"body"`
		}{Body: ok(sprintResponse(sp))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-sprint",
		Method:      http.MethodDelete,
		Path:        "/sprints/{sprint_id}",
		Summary:     "Delete sprint",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		correlationHeader
		SprintID string `path:"sprint_id"`
		Token    string `header:"X-Concurrency-Token"`
		Note     string `query:"note"`
	}) (*struct {
		Body Envelope[CascadeResponse] `json:"body"`
	}, error) {
		ver, perr := concurrencyToken(ctx, input.Token)
		if perr != nil {
			return nil, perr
		}
		res, err := e.DeleteSprint(ctx, input.SprintID, ver, input.Note, input.CorrelationID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[CascadeResponse] `json:"body"`
		}{Body: ok(CascadeResponse(res))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sprint-tasks",
		Method:      http.MethodGet,
		Path:        "/sprints/{sprint_id}/tasks",
		Summary:     "Tasks in sprint",
	}, func(ctx context.Context, input *struct {
		SprintID string `path:"sprint_id"`
	}) (*struct {
		Body Envelope[[]TaskResponse] `json:"body"`
	}, error) {
		items, err := e.ListTasksInSprint(ctx, input.SprintID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[[]TaskResponse] `json:"body"`
		}{Body: ok(mapTasks(items))}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		correlationHeader
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body Envelope[TaskResponse] `json:"body"`
	}, error) {
		t, err := e.CreateTask(ctx, engine.CreateTaskOptions{
			ID:            input.Body.ID,
			ProjectID:     input.Body.ProjectID,
			SprintID:      input.Body.SprintID,
			ParentID:      input.Body.ParentID,
			Title:         input.Body.Title,
			Priority:      input.Body.Priority,
			CorrelationID: input.CorrelationID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[TaskResponse] `json:"body"`
		}{Body: ok(taskResponse(t))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body Envelope[TaskResponse] `json:"body"`
	}, error) {
		t, err := e.Repo.FindTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if t == nil || t.DeletedAt != nil {
			return nil, handleError(ctx, apperr.NotFoundf("task", input.TaskID))
		}
		return &struct {
			Body Envelope[TaskResponse] `json:"body"`
		}{Body: ok(taskResponse(*t))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		correlationHeader
		TaskID string            `path:"task_id"`
		Token  string            `header:"X-Concurrency-Token"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body Envelope[TaskResponse] `json:"body"`
	}, error) {
		ver, perr := concurrencyToken(ctx, input.Token)
		if perr != nil {
			return nil, perr
		}
		t, err := e.UpdateTask(ctx, engine.UpdateTaskOptions{
			ID:              input.TaskID,
			ExpectedVersion: ver,
			Title:           input.Body.Title,
			Priority:        input.Body.Priority,
			SprintID:        input.Body.SprintID,
			CorrelationID:   input.CorrelationID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[TaskResponse] `json:"body"`
		}{Body: ok(taskResponse(t))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Advance task status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		correlationHeader
		TaskID string                  `path:"task_id"`
		Token  string                  `header:"X-Concurrency-Token"`
		Body   UpdateTaskStatusRequest `json:"body"`
	}) (*struct {
		Body Envelope[TaskResponse] `json:"body"`
	}, error) {
		ver, perr := concurrencyToken(ctx, input.Token)
		if perr != nil {
			return nil, perr
		}
		t, err := e.UpdateTaskStatus(ctx, input.TaskID, ver, input.Body.Status, input.CorrelationID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[TaskResponse] `json:"body"`
		}{Body: ok(taskResponse(t))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		correlationHeader
		TaskID string `path:"task_id"`
		Token  string `header:"X-Concurrency-Token"`
		Note   string `query:"note"`
	}) (*struct {
		Body Envelope[any] `json:"body"`
	}, error) {
		ver, perr := concurrencyToken(ctx, input.Token)
		if perr != nil {
			return nil, perr
		}
		if err := e.DeleteTask(ctx, input.TaskID, ver, input.Note, input.CorrelationID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[any] `json:"body"`
		}{Body: okEmpty()}, nil
	})
}

func registerActionLists(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-actionlist",
		Method:        http.MethodPost,
		Path:          "/actionlists",
		Summary:       "Create action list",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		correlationHeader
		Body CreateActionListRequest `json:"body"`
	}) (*struct {
		Body Envelope[ActionListResponse] `json:"body"`
	}, error) {
		a, err := e.CreateActionList(ctx, engine.CreateActionListOptions{
			ID:            input.Body.ID,
			ProjectID:     input.Body.ProjectID,
			SprintID:      input.Body.SprintID,
			Items:         domainItems(input.Body.Items),
			CorrelationID: input.CorrelationID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[ActionListResponse] `json:"body"`
		}{Body: ok(actionListResponse(a))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-actionlist",
		Method:      http.MethodGet,
		Path:        "/actionlists/{list_id}",
		Summary:     "Get action list",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ListID string `path:"list_id"`
	}) (*struct {
		Body Envelope[ActionListResponse] `json:"body"`
	}, error) {
		a, err := e.Repo.FindActionList(ctx, input.ListID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if a == nil || a.DeletedAt != nil {
			return nil, handleError(ctx, apperr.NotFoundf("action_list", input.ListID))
		}
		return &struct {
			Body Envelope[ActionListResponse] `json:"body"`
		}{Body: ok(actionListResponse(*a))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-actionlist",
		Method:      http.MethodPatch,
		Path:        "/actionlists/{list_id}",
		Summary:     "Update action list",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		correlationHeader
		ListID string                  `path:"list_id"`
		Token  string                  `header:"X-Concurrency-Token"`
		Body   UpdateActionListRequest `json:"body"`
	}) (*struct {
		Body Envelope[ActionListResponse] `json:"body"`
	}, error) {
		ver, perr := concurrencyToken(ctx, input.Token)
		if perr != nil {
			return nil, perr
		}
		opts := engine.UpdateActionListOptions{
			ID:              input.ListID,
			ExpectedVersion: ver,
			Status:          input.Body.Status,
			SprintID:        input.Body.SprintID,
			CorrelationID:   input.CorrelationID,
		}
		if input.Body.Items != nil {
			converted := domainItems(*input.Body.Items)
			opts.Items = &converted
		}
		a, err := e.UpdateActionList(ctx, opts)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[ActionListResponse] `json:"body"`
		}{Body: ok(actionListResponse(a))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-actionlist",
		Method:      http.MethodDelete,
		Path:        "/actionlists/{list_id}",
		Summary:     "Delete action list",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		correlationHeader
		ListID string `path:"list_id"`
		Token  string `header:"X-Concurrency-Token"`
		Note   string `query:"note"`
	}) (*struct {
		Body Envelope[any] `json:"body"`
	}, error) {
		ver, perr := concurrencyToken(ctx, input.Token)
		if perr != nil {
			return nil, perr
		}
		if err := e.DeleteActionList(ctx, input.ListID, ver, input.Note, input.CorrelationID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[any] `json:"body"`
		}{Body: okEmpty()}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "audit-orphans",
		Method:      http.MethodGet,
		Path:        "/audit/orphans",
		Summary:     "Tasks whose parent is gone without a cascade marker",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body Envelope[[]TaskResponse] `json:"body"`
	}, error) {
		items, err := e.OrphanedTasks(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body Envelope[[]TaskResponse] `json:"body"`
		}{Body: ok(mapTasks(items))}, nil
	})
}
