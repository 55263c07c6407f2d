package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
	"taskline/internal/repo"
	"taskline/internal/server"
	tasklinesdk "taskline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline tracks projects, sprints, tasks, and action lists with
optimistic concurrency. Every entity carries a version; updates and deletes
require the version you last read, and a stale version is rejected rather
than silently overwritten. Deleting a project or sprint soft-deletes it and
marks everything underneath, so no task is ever left pointing at a parent
that silently vanished.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(sprintCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(healthCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, name, status string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, engine.CreateProjectOptions{ID: id, Name: name, Status: status})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&status, "status", "", "initial status (defaults to discovery)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var includeDeleted bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx, includeDeleted)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Version"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeDeleted, "deleted", false, "include soft-deleted projects")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.FindProject(ctx, args[0])
				if err != nil {
					return err
				}
				if p == nil {
					return fmt.Errorf("project %s not found", args[0])
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, status string
	var version int64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.UpdateProjectOptions{ID: args[0], ExpectedVersion: version}
				if cmd.Flags().Changed("name") {
					opts.Name = &name
				}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				p, err := e.UpdateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&status, "status", "", "status (discovery, active, paused, closed)")
	cmd.Flags().Int64Var(&version, "version", 0, "version last read")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	var version int64
	var note string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a project and mark its dependents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.DeleteProject(ctx, args[0], version, note, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "version last read")
	cmd.Flags().StringVar(&note, "note", "", "deletion note")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func sprintCmd() *cobra.Command {
	sp := &cobra.Command{Use: "sprint", Short: "Manage sprints"}
	sp.AddCommand(sprintCreateCmd())
	sp.AddCommand(sprintShowCmd())
	sp.AddCommand(sprintUpdateCmd())
	sp.AddCommand(sprintDeleteCmd())
	sp.AddCommand(sprintTasksCmd())
	return sp
}

func sprintCreateCmd() *cobra.Command {
	var id, project, startsAt, endsAt string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a sprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.CreateSprintOptions{ID: id, ProjectID: project}
				if startsAt != "" {
					opts.StartsAt = &startsAt
				}
				if endsAt != "" {
					opts.EndsAt = &endsAt
				}
				sp, err := e.CreateSprint(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(sp)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "sprint id (generated if omitted)")
	cmd.Flags().StringVar(&project, "project", "", "owning project id")
	cmd.Flags().StringVar(&startsAt, "starts-at", "", "start time (RFC 3339)")
	cmd.Flags().StringVar(&endsAt, "ends-at", "", "end time (RFC 3339)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func sprintShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				sp, err := r.FindSprint(ctx, args[0])
				if err != nil {
					return err
				}
				if sp == nil {
					return fmt.Errorf("sprint %s not found", args[0])
				}
				return printJSONOrTable(sp)
			})
		},
	}
	return cmd
}

func sprintUpdateCmd() *cobra.Command {
	var status, startsAt, endsAt string
	var version int64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.UpdateSprintOptions{ID: args[0], ExpectedVersion: version}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				if cmd.Flags().Changed("starts-at") {
					opts.StartsAt = &startsAt
				}
				if cmd.Flags().Changed("ends-at") {
					opts.EndsAt = &endsAt
				}
				sp, err := e.UpdateSprint(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(sp)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (planned, active, closed)")
	cmd.Flags().StringVar(&startsAt, "starts-at", "", "start time (RFC 3339)")
	cmd.Flags().StringVar(&endsAt, "ends-at", "", "end time (RFC 3339)")
	cmd.Flags().Int64Var(&version, "version", 0, "version last read")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func sprintDeleteCmd() *cobra.Command {
	var version int64
	var note string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a sprint and mark its dependents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.DeleteSprint(ctx, args[0], version, note, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "version last read")
	cmd.Flags().StringVar(&note, "note", "", "deletion note")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func sprintTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks <id>",
		Short: "List tasks in a sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasksInSprint(ctx, args[0])
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow new -> ready -> in_progress -> blocked/review -> done; dropped exits from any non-terminal status.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.CreateTaskOptions
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated if omitted)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "owning project id")
	cmd.Flags().StringVar(&opts.SprintID, "sprint", "", "sprint id (must belong to the same project)")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (lower is higher)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var project, sprint string
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tasks, err := r.ListTasks(ctx, repo.TaskFilters{
					ProjectID: project,
					SprintID:  sprint,
					Statuses:  statuses,
				})
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "filter by project")
	cmd.Flags().StringVar(&sprint, "sprint", "", "filter by sprint")
	cmd.Flags().StringArrayVar(&statuses, "status", []string{}, "status filter (repeatable)")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.FindTask(ctx, args[0])
				if err != nil {
					return err
				}
				if t == nil {
					return fmt.Errorf("task %s not found", args[0])
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, sprint string
	var priority int
	var version int64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.UpdateTaskOptions{ID: args[0], ExpectedVersion: version}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("priority") {
					opts.Priority = &priority
				}
				if cmd.Flags().Changed("sprint") {
					opts.SprintID = &sprint
				}
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority")
	cmd.Flags().StringVar(&sprint, "sprint", "", "sprint id (empty string detaches)")
	cmd.Flags().Int64Var(&version, "version", 0, "version last read")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var version int64
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Advance a task's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTaskStatus(ctx, args[0], version, args[1], "")
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "version last read")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	var version int64
	var note string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, args[0], version, note, "")
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "version last read")
	cmd.Flags().StringVar(&note, "note", "", "deletion note")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func listCmd() *cobra.Command {
	al := &cobra.Command{Use: "actionlist", Short: "Manage action lists", Aliases: []string{"al"}}
	al.AddCommand(listCreateCmd())
	al.AddCommand(listShowCmd())
	al.AddCommand(listUpdateCmd())
	al.AddCommand(listDeleteCmd())
	return al
}

func listCreateCmd() *cobra.Command {
	var id, project, sprint string
	var items []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an action list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.CreateActionListOptions{ID: id, ProjectID: project, SprintID: sprint}
				for _, text := range items {
					opts.Items = append(opts.Items, domainItem(text))
				}
				a, err := e.CreateActionList(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "action list id (generated if omitted)")
	cmd.Flags().StringVar(&project, "project", "", "owning project id")
	cmd.Flags().StringVar(&sprint, "sprint", "", "sprint id (must belong to the same project)")
	cmd.Flags().StringArrayVar(&items, "item", []string{}, "item text (repeatable)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func listShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an action list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.FindActionList(ctx, args[0])
				if err != nil {
					return err
				}
				if a == nil {
					return fmt.Errorf("action list %s not found", args[0])
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func listUpdateCmd() *cobra.Command {
	var status string
	var version int64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an action list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.UpdateActionListOptions{ID: args[0], ExpectedVersion: version}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				a, err := e.UpdateActionList(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (open, closed)")
	cmd.Flags().Int64Var(&version, "version", 0, "version last read")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func listDeleteCmd() *cobra.Command {
	var version int64
	var note string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete an action list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteActionList(ctx, args[0], version, note, "")
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "version last read")
	cmd.Flags().StringVar(&note, "note", "", "deletion note")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func auditCmd() *cobra.Command {
	audit := &cobra.Command{Use: "audit", Short: "Consistency checks"}
	audit.AddCommand(&cobra.Command{
		Use:   "orphans",
		Short: "List tasks whose parent is gone without a cascade marker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.OrphanedTasks(ctx)
				if err != nil {
					return err
				}
				if len(tasks) == 0 && !viper.GetBool("json") {
					fmt.Println("no orphaned tasks")
					return nil
				}
				return printTasks(tasks)
			})
		},
	})
	return audit
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: cfg.Server.BasePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Taskline API on http://%s%s\n", cfg.Server.Addr, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides taskline.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides taskline.yml)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Sprint", "Version"})
	for _, t := range tasks {
		sprint := ""
		if t.SprintID != nil {
			sprint = *t.SprintID
		}
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, sprint, t.Version})
	}
	tw.Render()
	return nil
}

func domainItem(text string) domain.Item {
	return domain.Item{Text: text}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func healthCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			base := "http://" + cfg.Server.Addr
			if addr != "" {
				base = addr
			}
			c := tasklinesdk.New(base)
			c.MaxRetries = cfg.Sync.MaxRetries
			c.BackoffBase = cfg.Sync.BackoffBase.Std()
			status, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "server base URL (default from taskline.yml)")
	return cmd
}
