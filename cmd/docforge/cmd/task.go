package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/docforge/internal/clip"
	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/service"
	"github.com/hugo-lorenzo-mato/docforge/internal/tui"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage the task ledger",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <prompt>",
	Short: "Add a task waiting for ingestion",
	Long: `Add a task to the ledger. Source items for the task are read from
<inbox>/<task-id>/ unless --source points elsewhere.

Examples:
  docforge task add "A short history of the printing press"
  docforge task add --mode deep --max-subtopics 6 "The economics of lighthouses"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTaskAdd,
}

var taskImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Add every task listed in a YAML file",
	Long: `Add tasks from a YAML file, either a list of tasks or a mapping with a
"tasks" key. Each task accepts id, prompt, mode, max_subtopics and
source. The whole file is validated before any task is added.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskImport,
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks with their stages",
	Args:    cobra.NoArgs,
	RunE:    runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task>",
	Short: "Show a task and its document",
	Long: `Show a task record. Completed tasks also print their final document,
rendered for the terminal unless --raw is given. Task ids may be
abbreviated to a unique prefix or fuzzy match.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskShow,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task>",
	Short: "Cancel a task, dropping its checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

var taskRetryCmd = &cobra.Command{
	Use:   "retry <task>",
	Short: "Send a failed or stuck task back to its phase's entry stage",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRetry,
}

var (
	taskID           string
	taskMode         string
	taskMaxSubtopics int
	taskSource       string
	taskStage        string
	taskJSON         bool
	taskRaw          bool
	taskCopy         bool
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskAddCmd, taskImportCmd, taskListCmd, taskShowCmd, taskCancelCmd, taskRetryCmd)

	taskAddCmd.Flags().StringVar(&taskID, "id", "", "Task id (default: derived from the prompt)")
	taskAddCmd.Flags().StringVarP(&taskMode, "mode", "m", "simple", "Generation mode (simple, deep)")
	taskAddCmd.Flags().IntVar(&taskMaxSubtopics, "max-subtopics", 0, "Cap on planned sub-topics (0 = unlimited)")
	taskAddCmd.Flags().StringVar(&taskSource, "source", "", "Directory holding the task's source items")

	taskListCmd.Flags().StringVar(&taskStage, "stage", "", "Only list tasks at this stage")
	taskListCmd.Flags().BoolVar(&taskJSON, "json", false, "Print JSON")

	taskShowCmd.Flags().BoolVar(&taskJSON, "json", false, "Print the task record as JSON")
	taskShowCmd.Flags().BoolVar(&taskRaw, "raw", false, "Print the document as markdown")
	taskShowCmd.Flags().BoolVar(&taskCopy, "copy", false, "Copy the document to the clipboard")
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := service.CreateTask(cmd.Context(), a.stores.Ledger, service.TaskRequest{
		ID:           taskID,
		Prompt:       strings.Join(args, " "),
		Mode:         taskMode,
		MaxSubtopics: taskMaxSubtopics,
		Source:       taskSource,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Added task %s (%s)\n", task.ID, task.Mode)
	if task.Source == "" {
		fmt.Fprintf(out, "Place its source items in %s\n", a.source.DirFor(task))
	}
	return nil
}

func runTaskImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading task file: %w", err)
	}
	reqs, err := service.ParseTaskFile(data)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	for i, req := range reqs {
		task, err := service.CreateTask(cmd.Context(), a.stores.Ledger, req)
		if err != nil {
			return fmt.Errorf("imported %d of %d tasks: %w", i, len(reqs), err)
		}
		fmt.Fprintf(out, "Added task %s (%s)\n", task.ID, task.Mode)
	}
	fmt.Fprintf(out, "Imported %d tasks\n", len(reqs))
	return nil
}

func runTaskList(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	tasks, err := a.stores.Ledger.Scan(cmd.Context())
	if err != nil {
		return err
	}
	if taskStage != "" {
		stage, err := core.ParseStage(taskStage)
		if err != nil {
			return err
		}
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Stage == stage {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	out := cmd.OutOrStdout()
	if taskJSON {
		return writeJSON(out, tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks")
		return nil
	}
	fmt.Fprintln(out, tui.RenderTable(tasks, tui.TableOptions{Selected: -1}))
	fmt.Fprintln(out, tui.Summary(tasks))
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := resolveTaskID(ctx, a.stores.Ledger, args[0])
	if err != nil {
		return err
	}
	task, err := a.stores.Ledger.Get(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if taskJSON {
		return writeJSON(out, task)
	}
	fmt.Fprintln(out, tui.RenderDetails(task))

	if task.OutputRef == "" {
		if taskCopy {
			return fmt.Errorf("task %s has no document yet", task.ID)
		}
		return nil
	}
	doc, err := a.docs.Read(ctx, task.OutputRef)
	if err != nil {
		return fmt.Errorf("reading document %s: %w", task.OutputRef, err)
	}

	if taskCopy {
		res, err := clip.New().Copy(string(task.ID), doc)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res)
		return nil
	}
	if task.Stage != core.StageCompleted {
		return nil
	}

	fmt.Fprintln(out)
	if taskRaw {
		fmt.Fprint(out, doc)
		return nil
	}
	rendered, err := renderMarkdown(doc)
	if err != nil {
		a.logger.Debug("markdown rendering failed", "error", err)
		rendered = doc
	}
	fmt.Fprint(out, rendered)
	return nil
}

func renderMarkdown(doc string) (string, error) {
	width, _ := tui.TerminalSize()
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(min(width, 100)),
	)
	if err != nil {
		return "", err
	}
	return r.Render(doc)
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	return operate(cmd, args[0], "Cancelled", func(a *app, id core.TaskID) (*core.Task, error) {
		return a.pipeline.Cancel(cmd.Context(), id)
	})
}

func runTaskRetry(cmd *cobra.Command, args []string) error {
	return operate(cmd, args[0], "Retrying", func(a *app, id core.TaskID) (*core.Task, error) {
		return a.pipeline.Retry(cmd.Context(), id)
	})
}

func operate(cmd *cobra.Command, input, verb string, op func(*app, core.TaskID) (*core.Task, error)) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := resolveTaskID(cmd.Context(), a.stores.Ledger, input)
	if err != nil {
		return err
	}
	task, err := op(a, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s task %s, now %s\n", verb, task.ID, task.Stage)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
