package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zuluhq/zulu/pkg/planner"
	"github.com/zuluhq/zulu/pkg/provider"
)

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Plan a natural-language request and execute the task graph",
	Long: `Plan a natural-language request into a task graph and execute it
against the selected backend. Chitchat and ambiguous requests return a
reply or a clarification question without dispatching anything.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backendName, _ := cmd.Flags().GetString("backend")
		input := strings.Join(args, " ")

		p, closeBackend, err := buildPlanner(backendName)
		if err != nil {
			return err
		}
		defer p.Close()
		defer closeBackend()

		ctx, stop := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		plan, exec := p.PlanAndExecute(ctx, input)
		if done, err := printPlanOutcome(plan); done || err != nil {
			return err
		}
		fmt.Printf("✓ Planned %d tasks (request %s)\n",
			len(plan.Graph.Tasks), plan.Graph.RequestID)

		if exec == nil {
			return nil
		}
		for _, task := range exec.Graph.Tasks {
			mark := "✓"
			if task.Status == planner.TaskFailed {
				mark = "✗"
			}
			fmt.Printf("  %s %s (%s)\n", mark, task.TaskID, task.TaskType)
		}
		fmt.Printf("\nCompleted %d, failed %d in %.1fs\n",
			exec.TasksCompleted, exec.TasksFailed, exec.ElapsedSeconds)
		if exec.Summary != "" {
			fmt.Println()
			fmt.Println(exec.Summary)
		}
		if !exec.Success {
			return fmt.Errorf("execution finished with %d failed tasks", exec.TasksFailed)
		}
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <request>",
	Short: "Plan a natural-language request without executing it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := strings.Join(args, " ")

		p, closeBackend, err := buildPlanner("openclaw")
		if err != nil {
			return err
		}
		defer p.Close()
		defer closeBackend()

		ctx, stop := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		plan := p.Plan(ctx, input)
		if done, err := printPlanOutcome(plan); done || err != nil {
			return err
		}

		graph := plan.Graph
		fmt.Printf("Request %s: %d tasks\n\n", graph.RequestID, len(graph.Tasks))
		for _, task := range graph.Tasks {
			fmt.Printf("  %s (%s)\n", task.TaskID, task.TaskType)
			if len(task.DependsOn) > 0 {
				fmt.Printf("    depends on: %s\n", strings.Join(task.DependsOn, ", "))
			}
			fmt.Printf("    %s\n", task.Prompt)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("backend", "openclaw", "Dispatch backend (openclaw, gateway)")
}

func buildPlanner(backendName string) (*planner.Planner, func() error, error) {
	llm, err := provider.FromEnv()
	if err != nil {
		return nil, nil, err
	}
	backend, err := buildBackend(backendName)
	if err != nil {
		llm.Close()
		return nil, nil, err
	}
	p := planner.NewPlanner(llm, provider.ModelConfigFromEnv(), execCredentials(), backend)
	return p, backend.Close, nil
}

// printPlanOutcome handles the non-graph plan outcomes. Returns done=true
// when there is nothing to execute.
func printPlanOutcome(plan *planner.PlanResult) (bool, error) {
	if !plan.Success {
		return true, errors.New(plan.Err)
	}
	if plan.IsChitchat {
		fmt.Println(plan.ChitchatResponse)
		return true, nil
	}
	if plan.NeedsClarification {
		fmt.Println(plan.ClarificationQuestion)
		return true, nil
	}
	return false, nil
}
