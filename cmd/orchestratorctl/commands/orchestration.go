package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var orchestrationCmd = &cobra.Command{
	Use:     "orchestration",
	Aliases: []string{"orch"},
	Short:   "Manage multi-agent orchestrations",
}

var orchestrationListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List orchestrations",
	RunE:    runOrchestrationList,
}

var orchestrationGetCmd = &cobra.Command{
	Use:   "get <orchestrationID>",
	Short: "Show an orchestration's progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrchestrationGet,
}

var orchestrationSendTaskCmd = &cobra.Command{
	Use:   "send-task <orchestrationID> <text>",
	Short: "Send a task directive to an orchestration's coordinator",
	Args:  cobra.ExactArgs(2),
	RunE:  runOrchestrationSendTask,
}

var orchestrationSyncCmd = &cobra.Command{
	Use:   "sync <orchestrationID>",
	Short: "Force an immediate sync digest",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrchestrationSync,
}

var orchestrationCleanupCmd = &cobra.Command{
	Use:   "cleanup <orchestrationID>",
	Short: "Tear down an orchestration's sessions and worktrees",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrchestrationCleanup,
}

func init() {
	orchestrationCmd.AddCommand(orchestrationListCmd)
	orchestrationCmd.AddCommand(orchestrationGetCmd)
	orchestrationCmd.AddCommand(orchestrationSendTaskCmd)
	orchestrationCmd.AddCommand(orchestrationSyncCmd)
	orchestrationCmd.AddCommand(orchestrationCleanupCmd)
}

func runOrchestrationList(cmd *cobra.Command, args []string) error {
	var resp struct {
		Orchestrations []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Status  string `json:"status"`
			Workers []any  `json:"workers"`
		} `json:"orchestrations"`
	}
	if err := newAPIClient().get("/orchestration/", &resp); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tWORKERS")
	for _, o := range resp.Orchestrations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", o.ID, o.Name, o.Status, len(o.Workers))
	}
	return tw.Flush()
}

func runOrchestrationGet(cmd *cobra.Command, args []string) error {
	var resp map[string]any
	if err := newAPIClient().get("/orchestration/"+args[0]+"/progress", &resp); err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runOrchestrationSendTask(cmd *cobra.Command, args []string) error {
	body := map[string]any{"text": args[1]}
	return newAPIClient().post("/orchestration/"+args[0]+"/send-task", body, nil)
}

func runOrchestrationSync(cmd *cobra.Command, args []string) error {
	return newAPIClient().post("/orchestration/"+args[0]+"/sync", nil, nil)
}

func runOrchestrationCleanup(cmd *cobra.Command, args []string) error {
	return newAPIClient().post("/orchestration/"+args[0]+"/cleanup", nil, nil)
}
