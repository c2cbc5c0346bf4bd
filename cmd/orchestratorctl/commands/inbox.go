package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Inspect and resolve pending attention items",
}

var inboxListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List open attention items",
	RunE:    runInboxList,
}

var inboxRespondCmd = &cobra.Command{
	Use:   "respond <itemID> <optionID>",
	Short: "Resolve an attention item by choosing one of its options",
	Args:  cobra.ExactArgs(2),
	RunE:  runInboxRespond,
}

var inboxDismissCmd = &cobra.Command{
	Use:   "dismiss <itemID>",
	Short: "Dismiss an attention item without delivering any option",
	Args:  cobra.ExactArgs(1),
	RunE:  runInboxDismiss,
}

func init() {
	inboxCmd.AddCommand(inboxListCmd)
	inboxCmd.AddCommand(inboxRespondCmd)
	inboxCmd.AddCommand(inboxDismissCmd)
}

func runInboxList(cmd *cobra.Command, args []string) error {
	var resp struct {
		Items []struct {
			ID        string `json:"id"`
			SessionID string `json:"sessionID"`
			Title     string `json:"title"`
			Severity  string `json:"severity"`
		} `json:"items"`
	}
	if err := newAPIClient().get("/inbox/", &resp); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSESSION\tSEVERITY\tTITLE")
	for _, item := range resp.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", item.ID, item.SessionID, item.Severity, item.Title)
	}
	return tw.Flush()
}

func runInboxRespond(cmd *cobra.Command, args []string) error {
	body := map[string]any{"optionId": args[1], "source": "cli"}
	return newAPIClient().post("/inbox/"+args[0]+"/respond", body, nil)
}

func runInboxDismiss(cmd *cobra.Command, args []string) error {
	body := map[string]any{"source": "cli"}
	return newAPIClient().post("/inbox/"+args[0]+"/dismiss", body, nil)
}
