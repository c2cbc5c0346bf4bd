package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage coding-agent sessions on a running Control Surface",
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions",
	RunE:    runSessionList,
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new session",
	RunE:  runSessionCreate,
}

var sessionInputCmd = &cobra.Command{
	Use:   "input <sessionID> <text>",
	Short: "Send text input to a session",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionInput,
}

var sessionStopCmd = &cobra.Command{
	Use:   "stop <sessionID>",
	Short: "Stop a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionStop,
}

var (
	sessionTool    string
	sessionProfile string
	sessionCWD     string
	sessionLabel   string
)

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionTool, "tool", "", "Tool kind (required)")
	sessionCreateCmd.Flags().StringVar(&sessionProfile, "profile", "", "Profile id")
	sessionCreateCmd.Flags().StringVar(&sessionCWD, "cwd", "", "Working directory")
	sessionCreateCmd.Flags().StringVar(&sessionLabel, "label", "", "Human-readable label")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionInputCmd)
	sessionCmd.AddCommand(sessionStopCmd)
}

func runSessionList(cmd *cobra.Command, args []string) error {
	var resp struct {
		Sessions []struct {
			ID      string `json:"id"`
			Tool    string `json:"tool"`
			CWD     string `json:"cwd"`
			Running bool   `json:"running"`
		} `json:"sessions"`
	}
	if err := newAPIClient().get("/session/", &resp); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTOOL\tCWD\tRUNNING")
	for _, sess := range resp.Sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", sess.ID, sess.Tool, sess.CWD, sess.Running)
	}
	return tw.Flush()
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	if sessionTool == "" {
		return &configError{reason: "--tool is required"}
	}
	body := map[string]any{
		"tool":      sessionTool,
		"profileId": sessionProfile,
		"cwd":       sessionCWD,
		"label":     sessionLabel,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := newAPIClient().post("/session/", body, &resp); err != nil {
		return err
	}
	fmt.Println(resp.ID)
	return nil
}

func runSessionInput(cmd *cobra.Command, args []string) error {
	body := map[string]any{"text": args[1]}
	return newAPIClient().post("/session/"+args[0]+"/input", body, nil)
}

func runSessionStop(cmd *cobra.Command, args []string) error {
	return newAPIClient().post("/session/"+args[0]+"/stop", nil, nil)
}
