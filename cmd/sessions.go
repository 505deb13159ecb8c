package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kys42/remote-agent/cli"
	"github.com/kys42/remote-agent/runner"
	"github.com/kys42/remote-agent/sessions"
)

// NewSessionsCmd returns the session lifecycle commands.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List live agent sessions",
		RunE:  runSessionsList,
	}
	cmd.PersistentFlags().String("user", "", "Filter by owning user")

	cmd.AddCommand(newSessionsCreateCmd())
	cmd.AddCommand(newSessionsStatusCmd())
	cmd.AddCommand(newSessionsSubmitCmd())
	cmd.AddCommand(newSessionsSwitchCmd())
	cmd.AddCommand(newSessionsTailCmd())
	cmd.AddCommand(newSessionsEndCmd())
	return cmd
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	user, _ := cmd.Flags().GetString("user")

	list, err := newClient(cfg).ListSessions(cmd.Context(), user)
	if err != nil {
		return err
	}

	if cli.GetOptions(cmd).JSONOutput {
		return json.NewEncoder(os.Stdout).Encode(list)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tAGENT\tSTATE\tLAST ACTIVITY\tBACKLOG")
	for _, info := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			info.ID, info.UserID, info.AgentType, info.State,
			info.LastActivity.Format(time.RFC3339), info.BacklogDepth)
	}
	return w.Flush()
}

func newSessionsCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new agent session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			agentType, _ := cmd.Flags().GetString("agent")
			user, _ := cmd.Flags().GetString("user")
			workdir, _ := cmd.Flags().GetString("workdir")
			if workdir == "" {
				if workdir, err = os.Getwd(); err != nil {
					return err
				}
			}

			info, err := newClient(cfg).CreateSession(cmd.Context(), user, agentType, workdir)
			if err != nil {
				return err
			}
			return printSessionInfo(cmd, info)
		},
	}
	cmd.Flags().String("agent", "", "Agent type to launch")
	cmd.Flags().String("workdir", "", "Working directory for the agent process")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func newSessionsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			info, err := newClient(cfg).SessionStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printSessionInfo(cmd, info)
		},
	}
}

func newSessionsSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <session-id> <text>",
		Short: "Send input to a session's agent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			text := args[1]
			for _, extra := range args[2:] {
				text += " " + extra
			}
			if err := newClient(cfg).Submit(cmd.Context(), args[0], text); err != nil {
				return err
			}
			fmt.Println("Submitted")
			return nil
		},
	}
}

func newSessionsSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <session-id> <agent-type>",
		Short: "Replace a session's agent, keeping the session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			info, err := newClient(cfg).SwitchAgent(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printSessionInfo(cmd, info)
		},
	}
}

func newSessionsTailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail <session-id>",
		Short: "Stream a session's output to stdout",
		Long: `Attach to a session as its subscriber and print output lines as they
arrive, starting with any buffered backlog. Only one subscriber may be
attached at a time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			events, err := newClient(cfg).StreamOutput(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for ev := range events {
				if ev.Stream == runner.StreamStderr {
					fmt.Fprintln(os.Stderr, ev.Text)
					continue
				}
				fmt.Println(ev.Text)
			}
			return nil
		},
	}
}

func newSessionsEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <session-id>",
		Short: "Gracefully terminate a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := newClient(cfg).EndSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Session ended")
			return nil
		},
	}
}

func printSessionInfo(cmd *cobra.Command, info sessions.Info) error {
	if cli.GetOptions(cmd).JSONOutput {
		return json.NewEncoder(os.Stdout).Encode(info)
	}
	fmt.Printf("ID:             %s\n", info.ID)
	fmt.Printf("User:           %s\n", info.UserID)
	fmt.Printf("Agent:          %s\n", info.AgentType)
	fmt.Printf("State:          %s\n", info.State)
	fmt.Printf("Workdir:        %s\n", info.WorkingDirectory)
	fmt.Printf("Created:        %s\n", info.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Last activity:  %s\n", info.LastActivity.Format(time.RFC3339))
	fmt.Printf("Backlog depth:  %d\n", info.BacklogDepth)
	if info.ExitReason != "" {
		fmt.Printf("Exit reason:    %s\n", info.ExitReason)
	}
	return nil
}
