package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kys42/remote-agent/agent"
	"github.com/kys42/remote-agent/cli"
	"github.com/kys42/remote-agent/errors"
)

// NewAgentsCmd returns the agent catalog commands.
func NewAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List registered agent types",
		RunE:  runAgentsList,
	}
	cmd.AddCommand(newAgentsRegisterCmd())
	return cmd
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	agents, err := newClient(cfg).ListAgents(cmd.Context())
	if err != nil {
		return err
	}

	if cli.GetOptions(cmd).JSONOutput {
		return json.NewEncoder(os.Stdout).Encode(agents)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tEXECUTABLE\tMAX SESSIONS")
	for _, def := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", def.ID, def.Type, def.Executable, def.MaxSessions)
	}
	return w.Flush()
}

func newAgentsRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a custom agent type with the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			id, _ := cmd.Flags().GetString("id")
			executable, _ := cmd.Flags().GetString("executable")
			if id == "" || executable == "" {
				return errors.New(errors.ErrCodeInvalidInput, "--id and --executable are required")
			}
			argsFlag, _ := cmd.Flags().GetString("args")
			template, _ := cmd.Flags().GetString("template")
			maxSessions, _ := cmd.Flags().GetInt("max-sessions")

			def := &agent.Definition{
				ID:              id,
				Type:            agent.TypeCustom,
				Executable:      executable,
				CommandTemplate: template,
				MaxSessions:     maxSessions,
			}
			if argsFlag != "" {
				def.DefaultArgs = strings.Fields(argsFlag)
			}

			if err := newClient(cfg).RegisterAgent(cmd.Context(), def); err != nil {
				return err
			}
			fmt.Printf("Registered agent type '%s'\n", id)
			return nil
		},
	}
	cmd.Flags().String("id", "", "Agent type identifier")
	cmd.Flags().String("executable", "", "Agent executable path or name")
	cmd.Flags().String("args", "", "Default arguments (space separated)")
	cmd.Flags().String("template", "", "Launch command template")
	cmd.Flags().Int("max-sessions", 1, "Concurrent session cap for this type")
	return cmd
}
