package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"circdesk/internal/clock"
	"circdesk/internal/config"
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().StringP("config", "c", "", "path to a TOML config file")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check the stored circulation state without starting the server",
	Long: `Rebuild the circulation state from the database the way 'serve' would and run
every steady-state probe once. Exits non-zero when a probe fails or the state
cannot be rebuilt. Stop the server first or the journal may move underneath.`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("audit needs a database: set database.dsn or DATABASE_URL")
	}
	logger, err := newLogger("warn", cmd.ErrOrStderr(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, logger, clock.System{})
	if err != nil {
		return err
	}
	defer a.close()

	result := a.auditor.RunOnce(cmd.Context())
	failed := make(map[string]string, len(result.Violations))
	for _, v := range result.Violations {
		failed[v.Probe] = v.Error
		if failed[v.Probe] == "" {
			failed[v.Probe] = "expected " + v.Expected
		}
	}
	rows := make([][]string, 0, len(result.Observations))
	for _, p := range a.auditor.Probes() {
		status := successStyle.Render("ok")
		if reason, bad := failed[p.Name]; bad {
			status = warnStyle.Render(reason)
		}
		observed := "-"
		if v, ok := result.Observations[p.Name]; ok {
			observed = strconv.FormatFloat(v, 'f', -1, 64)
		}
		rows = append(rows, []string{p.Name, observed, status})
	}
	renderTable(cmd.OutOrStdout(), []string{"PROBE", "OBSERVED", "STATUS"}, rows)

	if !result.Healthy {
		return fmt.Errorf("%d of %d probes failed", len(result.Violations), len(a.auditor.Probes()))
	}
	return nil
}
