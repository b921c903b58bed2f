package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"doerline/internal/app"
	"doerline/internal/apperr"
	"doerline/internal/db"
	"doerline/internal/domain"
	"doerline/internal/engine"
	"doerline/internal/engine/auth"
	"doerline/internal/lifecycle"
	"doerline/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "dl",
	Short: "Doerline CLI",
	Long: `Doerline runs an academic-services marketplace: clients post projects,
supervisors claim and quote them, doers do the work, and every status change
goes through one role-aware transition table.
- Workspace: the directory holding doerline.yml, .env and the .doerline database.
- Actors: clients, supervisors, doers and the system; the CLI acts as --actor-id
  (the system actor when empty).
- Projects: move draft -> submitted -> analyzing -> quoted -> paid -> assigned ->
  in_progress -> submitted_for_qc -> delivered -> completed; cancelled and refunded
  are exits. 'dl project actions <id>' shows what you may do next.
- Event log: every change, view with 'dl log tail'.`,
	SilenceUsage: true,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", describeError(err))
		os.Exit(1)
	}
}

func initConfig() {
	workspace := viper.GetString("workspace")
	// A missing .env is fine.
	_ = godotenv.Load(filepath.Join(workspace, ".env"))
	viper.SetEnvPrefix("DOERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("db-driver", "sqlite", "database driver (sqlite or postgres)")
	flags.String("db-dsn", "", "database DSN (required for postgres)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "", "actor to act as (defaults to the system actor)")
	flags.String("system-actor", "system", "id of the system actor")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console or json)")
	for _, name := range []string{"workspace", "db-driver", "db-dsn", "json", "actor-id", "system-actor", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(pricingCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func newLogger() (*zap.Logger, error) {
	return logging.New(viper.GetString("log-level"), viper.GetString("log-format"))
}

func openApp(ctx context.Context) (*app.App, error) {
	driver, err := db.ParseDriver(viper.GetString("db-driver"))
	if err != nil {
		return nil, err
	}
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, app.Options{
		Workspace:     viper.GetString("workspace"),
		Driver:        driver,
		DSN:           viper.GetString("db-dsn"),
		SystemActorID: viper.GetString("system-actor"),
		Logger:        logger,
	})
}

// withEngine opens the workspace and runs fn as the --actor-id actor. The
// CLI is a local admin tool: it trusts the flag and looks the role up.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, auth.Actor) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	actor := a.System
	if id := strings.TrimSpace(viper.GetString("actor-id")); id != "" && id != a.System.ID {
		found, err := a.Engine.GetActor(ctx, id)
		if err != nil {
			return fmt.Errorf("actor %s: %w", id, err)
		}
		actor = auth.Actor{ID: found.ID, Role: found.Role}
	}
	return fn(ctx, a.Engine, actor)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printProjects(items []domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Client", "Supervisor", "Doer", "Quote"})
	for _, p := range items {
		quote := ""
		if p.UserQuote != nil {
			quote = fmt.Sprintf("%d", *p.UserQuote)
		}
		tw.AppendRow(table.Row{p.ID, p.Title, p.Status, p.ClientID, deref(p.SupervisorID), deref(p.DoerID), quote})
	}
	tw.Render()
	return nil
}

func printActors(items []domain.Actor) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Role", "Name", "Available"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.ID, a.Role, a.DisplayName, a.Available})
	}
	tw.Render()
	return nil
}

func printEvents(items []domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "TS", "Type", "Project", "Actor", "Payload"})
	for _, evt := range items {
		tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.ProjectID, evt.ActorID, evt.Payload})
	}
	tw.Render()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// describeError renders rejections with their kind so scripts can match on it.
func describeError(err error) string {
	var rej *lifecycle.Rejection
	if errors.As(err, &rej) {
		return fmt.Sprintf("%s: %s", rej.Kind, rej.Message)
	}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) && len(ve.Fields) > 0 {
		parts := make([]string, 0, len(ve.Fields))
		for _, f := range ve.Fields {
			parts = append(parts, f.Field+" "+f.Error)
		}
		return fmt.Sprintf("%s (%s)", err.Error(), strings.Join(parts, "; "))
	}
	return err.Error()
}
