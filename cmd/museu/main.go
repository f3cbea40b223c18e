package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"museu/internal/app"
	"museu/internal/cache"
	"museu/internal/config"
	"museu/internal/gateway"
	"museu/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "museu",
	Short: "Museum network activity reports",
	Long: `museu collects the monthly activity reports of a museum network.
- Reports: one per professional per month (March to December), written as drafts,
  submitted, then approved or returned for adjustment by the coordination.
- Activities: what happened in the month, with audience figures by age group.
- Goals: consolidated targets activities can be linked to.
- Dashboard and audience: aggregates over the reports visible to you.

Run 'museu serve' for the API, then use the other commands against it with
--server and a token from 'museu login' or an API key.`,
	SilenceUsage: true,
}

func main() {
	_ = godotenv.Load()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MUSEU")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (defaults to <workspace>/museu.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("server", "http://127.0.0.1:8080", "API server URL")
	flags.String("base-path", "/v0", "API base path")
	flags.String("token", "", "bearer token")
	flags.String("api-key", "", "API key")
	for _, name := range []string{"workspace", "config", "json", "server", "base-path", "token", "api-key"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(audienceCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(eventsCmd())
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	return app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "museu: ", log.LstdFlags)
}

func newGateway() *gateway.HTTP {
	gw := gateway.New(viper.GetString("server"))
	gw.BasePath = viper.GetString("base-path")
	gw.BearerToken = viper.GetString("token")
	gw.APIKey = viper.GetString("api-key")
	return gw
}

// withSession logs in against the configured server and hands fn a session
// whose cache lives for the duration of the command.
func withSession(ctx context.Context, fn func(context.Context, *session.Session) error) error {
	return withClient(ctx, func(ctx context.Context, s *session.Session, _ *gateway.HTTP, _ *cache.Store) error {
		return fn(ctx, s)
	})
}

func withClient(ctx context.Context, fn func(context.Context, *session.Session, *gateway.HTTP, *cache.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	gw := newGateway()
	if !gw.Ready() {
		return fmt.Errorf("no credentials: run museu login or set MUSEU_TOKEN / MUSEU_API_KEY")
	}
	logger := newLogger()
	store := session.NewStore(cfg, logger)
	s := session.New(gw, store, cfg, logger)
	defer s.Logout()
	if _, err := s.Login(ctx); err != nil {
		return err
	}
	return fn(ctx, s, gw, store)
}

// show prints the result of a session query.
func show[T any](v T, _ cache.State, err error) error {
	if err != nil {
		return err
	}
	return printJSONOrTable(v)
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

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func optionalInt(cmd *cobra.Command, name string, v int) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}
