package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/umbra"
	"github.com/MrEthical07/umbra/config"
	"github.com/spf13/cobra"
)

var version = "dev" // set by the linker

// skipConfig marks commands that must run without a readable config file.
const skipConfig = "umbra.skip-config"

// flagKeys maps persistent flags to the config keys they override.
var flagKeys = map[string]string{
	"base-url":      "client.network.base_url",
	"vault-backend": "client.vault.backend",
	"log-level":     "client.logging.level",
	"log-format":    "client.logging.format",
}

// app carries what the persistent pre-run resolved for the command.
type app struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
}

// Execute runs the CLI until the command finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds a fresh command tree. Tests call it once per case.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "umbra",
		Short:        "Establish and manage an umbra client session",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default is the user config dir, then ./umbra.yaml)")
	pf.String("base-url", "", "session server base URL")
	pf.String("vault-backend", "", "vault backend: memory, redis or sqlite")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log format: text or json")

	root.AddCommand(
		a.newHandshakeCmd(),
		a.newStatusCmd(),
		a.newLogoutCmd(),
		a.newBearerCmd(),
		a.newPoWCmd(),
		a.newServeDemoCmd(),
		a.newInitConfigCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	if cmd.Annotations[skipConfig] == "true" {
		a.cfg = config.Config{Client: umbra.DefaultConfig()}
		a.logger = umbra.NewLogger(cmd.ErrOrStderr(), a.cfg.Client.Logging)
		return nil
	}

	cfg, err := config.Load[config.Config](cmd, config.Defaults(), a.configPath, flagKeys)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	a.cfg = cfg
	a.logger = umbra.NewLogger(cmd.ErrOrStderr(), cfg.Client.Logging)
	return nil
}

// client builds a client from the loaded configuration. The caller closes it.
func (a *app) client(ctx context.Context) (*umbra.Client, error) {
	return umbra.New().
		WithConfig(a.cfg.Client).
		WithLogger(a.logger).
		Build(ctx)
}
