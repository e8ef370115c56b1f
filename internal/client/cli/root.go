package cli

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/client/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// settings mirror the config package's short flags so cobra accepts them;
// they are also reachable by long name.
type settings struct {
	configFile     string
	addr           string
	dataDir        string
	idleMinutes    int
	onlineSeconds  int
	origin         string
	logLevel       string
	loaded         *config.Config
	loadConfigFunc func() *config.Config
}

// resolve loads the layered config and applies any flag cobra saw, so the
// long forms win the same way the short forms do.
func (s *settings) resolve(cmd *cobra.Command) *config.Config {
	cfg := s.loadConfigFunc()
	fl := cmd.Flags()
	if fl.Changed("addr") {
		cfg.ServerEndpointAddr = s.addr
	}
	if fl.Changed("data-dir") {
		cfg.DataDir = s.dataDir
	}
	if fl.Changed("idle-timeout") {
		cfg.IdleLockTimeout = time.Duration(s.idleMinutes) * time.Minute
	}
	if fl.Changed("online-interval") {
		cfg.OnlineCheckInterval = time.Duration(s.onlineSeconds) * time.Second
	}
	if fl.Changed("origin") {
		cfg.AuthenticatorOrigin = s.origin
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = s.logLevel
	}
	return cfg
}

func (s *settings) bind(pf *pflag.FlagSet) {
	pf.StringVarP(&s.configFile, "config", "c", "", "JSON config file (or $CHATVAULT_CONFIG)")
	pf.StringVarP(&s.addr, "addr", "a", "", "address and port of the server")
	pf.StringVarP(&s.dataDir, "data-dir", "d", "", "local data directory (default ~/.chatvault)")
	pf.IntVarP(&s.idleMinutes, "idle-timeout", "t", 0, "idle lock timeout in minutes, 0 disables")
	pf.IntVarP(&s.onlineSeconds, "online-interval", "i", 0, "online check interval in seconds")
	pf.StringVarP(&s.origin, "origin", "o", "", "software authenticator origin")
	pf.StringVarP(&s.logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
}

// NewRootCommand builds the chatvault command tree. Running it without a
// subcommand starts the interactive shell.
func NewRootCommand() *cobra.Command {
	s := &settings{loadConfigFunc: config.LoadConfig}

	root := &cobra.Command{
		Use:          "chatvault",
		Short:        "End-to-end encrypted chats and notes",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s.loaded = s.resolve(cmd)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), s.loaded)
		},
	}

	s.bind(root.PersistentFlags())

	root.AddCommand(shellCmd(s), registerCmd(s), loginCmd(s))
	return root
}

func shellCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), s.loaded)
		},
	}
}

func registerCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), s.loaded, func(a *App) error { return a.register(cmd.Context(), nil) })
		},
	}
}

func loginCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "login [username]",
		Short: "Sign in to an existing account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), s.loaded, func(a *App) error { return a.login(cmd.Context(), args) })
		},
	}
}

func runShell(ctx context.Context, cfg *config.Config) error {
	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

func runOnce(ctx context.Context, cfg *config.Config, fn func(a *App) error) error {
	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
