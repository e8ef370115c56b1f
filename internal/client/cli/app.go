package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/client/client"
	"github.com/dmitrijs2005/chatvault/internal/client/config"
	"github.com/dmitrijs2005/chatvault/internal/client/passkey"
	"github.com/dmitrijs2005/chatvault/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/chatvault/internal/client/services"
	"github.com/dmitrijs2005/chatvault/internal/filex"
	"github.com/dmitrijs2005/chatvault/internal/logging"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// App is one interactive CLI session: a vault, its server connection and
// the terminal it talks to.
type App struct {
	config        *config.Config
	vault         *services.Vault
	client        client.Client
	store         metadata.Store
	authenticator *passkey.SoftAuthenticator
	logger        logging.Logger
	db            *sql.DB

	modeMu sync.Mutex
	mode   Mode

	reader *bufio.Reader
	out    io.Writer
}

// DataDir resolves the configured data directory, defaulting to
// ~/.chatvault, and makes sure it exists.
func DataDir(c *config.Config) (string, error) {
	dir := c.DataDir
	if dir == "" {
		dir = "~/.chatvault"
	}
	return filex.EnsurePrivateDir(dir)
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.New("text", c.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}

	dir, err := DataDir(c)
	if err != nil {
		return nil, fmt.Errorf("data directory: %w", err)
	}
	db, err := client.InitDatabase(ctx, filepath.Join(dir, "vault.db"))
	if err != nil {
		logger.Error(ctx, "error initializing database", "error", err)
		return nil, err
	}
	repos := client.NewRepositories(db)

	tokens := client.NewTokenStore()
	apiClient, err := client.NewGRPCClient(c.ServerEndpointAddr, tokens)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	vault, err := services.NewVault(ctx, apiClient, tokens, repos.Metadata, repos.Records, logger)
	if err != nil {
		_ = apiClient.Close()
		_ = db.Close()
		return nil, err
	}

	a := newApp(c, vault, apiClient, repos.Metadata, logger, os.Stdin, os.Stdout)
	a.db = db
	if err := a.loadAuthenticator(ctx); err != nil {
		logger.Warn(ctx, "passkey state not loaded", "error", err)
	}
	return a, nil
}

func newApp(c *config.Config, v *services.Vault, cl client.Client, store metadata.Store, l logging.Logger, in io.Reader, out io.Writer) *App {
	a := &App{
		config:        c,
		vault:         v,
		client:        cl,
		store:         store,
		authenticator: passkey.NewSoftAuthenticator(c.AuthenticatorOrigin),
		logger:        logging.OrNop(l).With("module", "cli"),
		mode:          ModeOffline,
		reader:        bufio.NewReader(in),
		out:           out,
	}
	a.authenticator.Approve = a.approvePasskey
	return a
}

// approvePasskey stands in for the user gesture of a platform authenticator.
func (a *App) approvePasskey(_ context.Context, ceremony string) bool {
	return Confirm(a.reader, fmt.Sprintf("Allow passkey %s?", ceremony), a.out)
}

func (a *App) loadAuthenticator(ctx context.Context) error {
	state, err := a.store.Get(ctx, metadata.KeyAuthenticator)
	if err != nil || state == nil {
		return err
	}
	return a.authenticator.Import(state)
}

// saveAuthenticator persists the software authenticator. Its sign counter
// moves on every assertion, so this runs after each passkey ceremony.
func (a *App) saveAuthenticator(ctx context.Context) error {
	state, err := a.authenticator.Export()
	if err != nil {
		return err
	}
	return a.store.Set(ctx, metadata.KeyAuthenticator, state)
}

func (a *App) Mode() Mode {
	a.modeMu.Lock()
	defer a.modeMu.Unlock()
	return a.mode
}

func (a *App) setMode(mode Mode) {
	a.modeMu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.modeMu.Unlock()

	if changed {
		a.printf("Switched to %s mode\n", mode)
	}
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) println(args ...any) {
	fmt.Fprintln(a.out, args...)
}

// Run starts the background watchers and the REPL; it returns when the
// user exits or ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.Close()

	a.checkOnline(ctx)
	go a.StartOnlineStatusWatcher(ctx, a.config.OnlineCheckInterval)
	go a.StartIdleLockWatcher(ctx, a.config.IdleLockTimeout)

	a.println("chatvault CLI (type 'help' for commands)")
	runREPL(ctx, a.commands(), a.check, a.status, a.reader, a.out)
	return nil
}

func (a *App) Close() {
	a.vault.Session.Lock()
	if a.client != nil {
		_ = a.client.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *App) status() string {
	s := string(a.Mode())
	if name, _ := a.vault.Account.Username(context.Background()); name != "" && a.vault.Account.SignedIn(context.Background()) {
		s = name + " " + s
	}
	return s + " " + a.vault.Session.State().String()
}

func (a *App) checkOnline(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := a.vault.Account.Ping(ctx); err != nil {
		a.setMode(ModeOffline)
		return
	}
	a.setMode(ModeOnline)
}

// StartOnlineStatusWatcher probes the server every interval and switches
// between online and offline mode.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.checkOnline(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// StartIdleLockWatcher locks the session after timeout without activity.
// A zero timeout disables it.
func (a *App) StartIdleLockWatcher(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	interval := timeout / 10
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if a.vault.Session.LockIfIdle(timeout) {
				a.logger.Info(ctx, "session locked after inactivity", "timeout", timeout.String())
				a.println("\nSession locked after inactivity. Use 'unlock' to continue.")
			}
		case <-ctx.Done():
			return
		}
	}
}

// sync pulls every collection from the server, falling back to the local
// mirror when the server cannot be reached.
func (a *App) sync(ctx context.Context) error {
	reports, err := a.vault.Refresh(ctx)
	if errors.Is(err, client.ErrUnavailable) {
		a.setMode(ModeOffline)
		a.println("Server unreachable, showing the last synced state")
		reports, err = a.vault.LoadCached(ctx)
	}
	if err != nil {
		return err
	}
	for _, r := range reports {
		if perr := r.Err(); perr != nil {
			a.printf("Warning: %v\n", perr)
		}
	}
	return nil
}
