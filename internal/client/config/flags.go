package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/flagx"
)

// KnownFlags are the short flags parseFlags understands. The CLI declares
// the same names so its own parser accepts them.
var KnownFlags = []string{"-a", "-d", "-t", "-i", "-o", "-l"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   address and port of the backend server
//	-d string   local data directory
//	-t int      idle lock timeout in minutes (0 disables)
//	-i int      online check interval in seconds
//	-o string   software authenticator origin
//	-l string   log level
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], KnownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "local data directory")
	idleLockTimeout := fs.Int("t", int(cfg.IdleLockTimeout.Minutes()), "idle lock timeout (in minutes, 0 disables)")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.AuthenticatorOrigin, "o", cfg.AuthenticatorOrigin, "software authenticator origin")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.IdleLockTimeout = time.Duration(*idleLockTimeout) * time.Minute
	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}
