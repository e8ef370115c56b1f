// Package cli is the chatvault terminal client: a cobra command tree whose
// default action is an interactive shell over services.Vault.
//
// The shell keeps a single bufio.Reader on stdin for the command line and
// every prompt a command issues. Commands declare whether they need a
// signed-in account or an unlocked vault, and the shell refuses them
// otherwise. Two background watchers run alongside it: one probes the
// server and flips between online and offline mode, the other locks the
// session after the configured idle timeout.
package cli
