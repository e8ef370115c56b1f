package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/client/models"
	"github.com/dmitrijs2005/chatvault/internal/client/session"
	"github.com/dmitrijs2005/chatvault/internal/client/unlock"
	"github.com/dmitrijs2005/chatvault/internal/cryptox"
)

var (
	errNotSignedIn = errors.New("not signed in: use 'login' or 'register'")
	errLocked      = errors.New("vault is locked: use 'unlock' (or 'setup' for a new vault)")
)

// check enforces a command's requirement and records the activity.
func (a *App) check(c command) error {
	a.vault.Session.Touch()
	switch c.needs {
	case signedIn:
		if !a.vault.Account.SignedIn(context.Background()) {
			return errNotSignedIn
		}
	case unlocked:
		if !a.vault.Account.SignedIn(context.Background()) {
			return errNotSignedIn
		}
		if !a.vault.Session.IsUnlocked() {
			return errLocked
		}
	}
	return nil
}

func (a *App) commands() []command {
	return []command{
		{name: "register", help: "create an account and sign in", run: a.register},
		{name: "login", args: "[username]", help: "sign in to an existing account", run: a.login},
		{name: "logout", help: "sign out and wipe local data", needs: signedIn, run: a.logout},
		{name: "setup", help: "create the vault key protected by a password", needs: signedIn, run: a.setup},
		{name: "unlock", args: "[password|passkey|phrase]", help: "unlock the vault", needs: signedIn, run: a.unlock},
		{name: "lock", help: "lock the vault", run: a.lock},
		{name: "sync", help: "reload everything from the server", needs: unlocked, run: func(ctx context.Context, _ []string) error { return a.sync(ctx) }},

		{name: "chats", help: "list chats", needs: unlocked, run: a.listChats},
		{name: "chat", args: "new|show|say|rename|pin|unpin|archive|move|delete ...", help: "work with one chat", needs: unlocked,
			run: subcommands(map[string]func(context.Context, []string) error{
				"new":     a.newChat,
				"show":    a.showChat,
				"say":     a.say,
				"rename":  a.renameChat,
				"pin":     a.flagChat(func(c *models.Chat) { c.Pinned = true }),
				"unpin":   a.flagChat(func(c *models.Chat) { c.Pinned = false }),
				"archive": a.flagChat(func(c *models.Chat) { c.Archived = true }),
				"move":    a.moveChat,
				"delete":  a.deleteChat,
			})},

		{name: "notes", help: "list notes", needs: unlocked, run: a.listNotes},
		{name: "note", args: "new|show|edit|rename|move|delete ...", help: "work with one note", needs: unlocked,
			run: subcommands(map[string]func(context.Context, []string) error{
				"new":    a.newNote,
				"show":   a.showNote,
				"edit":   a.editNote,
				"rename": a.renameNote,
				"move":   a.moveNote,
				"delete": a.deleteNote,
			})},

		{name: "folders", help: "list folders", needs: unlocked, run: a.listFolders},
		{name: "folder", args: "new|rename|delete ...", help: "work with one folder", needs: unlocked,
			run: subcommands(map[string]func(context.Context, []string) error{
				"new":    a.newFolder,
				"rename": a.renameFolder,
				"delete": a.deleteFolder,
			})},

		{name: "devices", help: "list signed-in devices", needs: signedIn, run: a.listDevices},
		{name: "device", args: "label <text>|revoke <id>", help: "label this device or revoke another", needs: signedIn,
			run: subcommands(map[string]func(context.Context, []string) error{
				"label":  a.labelDevice,
				"revoke": a.revokeDevice,
			})},

		{name: "credentials", help: "list unlock methods", needs: signedIn, run: a.listCredentials},
		{name: "credential", args: "remove <id>", help: "remove an unlock method", needs: signedIn,
			run: subcommands(map[string]func(context.Context, []string) error{
				"remove": a.removeCredential,
			})},
		{name: "password", help: "change the vault password", needs: unlocked, run: a.setPassword},
		{name: "passkey", args: "add [name]|rename <id> <name>", help: "manage passkeys", needs: unlocked,
			run: subcommands(map[string]func(context.Context, []string) error{
				"add":    a.addPasskey,
				"rename": a.renamePasskey,
			})},
		{name: "phrase", help: "generate a new recovery phrase", needs: unlocked, run: a.newPhrase},
	}
}

// ---- account ----

func (a *App) readNewPassword(prompt string) ([]byte, error) {
	pw, err := GetPassword(prompt, a.out)
	if err != nil {
		return nil, err
	}
	again, err := GetPassword("Repeat "+strings.ToLower(prompt), a.out)
	if err != nil {
		cryptox.Wipe(pw)
		return nil, err
	}
	defer cryptox.Wipe(again)
	if string(pw) != string(again) {
		cryptox.Wipe(pw)
		return nil, errors.New("passwords do not match")
	}
	if len(pw) == 0 {
		return nil, errors.New("empty password")
	}
	return pw, nil
}

func (a *App) register(ctx context.Context, _ []string) error {
	username, err := GetSimpleText(a.reader, "Enter user name", a.out)
	if err != nil {
		return err
	}
	if username == "" {
		return errors.New("empty user name")
	}
	pw, err := a.readNewPassword("Account password")
	if err != nil {
		return err
	}
	defer cryptox.Wipe(pw)

	if err := a.vault.Account.Register(ctx, username, pw); err != nil {
		return err
	}
	if err := a.vault.Account.Login(ctx, username, pw); err != nil {
		return err
	}
	a.println("Registered and signed in. Run 'setup' to create your vault.")
	return nil
}

func (a *App) login(ctx context.Context, args []string) error {
	username := rest(args)
	if username == "" {
		last, _ := a.vault.Account.Username(ctx)
		prompt := "Enter user name"
		if last != "" {
			prompt += fmt.Sprintf(" (empty for %s)", last)
		}
		typed, err := GetSimpleText(a.reader, prompt, a.out)
		if err != nil {
			return err
		}
		username = typed
		if username == "" {
			username = last
		}
	}
	pw, err := GetPassword("Account password", a.out)
	if err != nil {
		return err
	}
	defer cryptox.Wipe(pw)

	if err := a.vault.Account.Login(ctx, username, pw); err != nil {
		return err
	}
	a.println("Signed in. Use 'unlock' to open your vault.")
	return nil
}

func (a *App) logout(ctx context.Context, _ []string) error {
	if err := a.vault.SignOut(ctx); err != nil {
		return err
	}
	a.println("Signed out.")
	return nil
}

// ---- session ----

func (a *App) setup(ctx context.Context, _ []string) error {
	pw, err := a.readNewPassword("Vault password")
	if err != nil {
		return err
	}
	defer cryptox.Wipe(pw)

	if err := a.vault.Credentials.Initialize(ctx, pw); err != nil {
		return err
	}
	a.println("Vault created and unlocked.")

	label, err := GetSimpleText(a.reader, "Name this device (empty to skip)", a.out)
	if err == nil && label != "" {
		if err := a.vault.Devices.Register(ctx, label); err != nil {
			a.printf("Warning: device not labelled: %v\n", err)
		}
	}
	a.println("Tip: run 'phrase' to create a recovery phrase.")
	return nil
}

func (a *App) recoverer(method string) (unlock.Recoverer, func(), error) {
	switch method {
	case "", "password":
		pw, err := GetPassword("Vault password", a.out)
		if err != nil {
			return nil, nil, err
		}
		return a.vault.Credentials.Password(pw), func() { cryptox.Wipe(pw) }, nil
	case "passkey":
		return a.vault.Credentials.Passkey(a.authenticator, ""), func() {}, nil
	case "phrase":
		phrase, err := GetSimpleText(a.reader, "Enter your recovery phrase", a.out)
		if err != nil {
			return nil, nil, err
		}
		return a.vault.Credentials.RecoveryPhrase(phrase), func() {}, nil
	}
	return nil, nil, errUsage
}

func (a *App) unlock(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	method := rest(args)
	r, done, err := a.recoverer(method)
	if err != nil {
		return err
	}
	defer done()

	if err := a.vault.Credentials.Unlock(ctx, r); err != nil {
		return err
	}
	if method == "passkey" {
		if err := a.saveAuthenticator(ctx); err != nil {
			a.logger.Warn(ctx, "passkey state not saved", "error", err)
		}
	}
	a.println("Unlocked.")
	return a.sync(ctx)
}

func (a *App) lock(context.Context, []string) error {
	a.vault.Credentials.Lock()
	a.println("Locked.")
	return nil
}

// ---- chats ----

func (a *App) table(header string, rows func(w *tabwriter.Writer)) {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, header)
	rows(w)
	_ = w.Flush()
}

func flags(pinned, archived bool) string {
	var f []string
	if pinned {
		f = append(f, "pinned")
	}
	if archived {
		f = append(f, "archived")
	}
	return strings.Join(f, ",")
}

func (a *App) listChats(context.Context, []string) error {
	chats := a.vault.Chats.Items()
	if len(chats) == 0 {
		a.println("No chats.")
		return nil
	}
	a.table("ID\tTITLE\tFOLDER\tFLAGS\tUPDATED", func(w *tabwriter.Writer) {
		for _, c := range chats {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Title, c.FolderID, flags(c.Pinned, c.Archived), c.UpdatedAt.Local().Format(time.DateTime))
		}
	})
	return nil
}

func (a *App) newChat(ctx context.Context, args []string) error {
	title := rest(args)
	if title == "" {
		return errUsage
	}
	id, err := a.vault.Chats.Create(ctx, models.Chat{Title: title})
	if err != nil {
		return err
	}
	a.printf("Created chat %s\n", id)
	return nil
}

func (a *App) showChat(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	c, err := a.vault.Chats.Fetch(ctx, args[0])
	if err != nil {
		return err
	}
	a.printf("# %s\n", c.Title)
	for _, m := range c.Messages {
		a.printf("[%s] %s: %s\n", m.CreatedAt.Local().Format(time.TimeOnly), m.Role, m.Content)
	}
	if len(c.Messages) == 0 {
		a.println("(no messages)")
	}
	return nil
}

// say appends a message: "chat say <id> [user|assistant|system:]<text>".
func (a *App) say(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	role := models.RoleUser
	text := rest(args[1:])
	if prefix, body, ok := strings.Cut(text, ":"); ok {
		if r, err := models.ParseRole(prefix); err == nil {
			role, text = r, strings.TrimSpace(body)
		}
	}
	if _, err := a.vault.Chats.AppendMessage(ctx, args[0], role, text); err != nil {
		return err
	}
	a.println("Message added.")
	return nil
}

func (a *App) editChat(ctx context.Context, id string, edit func(c *models.Chat)) error {
	c, ok := a.vault.Chats.Find(id)
	if !ok {
		return fmt.Errorf("no chat %s: run 'sync' first", id)
	}
	edit(&c)
	return a.vault.Chats.Update(ctx, c)
}

func (a *App) renameChat(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	return a.editChat(ctx, args[0], func(c *models.Chat) { c.Title = rest(args[1:]) })
}

func (a *App) flagChat(set func(c *models.Chat)) func(context.Context, []string) error {
	return func(ctx context.Context, args []string) error {
		if len(args) != 1 {
			return errUsage
		}
		return a.editChat(ctx, args[0], set)
	}
}

// folderArg maps "-" to no folder.
func folderArg(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

func (a *App) moveChat(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	return a.editChat(ctx, args[0], func(c *models.Chat) { c.FolderID = folderArg(args[1]) })
}

func (a *App) deleteChat(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if !Confirm(a.reader, "Delete chat "+args[0]+"?", a.out) {
		return nil
	}
	return a.vault.Chats.Delete(ctx, args[0])
}

// ---- notes ----

func (a *App) listNotes(context.Context, []string) error {
	notes := a.vault.Notes.Items()
	if len(notes) == 0 {
		a.println("No notes.")
		return nil
	}
	a.table("ID\tTITLE\tPARENT\tFOLDER\tFLAGS", func(w *tabwriter.Writer) {
		for _, n := range notes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n.ID, n.Title, n.ParentID, n.FolderID, flags(n.Pinned, n.Archived))
		}
	})
	return nil
}

// newNote creates a note: "note new [parent-id]".
func (a *App) newNote(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	title, err := GetSimpleText(a.reader, "Title", a.out)
	if err != nil {
		return err
	}
	body, err := GetMultiline(a.reader, "Body", a.out)
	if err != nil {
		return err
	}
	n := models.Note{Title: title, Body: body}
	if len(args) == 1 {
		n.ParentID = args[0]
	}
	id, err := a.vault.Notes.Create(ctx, n)
	if err != nil {
		return err
	}
	a.printf("Created note %s\n", id)
	return nil
}

func (a *App) showNote(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	n, err := a.vault.Notes.Fetch(ctx, args[0])
	if err != nil {
		return err
	}
	a.printf("# %s\n%s\n", n.Title, n.Body)
	return nil
}

func (a *App) editNote(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	n, err := a.vault.Notes.Fetch(ctx, args[0])
	if err != nil {
		return err
	}
	body, err := GetMultiline(a.reader, "New body", a.out)
	if err != nil {
		return err
	}
	n.Body = body
	return a.vault.Notes.Update(ctx, n)
}

func (a *App) updateNote(ctx context.Context, id string, edit func(n *models.Note)) error {
	n, ok := a.vault.Notes.Find(id)
	if !ok {
		return fmt.Errorf("no note %s: run 'sync' first", id)
	}
	edit(&n)
	return a.vault.Notes.Update(ctx, n)
}

func (a *App) renameNote(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	return a.updateNote(ctx, args[0], func(n *models.Note) { n.Title = rest(args[1:]) })
}

func (a *App) moveNote(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	return a.updateNote(ctx, args[0], func(n *models.Note) { n.FolderID = folderArg(args[1]) })
}

func (a *App) deleteNote(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if !Confirm(a.reader, "Delete note "+args[0]+"?", a.out) {
		return nil
	}
	return a.vault.Notes.Delete(ctx, args[0])
}

// ---- folders ----

func (a *App) listFolders(context.Context, []string) error {
	folders := a.vault.Folders.Items()
	if len(folders) == 0 {
		a.println("No folders.")
		return nil
	}
	a.table("ID\tNAME\tPARENT", func(w *tabwriter.Writer) {
		for _, f := range folders {
			fmt.Fprintf(w, "%s\t%s\t%s\n", f.ID, f.Name, f.ParentID)
		}
	})
	return nil
}

func (a *App) newFolder(ctx context.Context, args []string) error {
	name := rest(args)
	if name == "" {
		return errUsage
	}
	id, err := a.vault.Folders.Create(ctx, models.Folder{Name: name})
	if err != nil {
		return err
	}
	a.printf("Created folder %s\n", id)
	return nil
}

func (a *App) renameFolder(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	f, ok := a.vault.Folders.Find(args[0])
	if !ok {
		return fmt.Errorf("no folder %s: run 'sync' first", args[0])
	}
	f.Name = rest(args[1:])
	return a.vault.Folders.Update(ctx, f)
}

func (a *App) deleteFolder(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if !Confirm(a.reader, "Delete folder "+args[0]+"? Its chats and notes are kept.", a.out) {
		return nil
	}
	return a.vault.Folders.Delete(ctx, args[0])
}

// ---- devices ----

func (a *App) listDevices(ctx context.Context, _ []string) error {
	devices, err := a.vault.Devices.List(ctx)
	if err != nil {
		return err
	}
	a.table("ID\tLABEL\tLAST SEEN\tSTATE", func(w *tabwriter.Writer) {
		for _, d := range devices {
			label := d.Label
			if d.LabelLocked {
				label = "(locked)"
			}
			state := ""
			switch {
			case d.Current:
				state = "this device"
			case d.Revoked:
				state = "revoked"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, label, d.LastSeenAt.Local().Format(time.DateTime), state)
		}
	})
	return nil
}

func (a *App) labelDevice(ctx context.Context, args []string) error {
	label := rest(args)
	if label == "" {
		return errUsage
	}
	if err := a.vault.Devices.Register(ctx, label); err != nil {
		if errors.Is(err, session.ErrLocked) {
			return errLocked
		}
		return err
	}
	return nil
}

func (a *App) revokeDevice(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if !Confirm(a.reader, "Revoke device "+args[0]+"?", a.out) {
		return nil
	}
	if err := a.vault.Devices.Revoke(ctx, args[0]); err != nil {
		return err
	}
	a.println("Device revoked.")
	return nil
}

// ---- credentials ----

func (a *App) listCredentials(ctx context.Context, _ []string) error {
	creds, err := a.vault.Credentials.List(ctx)
	if err != nil {
		return err
	}
	a.table("ID\tMETHOD\tNAME\tCREATED", func(w *tabwriter.Writer) {
		for _, c := range creds {
			name := c.Name
			if c.NameLocked {
				name = "(locked)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Method, name, c.CreatedAt.Local().Format(time.DateTime))
		}
	})
	return nil
}

func (a *App) removeCredential(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if !Confirm(a.reader, "Remove unlock method "+args[0]+"?", a.out) {
		return nil
	}
	return a.vault.Credentials.Remove(ctx, args[0])
}

func (a *App) setPassword(ctx context.Context, _ []string) error {
	pw, err := a.readNewPassword("New vault password")
	if err != nil {
		return err
	}
	defer cryptox.Wipe(pw)
	if err := a.vault.Credentials.SetPassword(ctx, pw); err != nil {
		return err
	}
	a.println("Vault password changed.")
	return nil
}

func (a *App) addPasskey(ctx context.Context, args []string) error {
	name := rest(args)
	if name == "" {
		name = "software key"
	}
	if err := a.vault.Credentials.RegisterPasskey(ctx, a.authenticator, name); err != nil {
		return err
	}
	if err := a.saveAuthenticator(ctx); err != nil {
		return fmt.Errorf("passkey registered but its state was not saved: %w", err)
	}
	a.println("Passkey added.")
	return nil
}

func (a *App) renamePasskey(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	return a.vault.Credentials.RenamePasskey(ctx, args[0], rest(args[1:]))
}

func (a *App) newPhrase(ctx context.Context, _ []string) error {
	phrase, err := a.vault.Credentials.GenerateRecoveryPhrase(ctx)
	if err != nil {
		return err
	}
	a.println("Your recovery phrase (write it down, it is shown only once):")
	a.println()
	a.println("  " + phrase)
	a.println()
	a.println("Any previous phrase no longer works.")
	return nil
}
