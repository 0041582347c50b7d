package setup

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/njoerd114/raindroprelay/internal/config"
	"github.com/njoerd114/raindroprelay/internal/model"
)

// TokenSaver persists the credentials entered during setup. Implemented by
// *state.Store.
type TokenSaver interface {
	SetTokens(ctx context.Context, access, refresh string) error
}

// Wizard walks the user through first-time configuration: Raindrop.io
// credentials, the browser's Bookmarks file, the sync mode, and optional
// daemon installation.
type Wizard struct {
	prompter *Prompter
	tokens   TokenSaver
	out      io.Writer
}

// NewWizard creates a Wizard reading from r and writing to w. Tokens entered
// during setup are persisted through tokens.
func NewWizard(r io.Reader, w io.Writer, tokens TokenSaver) *Wizard {
	return &Wizard{prompter: NewPrompter(r, w), tokens: tokens, out: w}
}

// Run executes the interactive setup and writes the resulting configuration
// to configPath. Returns the validated config on success.
func (wz *Wizard) Run(ctx context.Context, configPath string) (*config.Config, error) {
	fmt.Fprintln(wz.out, "RaindropRelay setup")
	fmt.Fprintln(wz.out, "===================")
	fmt.Fprintln(wz.out)

	cfg := &config.Config{
		RaindropURL: "https://api.raindrop.io/rest/v1",
	}

	if err := wz.stepCredentials(ctx, cfg); err != nil {
		return nil, err
	}
	if err := wz.stepBookmarksFile(cfg); err != nil {
		return nil, err
	}
	if err := wz.stepMode(cfg); err != nil {
		return nil, err
	}
	if err := wz.stepInclusion(cfg); err != nil {
		return nil, err
	}
	wz.stepPlacement(cfg)
	wz.stepSchedule(cfg)

	if err := cfg.Write(configPath); err != nil {
		return nil, err
	}
	fmt.Fprintf(wz.out, "\nConfiguration written to %s\n", configPath)

	wz.stepDaemon(configPath)
	return cfg, nil
}

func (wz *Wizard) stepCredentials(ctx context.Context, cfg *config.Config) error {
	fmt.Fprintln(wz.out, "Step 1: Raindrop.io credentials")
	fmt.Fprintln(wz.out, "  Create a test token at https://app.raindrop.io/settings/integrations")
	fmt.Fprintln(wz.out, "  (create an app, then copy its test token).")

	for attempt := 0; attempt < 3; attempt++ {
		token := wz.prompter.Secret("Test token")
		if token == "" {
			return fmt.Errorf("no token entered")
		}

		probeCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		err := PingRaindrop(probeCtx, cfg.RaindropURL, token)
		cancel()
		if err != nil {
			fmt.Fprintf(wz.out, "  Token check failed: %v\n", err)
			if !wz.prompter.Confirm("Try a different token?", true) {
				return fmt.Errorf("token verification failed: %w", err)
			}
			continue
		}

		fmt.Fprintln(wz.out, "  Token verified.")
		if err := wz.tokens.SetTokens(ctx, token, ""); err != nil {
			return fmt.Errorf("storing token: %w", err)
		}
		return nil
	}
	return fmt.Errorf("too many failed token attempts")
}

func (wz *Wizard) stepBookmarksFile(cfg *config.Config) error {
	fmt.Fprintln(wz.out, "\nStep 2: Browser bookmarks file")

	found := DiscoverBookmarksFiles()
	if len(found) == 0 {
		fmt.Fprintln(wz.out, "  No browser profiles found in the usual locations.")
		cfg.BookmarksFile = wz.prompter.String("Path to the Bookmarks file", "")
		return nil
	}

	options := append([]string{}, found...)
	options = append(options, "Other (enter a path manually)")
	choice, err := wz.prompter.Select("Found these bookmark files", options)
	if err != nil {
		return err
	}
	if choice == len(found) {
		cfg.BookmarksFile = wz.prompter.String("Path to the Bookmarks file", "")
	} else {
		cfg.BookmarksFile = found[choice]
	}
	return nil
}

func (wz *Wizard) stepMode(cfg *config.Config) error {
	fmt.Fprintln(wz.out, "\nStep 3: Sync mode")

	modes := []model.SyncMode{model.ModeOff, model.ModeAdditionsOnly, model.ModeMirror, model.ModeUploadOnly}
	labels := []string{
		"off            - download only; local edits stay local",
		"additions_only - both directions, nothing ever deleted",
		"mirror         - full two-way sync including deletions",
		"upload_only    - push local bookmarks up, import nothing",
	}
	choice, err := wz.prompter.Select("How should changes propagate?", labels)
	if err != nil {
		return err
	}
	cfg.Mode = modes[choice]

	if cfg.Mode == model.ModeMirror {
		fmt.Fprintln(wz.out, "  Note: mirror mode deletes bookmarks on both sides to keep them identical.")
		if !wz.prompter.Confirm("Continue with mirror mode?", false) {
			return wz.stepMode(cfg)
		}
	}
	return nil
}

func (wz *Wizard) stepInclusion(cfg *config.Config) error {
	fmt.Fprintln(wz.out, "\nStep 4: Collections")

	labels := []string{
		"Top-level collections only",
		"Only specific collections (by ID)",
		"All collections, including nested ones",
	}
	choice, err := wz.prompter.Select("Which collections should sync?", labels)
	if err != nil {
		return err
	}
	switch choice {
	case 0:
		cfg.Include = config.IncludeTopLevel
	case 1:
		cfg.Include = config.IncludeSelected
		fmt.Fprintln(wz.out, "  Collection IDs appear in raindrop.io URLs: app.raindrop.io/my/<ID>")
		cfg.SelectedCollections = wz.prompter.Int64List("Collection IDs")
	case 2:
		cfg.Include = config.IncludeAll
	}
	return nil
}

func (wz *Wizard) stepPlacement(cfg *config.Config) {
	fmt.Fprintln(wz.out, "\nStep 5: Placement")

	cfg.UseSubfolder = wz.prompter.Confirm("Keep everything in a \"Raindrop.io\" subfolder of the bookmark bar?", true)
	if cfg.UseSubfolder {
		cfg.SubfolderName = wz.prompter.String("Subfolder name", "Raindrop.io")
	}
}

func (wz *Wizard) stepSchedule(cfg *config.Config) {
	fmt.Fprintln(wz.out, "\nStep 6: Schedule")

	interval := wz.prompter.String("Sync interval (e.g. 5m, 1h)", "5m")
	d, err := time.ParseDuration(interval)
	if err != nil || d < time.Minute {
		fmt.Fprintln(wz.out, "  Using the default of 5m.")
		d = 5 * time.Minute
	}
	cfg.PollInterval = d
}

func (wz *Wizard) stepDaemon(configPath string) {
	fmt.Fprintln(wz.out, "\nStep 7: Background service")

	if !wz.prompter.Confirm("Install and start the background sync service now?", true) {
		fmt.Fprintln(wz.out, "  You can run a single pass any time with: raindroprelay sync-once")
		return
	}

	binPath, err := InstallBinary()
	if err != nil {
		fmt.Fprintf(wz.out, "  Could not install the binary: %v\n", err)
		return
	}
	if err := InstallDaemon(binPath, configPath); err != nil {
		fmt.Fprintf(wz.out, "  Could not install the service: %v\n", err)
		return
	}
	fmt.Fprintln(wz.out, "  Service installed and started.")
}
