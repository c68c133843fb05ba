package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/whrgg/cloud-drive-project/internal/app"
	"github.com/whrgg/cloud-drive-project/internal/config"
	"github.com/whrgg/cloud-drive-project/internal/encryption"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var ownerFlag int64

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a DriveApp. The caller must close it.
// operation identifies the CLI command being run (e.g. "Upload", "EmptyTrash").
func newApp(ctx context.Context, operation string) (*app.DriveApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewDriveApp(ctx, cfg, operation, app.Options{})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// run opens the app, resolves the acting owner and calls fn. When params is
// non-nil the operation is journaled first.
func run(cmd *cobra.Command, operation string, params []string, fn func(ctx context.Context, a *app.DriveApp, owner int64) error) (err error) {
	ctx := cmd.Context()
	a, err := newApp(ctx, operation)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	owner, err := app.ResolveOwner(ownerFlag, a.Config())
	if err != nil {
		return err
	}
	if params != nil {
		if err := a.Record(ctx, strings.Join(params, " ")); err != nil {
			return err
		}
	}
	return a.Fail(fn(ctx, a, owner))
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// readPassphrase prompts on the terminal without echo. Piped input is read
// as one line.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "drive",
	Short:        "Multi-tenant cloud drive",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Println("Run 'drive keys init' before backing up the catalog.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Owner:       %d\n", cfg.Owner)
		fmt.Printf("Database:    %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Blob Store:  %s\n", cfg.BlobStore.Type)
		fmt.Printf("Search:      %s\n", cfg.Search.Type)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Quota:       %d bytes\n", cfg.Quota.DefaultTotal)
		fmt.Printf("Chunk Size:  %d bytes\n", cfg.Upload.ChunkSize)
		fmt.Printf("Metrics:     %t\n", cfg.Metrics.Enabled)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the blob store and catalog are usable",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "Check", nil, func(ctx context.Context, a *app.DriveApp, _ int64) error {
			if err := a.Check(ctx); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		})
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage catalog encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair used to seal catalog snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}
		if err := enc.Setup(pass); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Println("Keys created.")
		return nil
	},
}

// catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Back up and restore the metadata catalog",
}

var catalogBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Store an encrypted catalog snapshot in the blob store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "BackupCatalog", []string{}, func(ctx context.Context, a *app.DriveApp, _ int64) error {
			key, err := a.BackupCatalog(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Catalog stored at %s\n", key)
			return nil
		})
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "ListCatalogSnapshots", nil, func(ctx context.Context, a *app.DriveApp, _ int64) error {
			keys, err := a.ListCatalogSnapshots(ctx)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Println("No catalog snapshots.")
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		})
	},
}

var catalogRestoreCmd = &cobra.Command{
	Use:   "restore [KEY]",
	Short: "Replace the catalog with a snapshot (newest when KEY is omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := ""
		if len(args) > 0 {
			key = args[0]
		}
		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		// The journal lives in the catalog being replaced, so restores are not recorded.
		return run(cmd, "RestoreCatalog", nil, func(ctx context.Context, a *app.DriveApp, _ int64) error {
			restored, err := a.RestoreCatalog(ctx, key, pass)
			if err != nil {
				return err
			}
			fmt.Printf("Catalog restored from %s\n", restored)
			return nil
		})
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return run(cmd, "GetHistory", nil, func(ctx context.Context, a *app.DriveApp, _ int64) error {
			ops, err := a.History(ctx, limit)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				fmt.Println("No operations recorded.")
				return nil
			}
			for _, op := range ops {
				duration := ""
				if op.FinishedAt.Valid {
					duration = op.FinishedAt.Time.Sub(op.StartedAt).Truncate(time.Millisecond).String()
				}
				fmt.Printf("#%d  %-15s  %s  %-8s  %-10s  %s\n",
					op.ID,
					op.Name,
					op.StartedAt.Format("2006-01-02 15:04:05"),
					op.Status,
					duration,
					op.Parameters,
				)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().Int64Var(&ownerFlag, "owner", 0, "Acting owner id (default: DRIVE_OWNER or config owner)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configCheckCmd)
	keysCmd.AddCommand(keysInitCmd)
	catalogCmd.AddCommand(catalogBackupCmd)
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogRestoreCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
