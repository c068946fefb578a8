package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hsfleet/byov-enrollment/platform/go/persistence"
)

const backupDirName = "backups"

// Command groups file-level backup helpers for the local backends. The
// postgres backend is backed up server-side (pg_dump), not here.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up and restore the local data files",
		Long:  "Copy the SQLite database file or the JSON document store into a timestamped backup, list existing backups, or restore one.",
	}

	cmd.AddCommand(createCommand())
	cmd.AddCommand(listCommand())
	cmd.AddCommand(restoreCommand())
	return cmd
}

func createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Copy the active data file into a timestamped backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, source, err := activeDataFile()
			if err != nil {
				return err
			}

			info, err := os.Stat(source)
			if err != nil {
				return fmt.Errorf("stat data file: %w", err)
			}

			dir := filepath.Join(cfg.DataDir, backupDirName)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create backup dir: %w", err)
			}

			stamp := time.Now().Format("20060102_150405")
			target := filepath.Join(dir, fmt.Sprintf("byov_backup_%s%s", stamp, filepath.Ext(source)))
			if err := copyFile(source, target); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "backup written: %s (%d bytes)\n", target, info.Size())
			return nil
		},
	}
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List existing backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := activeDataFile()
			if err != nil {
				return err
			}

			dir := filepath.Join(cfg.DataDir, backupDirName)
			entries, err := os.ReadDir(dir)
			if os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "no backups found")
				return nil
			}
			if err != nil {
				return fmt.Errorf("read backup dir: %w", err)
			}

			names := []string{}
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasPrefix(entry.Name(), "byov_backup_") {
					names = append(names, entry.Name())
				}
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no backups found")
				return nil
			}

			sort.Sort(sort.Reverse(sort.StringSlice(names)))
			for _, name := range names {
				info, err := os.Stat(filepath.Join(dir, name))
				if err != nil {
					return fmt.Errorf("stat backup: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %d bytes\n", name, info.Size())
			}
			return nil
		},
	}
}

func restoreCommand() *cobra.Command {
	var confirm bool

	c := &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Replace the active data file with a backup",
		Long:  "Replaces the active data file with the named backup. The current file is first copied aside with a .pre_restore suffix so the restore itself can be undone.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to restore without --confirm")
			}

			cfg, target, err := activeDataFile()
			if err != nil {
				return err
			}

			source := args[0]
			if !filepath.IsAbs(source) && filepath.Dir(source) == "." {
				source = filepath.Join(cfg.DataDir, backupDirName, source)
			}
			if _, err := os.Stat(source); err != nil {
				return fmt.Errorf("stat backup file: %w", err)
			}

			if _, err := os.Stat(target); err == nil {
				aside := target + ".pre_restore"
				if err := copyFile(target, aside); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "current data file saved to %s\n", aside)
			}

			if err := copyFile(source, target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s from %s\n", target, source)
			return nil
		},
	}

	c.Flags().BoolVar(&confirm, "confirm", false, "actually perform the restore")
	return c
}

// activeDataFile resolves the configured backend's on-disk data file.
func activeDataFile() (persistence.Config, string, error) {
	cfg, err := persistence.LoadConfig()
	if err != nil {
		return persistence.Config{}, "", err
	}

	backend, err := cfg.SelectBackend()
	if err != nil {
		return persistence.Config{}, "", err
	}

	switch backend {
	case persistence.BackendSQLite:
		return cfg, cfg.SQLitePath(), nil
	case persistence.BackendJSON:
		return cfg, cfg.FallbackPath(), nil
	default:
		return persistence.Config{}, "", fmt.Errorf("backend %q has no local data file; use pg_dump for server-side backups", backend)
	}
}

func copyFile(source, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open %s: %w", source, err)
	}
	defer in.Close()

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy to %s: %w", target, err)
	}
	return out.Sync()
}
