package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"backupvault/internal/archive"
	"backupvault/internal/progress"
	"backupvault/internal/restore"
)

func (a *app) restoreCommand() *cobra.Command {
	var folder, destination, password string
	var verify bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a backup folder (or its .zip/.zip.enc archive) into a destination",
		RunE: func(cmd *cobra.Command, args []string) error {
			if folder == "" || destination == "" {
				return fmt.Errorf("--folder and --dest are required")
			}

			folder, cleanup, err := materializeArchive(folder, password)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-interrupt
				color.New(color.FgRed, color.Bold).Println("\nInterrupted, finishing current file then stopping...")
				cancel()
			}()

			resolver := restore.NewResolver(a.catalog)
			rep := progress.NewReporter(64)

			done := make(chan struct{})
			go func() {
				defer close(done)
				renderRestoreProgress(rep)
			}()

			result, err := resolver.Run(ctx, restore.Request{
				BackupFolderPath: folder, Destination: destination, Verify: verify,
			}, rep)
			rep.Close()
			<-done
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}

			printRestoreSummary(result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "f", "", "Absolute path to the backup folder, .zip, or .zip.enc to restore")
	cmd.Flags().StringVarP(&destination, "dest", "d", "", "Destination directory to restore into")
	cmd.Flags().BoolVar(&verify, "verify", false, "Recompute and compare digests after copying")
	cmd.Flags().StringVar(&password, "password", "", "Password for a .zip.enc archive")
	return cmd
}

// materializeArchive reverses the post-processing a schedule may have
// applied to a backup folder: a .zip.enc is decrypted, a .zip is
// extracted into a staging directory under the backup folder's own name,
// and that tree is handed to the resolver like any other backup folder.
// When the catalog has a session for that name the restore is
// catalog-driven with chain probes rooted in the staging directory, so
// files held only by older backup folders are reported unresolved; a
// verbatim copy happens only when no session matches. Plain directories
// pass through untouched. The returned cleanup removes any temporary
// state.
func materializeArchive(path, password string) (string, func(), error) {
	noop := func() {}
	if !strings.HasSuffix(path, ".zip") && !strings.HasSuffix(path, ".zip.enc") {
		return path, noop, nil
	}

	workDir, err := os.MkdirTemp("", "backupvault-restore-")
	if err != nil {
		return "", noop, fmt.Errorf("create staging directory: %w", err)
	}
	cleanup := func() { os.RemoveAll(workDir) }

	zipPath := path
	if strings.HasSuffix(path, ".zip.enc") {
		if password == "" {
			cleanup()
			return "", noop, fmt.Errorf("--password is required to restore an encrypted archive")
		}
		zipPath = filepath.Join(workDir, strings.TrimSuffix(filepath.Base(path), ".enc"))
		if err := archive.DecryptFile(path, zipPath, password); err != nil {
			cleanup()
			return "", noop, err
		}
	}

	extracted := filepath.Join(workDir, strings.TrimSuffix(filepath.Base(zipPath), ".zip"))
	if err := archive.Unzip(zipPath, extracted); err != nil {
		cleanup()
		return "", noop, err
	}
	return extracted, cleanup, nil
}

func renderRestoreProgress(rep *progress.Reporter) {
	var bar *progressbar.ProgressBar
	for ev := range rep.C() {
		switch {
		case ev.Update != nil:
			u := ev.Update
			if bar == nil {
				bar = progressbar.NewOptions(u.FilesTotal,
					progressbar.OptionSetDescription("restoring"),
					progressbar.OptionShowCount(),
					progressbar.OptionSetWidth(30),
				)
			}
			_ = bar.Set(u.FilesProcessed)
		case ev.Terminal != nil:
			if bar != nil {
				_ = bar.Finish()
			}
			fmt.Println()
		}
	}
}

func printRestoreSummary(result *restore.Result) {
	c := color.New(color.FgGreen, color.Bold)
	if result.Status != "completed" || len(result.Unresolved) > 0 {
		c = color.New(color.FgYellow, color.Bold)
	}
	c.Printf("Restore %s\n", result.Status)
	fmt.Printf("  restored:   %d / %d files\n", result.FilesRestored, result.FilesTotal)
	if len(result.Unresolved) > 0 {
		color.New(color.FgYellow).Printf("  unresolved: %d files (not found in the chain or copy failed)\n", len(result.Unresolved))
		for _, f := range result.Unresolved {
			fmt.Printf("    - %s\n", f)
		}
	}
	if len(result.Mismatched) > 0 {
		color.New(color.FgRed).Printf("  mismatched: %d files (verified digest differs from recorded digest)\n", len(result.Mismatched))
		for _, f := range result.Mismatched {
			fmt.Printf("    - %s\n", f)
		}
	}
}
