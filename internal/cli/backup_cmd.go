package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"backupvault/internal/backup"
	"backupvault/internal/progress"
)

func (a *app) backupCommand() *cobra.Command {
	var source, destination, mode string
	var interactive bool
	var workers int

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run a backup of a source directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interactive || (source == "" && destination == "") {
				source, destination, mode = promptBackupParameters(a.store)
			}
			if source == "" || destination == "" {
				return fmt.Errorf("--source and --dest are required (or pass --interactive)")
			}
			if mode == "" {
				mode = "full"
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-interrupt
				color.New(color.FgRed, color.Bold).Println("\nInterrupted, finishing current file then stopping...")
				cancel()
			}()

			exec := backup.NewExecutor(a.catalog)
			rep := progress.NewReporter(64)

			done := make(chan struct{})
			go func() {
				defer close(done)
				renderProgress(rep)
			}()

			result, err := exec.Run(ctx, backup.Request{
				Source: source, Destination: destination, Mode: backup.Mode(mode), Workers: workers,
			}, rep)
			rep.Close()
			<-done
			if err != nil {
				return fmt.Errorf("backup: %w", err)
			}

			printBackupSummary(result)
			pref := a.store.Preferences()
			pref.LastSource = source
			pref.LastDestination = destination
			pref.LastMode = mode
			_ = a.store.SetPreferences(pref)

			if result.Status == "error" {
				return fmt.Errorf("backup failed: %s", result.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "Source directory")
	cmd.Flags().StringVarP(&destination, "dest", "d", "", "Destination directory")
	cmd.Flags().StringVarP(&mode, "mode", "m", "full", "Backup mode: full, incremental, differential")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "Prompt for source, destination, and mode")
	cmd.Flags().IntVar(&workers, "workers", 0, "Worker pool size (0 = number of CPUs)")
	return cmd
}

func renderProgress(rep *progress.Reporter) {
	var bar *progressbar.ProgressBar
	for ev := range rep.C() {
		switch {
		case ev.Update != nil:
			u := ev.Update
			if bar == nil {
				bar = progressbar.NewOptions(u.FilesTotal,
					progressbar.OptionSetDescription("backing up"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetWidth(30),
					progressbar.OptionSetPredictTime(true),
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

func printBackupSummary(result *backup.Result) {
	c := color.New(color.FgGreen, color.Bold)
	if result.Status != "completed" {
		c = color.New(color.FgYellow, color.Bold)
	}
	c.Printf("Backup %s\n", result.Status)
	fmt.Printf("  mode:     %s (effective)\n", result.EffectiveMode)
	fmt.Printf("  folder:   %s\n", result.BackupFolder)
	fmt.Printf("  copied:   %d files (%d bytes)\n", result.FilesCopied, result.BytesCopied)
	fmt.Printf("  skipped:  %d files\n", result.FilesSkipped)
	fmt.Printf("  duration: %s\n", result.Duration)
}
