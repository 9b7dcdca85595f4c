package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"

	"backupvault/internal/config"
)

// promptBackupParameters interactively collects source, destination, and
// mode, seeded with the last-used values from preferences.
func promptBackupParameters(store *config.Store) (source, destination, mode string) {
	prefs := store.Preferences()

	color.New(color.FgCyan, color.Bold).Println("backupvault — interactive backup")
	fmt.Println()

	srcPrompt := promptui.Prompt{
		Label:   "Source directory",
		Default: prefs.LastSource,
		Validate: func(input string) error {
			info, err := os.Stat(input)
			if err != nil || !info.IsDir() {
				return fmt.Errorf("not a valid directory")
			}
			return nil
		},
	}
	source, err := srcPrompt.Run()
	if err == promptui.ErrInterrupt {
		color.New(color.FgRed, color.Bold).Println("\nInterrupted. Exiting.")
		os.Exit(130)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, "source prompt failed:", err)
		os.Exit(1)
	}

	destPrompt := promptui.Prompt{
		Label:   "Destination directory",
		Default: prefs.LastDestination,
	}
	destination, err = destPrompt.Run()
	if err == promptui.ErrInterrupt {
		color.New(color.FgRed, color.Bold).Println("\nInterrupted. Exiting.")
		os.Exit(130)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, "destination prompt failed:", err)
		os.Exit(1)
	}

	modeSelect := promptui.Select{
		Label: "Backup mode",
		Items: []string{"full", "incremental", "differential"},
	}
	_, mode, err = modeSelect.Run()
	if err == promptui.ErrInterrupt {
		color.New(color.FgRed, color.Bold).Println("\nInterrupted. Exiting.")
		os.Exit(130)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, "mode prompt failed:", err)
		os.Exit(1)
	}

	return source, destination, mode
}
