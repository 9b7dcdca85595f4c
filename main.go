// Command backupvault backs up and restores file trees using full,
// incremental, and differential strategies, with declarative scheduling.
package main

import (
	"os"

	"backupvault/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
