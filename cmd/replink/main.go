package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "replink",
	Short: "Simulated S1 module with its REPL bridged over a BLE link",
	Long: `Boots a simulated Silicon Witchery S1 module: the device firmware runs
against a simulated Bluetooth stack and exposes its console as a byte
stream over a Nordic UART style GATT service.

The run command also plays the central side of the link and bridges the
console to a PTY (or to this terminal with --stdio), so any serial
terminal can talk to the device the way a phone app would over the air.

Useful for trying the console, exercising the transport under different
MTU and queue settings, and driving the simulated peripherals (flash,
FPGA, PMIC, RTC) interactively.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(runCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
