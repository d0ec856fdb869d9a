// Command blecentral is a demo CLI driving the Transport Facade directly:
// scan for Nordic UART peripherals, connect, send bytes, or bridge a
// connection to a PTY for serial-style tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "blecentral",
	Short: "Nordic UART central-role BLE connection demo",
	Long: `blecentral drives a single BLE central-role connection state machine
against a Nordic UART Service peripheral:

- Scan for nearby peripherals advertising the Nordic UART service
- Connect, stream inbound notifications to stdout, and auto-reconnect
- Send bytes to a connected peripheral
- Bridge a connection to a PTY for serial-style tooling`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: search blecentral.yaml, then built-in defaults)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(bridgeCmd)
}
