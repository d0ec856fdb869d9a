package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var scanDuration time.Duration

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Nordic UART peripherals",
	Long: `Scans for nearby peripherals advertising the Nordic UART service and
prints each discovery as it arrives. Runs until --duration elapses, or
indefinitely with --duration=0 until interrupted.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	tr, err := buildTransport(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if scanDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, scanDuration)
		defer cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	tr.Run(ctx)
	if err := tr.Activate(); err != nil {
		return err
	}

	seen := color.New(color.FgGreen).SprintFunc()
	tr.SetScanHandler(func(peripheralID string, rssi int) {
		fmt.Printf("%s  %s  %d dBm\n", seen("discovered"), peripheralID, rssi)
	})

	if err := tr.StartScanning(ctx); err != nil {
		return fmt.Errorf("start scanning: %w", err)
	}
	<-ctx.Done()
	tr.StopScanning()
	return nil
}
