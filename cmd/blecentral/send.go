package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <peripheral-id> <data>",
	Short: "Connect to a peripheral, send one payload, and disconnect",
	Args:  cobra.ExactArgs(2),
	RunE:  runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	peripheralID, payload := args[0], args[1]

	tr, err := buildTransport(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr.Run(ctx)
	if err := tr.Activate(); err != nil {
		return err
	}
	tr.SetDeviceID(peripheralID)

	if _, err := tr.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer tr.Shutdown()

	if err := tr.Send(ctx, []byte(payload)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Println("sent")
	return nil
}
