package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect <peripheral-id>",
	Short: "Connect to a Nordic UART peripheral and stream inbound data",
	Long: `Connects to the given peripheral, prints every inbound data chunk to
stdout, and keeps the connection alive (auto-reconnecting on drop) until
interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func runConnect(cmd *cobra.Command, args []string) error {
	peripheralID := args[0]

	tr, err := buildTransport(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
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
	tr.SetDeviceID(peripheralID)

	statusColor := color.New(color.FgYellow).SprintFunc()
	tr.SetDisconnectionHandler(func(deviceID string, err error) {
		if err != nil {
			fmt.Printf("%s %s: %v\n", statusColor("disconnected"), deviceID, err)
		} else {
			fmt.Printf("%s %s\n", statusColor("disconnected"), deviceID)
		}
	})
	tr.SetReconnectionHandler(func(deviceID string, stream <-chan []byte) {
		fmt.Printf("%s %s\n", statusColor("reconnected"), deviceID)
		go streamToStdout(stream)
	})

	stream, err := tr.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Printf("%s %s\n", statusColor("connected"), peripheralID)
	go streamToStdout(stream)

	<-ctx.Done()
	tr.Shutdown()
	return nil
}

func streamToStdout(stream <-chan []byte) {
	for chunk := range stream {
		os.Stdout.Write(chunk)
	}
}
