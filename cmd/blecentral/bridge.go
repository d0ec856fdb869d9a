package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/bleconn/transport"
)

var bridgeSymlink string

var bridgeCmd = &cobra.Command{
	Use:   "bridge <peripheral-id>",
	Short: "Bridge a Nordic UART connection to a PTY",
	Long: `Creates a bidirectional PTY bridge to a connected peripheral: bytes
written to the PTY are sent over the connection, and inbound notification
data is written back to the PTY. Useful for pointing serial-oriented tools
at a BLE peripheral.`,
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().StringVar(&bridgeSymlink, "symlink", "", "Create a symlink to the PTY device (e.g. /tmp/ble-device)")
}

func runBridge(cmd *cobra.Command, args []string) error {
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

	master, slave, err := pty.Open()
	if err != nil {
		return fmt.Errorf("open pty: %w", err)
	}
	defer master.Close()
	defer slave.Close()

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to set pty raw mode: %v\n", err)
	}

	ptyName := slave.Name()
	fmt.Printf("pty bridge at %s\n", ptyName)
	if bridgeSymlink != "" {
		_ = os.Remove(bridgeSymlink)
		if err := os.Symlink(ptyName, bridgeSymlink); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to create symlink %s: %v\n", bridgeSymlink, err)
		} else {
			defer os.Remove(bridgeSymlink)
		}
	}

	stream, err := tr.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Println("connected, bridge is live")

	tr.SetReconnectionHandler(func(_ string, s <-chan []byte) {
		go pumpToPTY(master, s)
	})

	go pumpToPTY(master, stream)
	go pumpFromPTY(ctx, master, tr)

	<-ctx.Done()
	tr.Shutdown()
	return nil
}

func pumpToPTY(master *os.File, stream <-chan []byte) {
	for chunk := range stream {
		if _, err := master.Write(chunk); err != nil {
			return
		}
	}
}

func pumpFromPTY(ctx context.Context, master *os.File, tr *transport.Transport) {
	buf := make([]byte, 1024)
	for {
		n, err := master.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if sendErr := tr.Send(ctx, data); sendErr != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", sendErr)
			}
		}
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "pty read failed: %v\n", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
