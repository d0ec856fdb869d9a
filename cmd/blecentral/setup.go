package main

import (
	"github.com/spf13/cobra"

	"github.com/srg/bleconn/internal/config"
	"github.com/srg/bleconn/transport"
)

// buildTransport loads config (honoring --config and --log-level) and
// constructs an un-started Transport against the real platform radio.
func buildTransport(cmd *cobra.Command) (*transport.Transport, error) {
	file, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		file.LogLevel = lvl
	}
	log := file.Logger()
	tr := transport.New(transport.Options{Logger: log, Config: file.ToCoreConfig()})
	return tr, nil
}
