package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"VizBridge/internal/host/memhost"
	"VizBridge/internal/ready"
	"VizBridge/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Initialize the configured workspace, collect its schema once and print it as JSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := initLogging(cfg); err != nil {
			return err
		}
		fx, err := loadFixture(cfg)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		rt := memhost.New(fx, memhost.WithInitDelay(cfg.InitDelay()))
		gate := ready.NewGate()
		go func() {
			if err := rt.Initialize(ctx); err != nil {
				gate.Reject(err)
				return
			}
			gate.Fulfill()
		}()

		sc, err := schema.NewCollector(gate, rt.Workspace()).Collect(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sc)
	},
}
