package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/snarg/scribe-engine/internal/record"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			devices, err := record.NewExecDevice(cfg.RecordBackend).List(cmd.Context())
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				cmd.PrintErrln("no input devices found")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range devices {
				mark := ""
				if d.ID == cfg.RecordDevice {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, d.ID, d.Kind, d.Description)
			}
			return tw.Flush()
		},
	}
}
