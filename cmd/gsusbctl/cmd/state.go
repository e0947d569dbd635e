package cmd

import (
	"log"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	stateCmd.Flags().Uint16("channel", 0, "CAN channel")
	stateCmd.Flags().Duration("interval", time.Second, "poll interval")
	rootCmd.AddCommand(stateCmd)
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "poll bus state and error counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := openDevice(cmd)
		if err != nil {
			return err
		}
		defer dev.Close()

		if err := startDevice(cmd, dev); err != nil {
			return err
		}

		channel, _ := cmd.Flags().GetUint16("channel")
		interval, _ := cmd.Flags().GetDuration("interval")

		ctx := cmd.Context()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			state, err := dev.State(channel)
			if err != nil {
				return err
			}
			log.Println(state)
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}
