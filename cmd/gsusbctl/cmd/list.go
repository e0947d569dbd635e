package cmd

import (
	"log"

	"github.com/roffe/gsusb"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list connected gs_usb adapters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := gsusb.ListDevices()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			log.Println("no gs_usb adapters found")
			return nil
		}
		for _, id := range ids {
			log.Println(id)
		}
		return nil
	},
}
