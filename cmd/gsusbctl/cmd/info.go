package cmd

import (
	"log"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "print device configuration and capability",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := openDevice(cmd)
		if err != nil {
			return err
		}
		defer dev.Close()

		if sn, err := dev.SerialNumber(); err == nil && sn != "" {
			log.Println("serial:", sn)
		}

		info, err := dev.Info()
		if err != nil {
			return err
		}
		log.Println(info)

		cap, err := dev.Capability()
		if err != nil {
			return err
		}
		log.Println(cap)

		ext, err := dev.CapabilityExtended()
		if err != nil {
			return err
		}
		if ext == nil {
			log.Println("extended capability: not available")
			return nil
		}
		log.Println(ext)
		return nil
	},
}
