package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/roffe/gsusb"
	"github.com/spf13/cobra"
)

func init() {
	sendCmd.Flags().Bool("extended", false, "29 bit identifier")
	sendCmd.Flags().Bool("brs", false, "bit rate switch (CAN FD)")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <id> <hex data>",
	Short: "send one CAN frame",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 32)
		if err != nil {
			return fmt.Errorf("invalid identifier %q: %w", args[0], err)
		}
		data, err := hex.DecodeString(strings.ReplaceAll(args[1], " ", ""))
		if err != nil {
			return fmt.Errorf("invalid data %q: %w", args[1], err)
		}

		dev, err := openDevice(cmd)
		if err != nil {
			return err
		}
		defer dev.Close()

		if err := startDevice(cmd, dev); err != nil {
			return err
		}

		var frame *gsusb.Frame
		extended, _ := cmd.Flags().GetBool("extended")
		switch {
		case dev.FDMode():
			brs, _ := cmd.Flags().GetBool("brs")
			frame = gsusb.NewFDFrame(uint32(id), data, brs)
			if extended {
				frame.ID |= gsusb.CANEFFFlag
			}
		case extended:
			frame = gsusb.NewExtendedFrame(uint32(id), data)
		default:
			frame = gsusb.NewFrame(uint32(id), data)
		}
		if err := dev.Send(frame); err != nil {
			return err
		}
		fmt.Println(frame.ColorString())
		return nil
	},
}
