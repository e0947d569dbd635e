package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/gsusb"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "gsusbctl",
	Short:        "gs_usb CAN adapter tool",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	rootCmd.ExecuteContext(ctx)
}

const (
	flagBitrate     = "bitrate"
	flagDataBitrate = "data-bitrate"
	flagFD          = "fd"
	flagTimestamp   = "timestamp"
	flagListenOnly  = "listen-only"
	flagLoopback    = "loopback"
	flagOneShot     = "one-shot"
	flagBus         = "bus"
	flagAddress     = "address"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	pf := rootCmd.PersistentFlags()
	pf.Uint32P(flagBitrate, "b", 500000, "nominal bitrate in bit/s")
	pf.Uint32P(flagDataBitrate, "B", 0, "CAN FD data bitrate in bit/s")
	pf.Bool(flagFD, false, "enable CAN FD framing")
	pf.BoolP(flagTimestamp, "t", false, "enable hardware timestamps")
	pf.Bool(flagListenOnly, false, "listen-only mode, no ACKs")
	pf.Bool(flagLoopback, false, "loopback mode")
	pf.Bool(flagOneShot, false, "one-shot mode, no retransmission")
	pf.Int(flagBus, -1, "USB bus number, -1 = first device found")
	pf.Int(flagAddress, -1, "USB device address")
}

// openDevice opens the adapter selected by the --bus/--address flags, or
// the first one found. Enumeration is retried a few times so the tool can
// be started right after plugging the adapter in.
func openDevice(cmd *cobra.Command) (*gsusb.Device, error) {
	bus, _ := cmd.Flags().GetInt(flagBus)
	address, _ := cmd.Flags().GetInt(flagAddress)

	var dev *gsusb.Device
	err := retry.Do(func() error {
		var err error
		if bus >= 0 && address >= 0 {
			dev, err = gsusb.Find(bus, address)
		} else {
			dev, err = gsusb.Open()
		}
		return err
	},
		retry.Context(cmd.Context()),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("open attempt %d: %v", n+1, err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// modeFlags translates the CLI flags to gs_usb mode bits.
func modeFlags(cmd *cobra.Command) uint32 {
	var flags uint32
	if ok, _ := cmd.Flags().GetBool(flagFD); ok {
		flags |= gsusb.ModeFD
	}
	if ok, _ := cmd.Flags().GetBool(flagTimestamp); ok {
		flags |= gsusb.ModeHWTimestamp
	}
	if ok, _ := cmd.Flags().GetBool(flagListenOnly); ok {
		flags |= gsusb.ModeListenOnly
	}
	if ok, _ := cmd.Flags().GetBool(flagLoopback); ok {
		flags |= gsusb.ModeLoopBack
	}
	if ok, _ := cmd.Flags().GetBool(flagOneShot); ok {
		flags |= gsusb.ModeOneShot
	}
	return flags
}

// startDevice applies the bitrate flags and starts the CAN channel.
func startDevice(cmd *cobra.Command, dev *gsusb.Device) error {
	bitrate, _ := cmd.Flags().GetUint32(flagBitrate)
	dataBitrate, _ := cmd.Flags().GetUint32(flagDataBitrate)

	if err := dev.SendHostFormat(); err != nil {
		return err
	}
	if err := dev.SetBitrate(bitrate); err != nil {
		return err
	}
	if dataBitrate > 0 {
		if err := dev.SetDataBitrate(dataBitrate); err != nil {
			return err
		}
	}
	if err := dev.Start(modeFlags(cmd)); err != nil {
		return fmt.Errorf("failed to start device: %w", err)
	}
	return nil
}
