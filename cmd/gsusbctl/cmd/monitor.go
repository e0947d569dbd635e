package cmd

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/roffe/gsusb"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	monitorCmd.Flags().Bool("echo", false, "also print tx echo frames")
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "dump CAN traffic",
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
		log.Printf("listening on %v, ctrl-c to stop", dev)

		showEcho, _ := cmd.Flags().GetBool("echo")
		frames := make(chan *gsusb.Frame, 64)

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			defer close(frames)
			for {
				if ctx.Err() != nil {
					return nil
				}
				frame, err := dev.Read(100 * time.Millisecond)
				if errors.Is(err, gsusb.ErrReadTimeout) {
					continue
				}
				if err != nil {
					return err
				}
				select {
				case frames <- frame:
				case <-ctx.Done():
					return nil
				}
			}
		})
		g.Go(func() error {
			for frame := range frames {
				if frame.IsEchoFrame() && !showEcho {
					continue
				}
				fmt.Println(frame.ColorString())
			}
			return nil
		})
		return g.Wait()
	},
}
