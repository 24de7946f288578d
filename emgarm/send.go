package main

import (
	"log"
	"strings"

	"github.com/itohio/emgarm/pkg/capture"
	"github.com/itohio/emgarm/pkg/command"
	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "send <command>",
		Short: "Send a control command to the device",
		Long: `send writes one line to the device command channel. Known commands:

  hello          the device logs World!
  q              reboot into the USB bootloader
  elf2uf2-term   same as q`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, restore, err := setup(cmd)
			if err != nil {
				return err
			}
			defer restore()
			if port != "" {
				cfg.Serial.Port = port
			}

			link := capture.New(cfg.Serial.Port, cfg.Serial.BaudRate, 0, 0, log.Default())
			if err := link.Connect(); err != nil {
				return err
			}
			defer link.Close()

			line := strings.Join(args, " ")
			if err := link.Send(line); err != nil {
				return err
			}
			if line == command.Quit || line == command.ElfToUF2Term {
				log.Printf("device is rebooting into the bootloader")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
	return cmd
}
