package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/source"
)

var (
	listenPort string
	listenBaud int
	listenFile string

	listenCmd = &cobra.Command{
		Use:   "listen",
		Short: "Decrypt telegrams from a serial receiver or a capture file",
		Long: `listen reads one hex telegram per line from a receiver dongle
(--port) or a capture file (--file) and decrypts each one. Lines starting
with '#' are ignored. Keys come from --key or the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			port := listenPort
			if port == "" {
				port = cfg.Serial.Port
			}
			baud := listenBaud
			if baud == 0 {
				baud = cfg.Serial.BaudRate
			}

			switch {
			case listenFile != "":
				f, err := os.Open(listenFile)
				if err != nil {
					return err
				}
				defer f.Close()
				logrus.WithField("file", listenFile).Info("reading capture")
				return runLines(cmd.Context(), f, cmd.OutOrStdout())
			case port != "":
				r, err := source.OpenSerial(port, baud)
				if err != nil {
					return err
				}
				defer r.Close()
				logrus.WithFields(logrus.Fields{"port": port, "baud": baud}).Info("listening")
				return runLines(cmd.Context(), r, cmd.OutOrStdout())
			default:
				return fmt.Errorf("either --port, --file or serial.port in the config is required")
			}
		},
	}
)

func init() {
	listenCmd.Flags().StringVarP(&listenPort, "port", "p", "", "serial port of the receiver")
	listenCmd.Flags().IntVarP(&listenBaud, "baud", "b", 0, "baud rate (default from config, 9600)")
	listenCmd.Flags().StringVarP(&listenFile, "file", "f", "", "capture file with one hex telegram per line")
}
