package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/config"
	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/options"
	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/source"
	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/pkg/wmbusdec"
)

var (
	rootCmd = &cobra.Command{
		Use:   "wmbus-decrypt [hex]",
		Short: "Decrypt OMS mode 5 Wireless M-Bus telegrams",
		Long: `wmbus-decrypt parses the DLL, optional ELL and short TPL header of a
Wireless M-Bus telegram, derives the AES-128-CBC IV from the header and
decrypts the application payload.

Without an argument, telegrams are read line by line from stdin.`,
		Args:              cobra.MaximumNArgs(1),
		PersistentPreRunE: setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 0 {
				logrus.Info("wmbus-decrypt line mode. Paste a hex telegram and press Enter (Ctrl+D to exit).")
				return runLines(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			}
			return runDecode(ctx, cmd.OutOrStdout(), args[0])
		},
	}

	keyHex     string
	configPath string
	logLevel   string

	cfg = config.Default()
)

func init() {
	rootCmd.PersistentFlags().StringVar(&keyHex, "key", "", "hex-encoded 16-byte AES key (32 hex chars)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML file with per-meter keys")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	rootCmd.AddCommand(listenCmd, sealCmd)
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	lvl, err := cfg.Logging.ParsedLevel()
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	key, err := options.ParseKeyHex(keyHex)
	if err != nil {
		return err
	}
	cmd.SetContext(options.WithSecurityKey(cmd.Context(), key))
	return nil
}

func decodeOptions() wmbusdec.Options {
	return wmbusdec.Options{Keys: cfg}
}

func runDecode(ctx context.Context, out io.Writer, hex string) error {
	result, err := wmbusdec.DecodeHex(ctx, hex, decodeOptions())
	if err != nil {
		return describe(result, err)
	}
	fmt.Fprintln(out, result.String())
	return nil
}

// runLines decodes every line of r; failures are logged and skipped.
func runLines(ctx context.Context, r io.Reader, out io.Writer) error {
	sc := source.NewScanner(r)
	for sc.Scan() {
		line := sc.Line()
		if err := runDecode(ctx, out, line.Text); err != nil {
			logrus.WithError(err).WithField("line", line.Number).Error("failed to decode telegram")
		}
	}
	return sc.Err()
}

// describe attaches the header and failure location to err for logging.
func describe(result wmbusdec.Result, err error) error {
	entry := logrus.NewEntry(logrus.StandardLogger())
	if result.Telegram != nil {
		entry = entry.WithFields(logrus.Fields{
			"meter_id":     result.Telegram.MeterIDString(),
			"manufacturer": result.Telegram.ManufacturerCode(),
		})
	}
	var fe *wmbusdec.FieldError
	if errors.As(err, &fe) {
		entry = entry.WithFields(logrus.Fields{
			"stage":  fe.Stage,
			"field":  fe.Field,
			"offset": fe.Offset,
		})
	}
	if errors.Is(err, wmbusdec.ErrIntegrityMarker) {
		entry.Warn("check the meter key")
	} else {
		entry.Debug("decode failed")
	}
	return err
}
