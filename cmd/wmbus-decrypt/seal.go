package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/internal/options"
	"github.com/sweaterweather2003/W-MBus-Telegram-Decryption-Tool/pkg/wmbusdec"
)

var sealCmd = &cobra.Command{
	Use:   "seal <header-hex> <payload-hex>",
	Short: "Encrypt a payload into a mode 5 telegram",
	Long: `seal encrypts an application payload under the header (DLL, optional
ELL and short TPL) with --key and prints the telegram as hex. The block
count in the config field is set to match the ciphertext.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := options.SecurityKey(cmd.Context())
		if key == nil {
			return wmbusdec.ErrKeyRequired
		}
		header, err := hex.DecodeString(options.CleanHex(args[0]))
		if err != nil {
			return fmt.Errorf("decode header hex: %w", err)
		}
		payload, err := hex.DecodeString(options.CleanHex(args[1]))
		if err != nil {
			return fmt.Errorf("decode payload hex: %w", err)
		}
		raw, err := wmbusdec.Seal(header, payload, key)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.ToUpper(hex.EncodeToString(raw)))
		return nil
	},
}
