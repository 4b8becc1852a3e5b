// Package cmd contains the wallet commands.
package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	accountName string
	accountPath string
)

const keyExtension = ".ecdsa"

func init() {
	rootCmd.PersistentFlags().StringVarP(&accountName, "account", "a", "private.ecdsa", "Name of the private key file.")
	rootCmd.PersistentFlags().StringVarP(&accountPath, "account-path", "p", "zblock/accounts/", "Path to the directory with private keys.")
}

var rootCmd = &cobra.Command{
	Use:   "wallet",
	Short: "A simple wallet for the chain",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getPrivateKeyPath() string {
	if !strings.HasSuffix(accountName, keyExtension) {
		accountName += keyExtension
	}

	return filepath.Join(accountPath, accountName)
}
