package cmd

import (
	"fmt"
	"log"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the address for the specified wallet",
	Run:   addressRun,
}

func init() {
	rootCmd.AddCommand(addressCmd)
}

func addressRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	address, err := signature.DeriveAddress(signature.PublicKeyString(&privateKey.PublicKey))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(address)
}
