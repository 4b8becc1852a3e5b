package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

type balance struct {
	Address   string  `json:"address"`
	Confirmed float64 `json:"confirmed"`
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance.",
	Run:   balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
}

func balanceRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	address, err := signature.DeriveAddress(signature.PublicKeyString(&privateKey.PublicKey))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("For Address:", address)

	resp, err := http.Get(fmt.Sprintf("%s/v1/balance/%s", url, address))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var bal balance
	if err := json.NewDecoder(resp.Body).Decode(&bal); err != nil {
		log.Fatal(err)
	}

	fmt.Println(bal.Confirmed)
}
