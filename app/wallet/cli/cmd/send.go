package cmd

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/CalfCrusher/Annalink/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	url    string
	to     string
	amount float64
	fee    float64
)

// sendCmd represents the send command.
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a transaction",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		sendWithDetails(privateKey)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address receiving the funds.")
	sendCmd.Flags().Float64VarP(&amount, "amount", "v", 0, "Amount to send.")
	sendCmd.Flags().Float64VarP(&fee, "fee", "f", 0, "Fee offered for inclusion.")
}

func sendWithDetails(privateKey *ecdsa.PrivateKey) {
	tx, err := database.NewTx(privateKey, to, amount, fee)
	if err != nil {
		log.Fatal(err)
	}

	data, err := json.Marshal(tx)
	if err != nil {
		log.Fatal(err)
	}

	resp, err := http.Post(fmt.Sprintf("%s/v1/tx/submit", url), "application/json", bytes.NewBuffer(data))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(resp.Status)
	fmt.Println(string(body))
}
