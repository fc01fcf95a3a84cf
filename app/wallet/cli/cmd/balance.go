package cmd

import (
	"crypto/ed25519"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"
)

var balanceURL string

// balanceCmd represents the balance command.
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the wallet balance",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := loadPrivateKey()
		if err != nil {
			log.Fatal(err)
		}

		address := base58.Encode(privateKey.Public().(ed25519.PublicKey))

		resp, err := http.Get(fmt.Sprintf("%s/v1/wallet/balance/%s", balanceURL, address))
		if err != nil {
			log.Fatal(err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		fmt.Println(string(body))
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().StringVarP(&balanceURL, "url", "u", "http://localhost:8080", "Url of the node.")
}
