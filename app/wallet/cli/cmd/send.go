package cmd

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"
)

var (
	url      string
	id       uint64
	to       string
	integral int32
	fraction uint64
	maxFee   float64
)

// sendCmd represents the send command.
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a signed transfer to a node",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := loadPrivateKey()
		if err != nil {
			log.Fatal(err)
		}

		sendWithDetails(privateKey)
	},
}

func sendWithDetails(privateKey ed25519.PrivateKey) {
	var selfKey pool.PublicKey
	copy(selfKey[:], privateKey.Public().(ed25519.PublicKey))
	source := pool.AddressFromPublicKey(selfKey)

	target, err := pool.AddressFromString(to)
	if err != nil {
		log.Fatal(err)
	}

	t := pool.NewTransaction(id, source, target, pool.NewAmount(integral, fraction))
	t.SetMaxFee(pool.CommissionFromDouble(maxFee))
	t.Sign(privateKey)

	payload := struct {
		Source    string  `json:"source"`
		Target    string  `json:"target"`
		InnerID   uint64  `json:"inner_id"`
		Integral  int32   `json:"integral"`
		Fraction  uint64  `json:"fraction"`
		MaxFee    float64 `json:"max_fee"`
		Signature string  `json:"signature"`
	}{
		Source:    base58.Encode(selfKey[:]),
		Target:    to,
		InnerID:   id,
		Integral:  integral,
		Fraction:  fraction,
		MaxFee:    maxFee,
		Signature: t.Signature().Hex(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Fatal(err)
	}
	resp, err := http.Post(fmt.Sprintf("%s/v1/flow", url), "application/json", bytes.NewBuffer(data))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Println(string(body))
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&url, "url", "u", "http://localhost:8080", "Url of the node.")
	sendCmd.Flags().Uint64VarP(&id, "id", "i", 0, "Unique inner id for the transaction.")
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Target address in base58.")
	sendCmd.Flags().Int32VarP(&integral, "integral", "v", 0, "Whole tokens to send.")
	sendCmd.Flags().Uint64VarP(&fraction, "fraction", "f", 0, "Fraction ticks to send.")
	sendCmd.Flags().Float64VarP(&maxFee, "max-fee", "m", 0.01, "Fee ceiling to sign.")
}
