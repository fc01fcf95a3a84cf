package cmd

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"
)

// generateCmd represents the generate command.
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new wallet key pair",
	Run: func(cmd *cobra.Command, args []string) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			log.Fatal(err)
		}

		path := getPrivateKeyPath()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			log.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(hex.EncodeToString(priv.Seed())), 0600); err != nil {
			log.Fatal(err)
		}

		fmt.Println("key file:", path)
		fmt.Println("address:", base58.Encode(pub))
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
