package main

import "github.com/consortia/blockchain/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
