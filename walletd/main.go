package main

import "github.com/vcwallet/walletkit/walletd/cmd"

func main() {
	cmd.Execute()
}
