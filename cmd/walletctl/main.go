package main

import "WalletBridge/cmd/walletctl/cmd"

func main() {
	cmd.Execute()
}
