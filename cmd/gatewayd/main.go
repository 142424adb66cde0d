package main

import "github.com/storefront-labs/gateway/cmd/gatewayd/cmd"

func main() {
	cmd.Execute()
}
