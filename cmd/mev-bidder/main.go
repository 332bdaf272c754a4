package main

import "github.com/flashbots/mev-bidder/cli"

func main() {
	cli.Main()
}
