package main

import "github.com/CalfCrusher/Annalink/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
