package main

import "github.com/tanq16/udpfetch/cmd"

func main() {
	cmd.Execute()
}
