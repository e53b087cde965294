package main

import "commlink/cmd/cli/command"

func main() {
	command.Execute()
}
