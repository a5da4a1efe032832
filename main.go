package main

import "github.com/strrl/worktrack/cmd/worktrack/commands"

func main() {
	commands.Execute()
}
