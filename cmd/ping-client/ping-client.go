package main

import "github.com/watercompany/pingmesh/cmd/ping-client/commands"

func main() {
	commands.Execute()
}
