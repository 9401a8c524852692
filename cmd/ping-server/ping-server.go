package main

import "github.com/watercompany/pingmesh/cmd/ping-server/commands"

func main() {
	commands.Execute()
}
