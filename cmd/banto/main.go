package main

import "github.com/shizukutanaka/Banto/cmd/banto/commands"

func main() {
	commands.Execute()
}
