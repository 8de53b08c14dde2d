package main

import "github.com/LeeHyeonKyu/dwarf-discord-bot/cmd"

func main() {
	cmd.Execute()
}
