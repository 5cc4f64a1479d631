package main

import "github.com/rendercrawl/rendercrawl/cmd"

func main() {
	cmd.Execute()
}
