package main

import "github.com/lego-rl/waxlog/cmd"

func main() {
	cmd.Execute()
}
