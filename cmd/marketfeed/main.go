package main

import "marketfeed/internal/cli"

func main() {
	cli.Execute()
}
