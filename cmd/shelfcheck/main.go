package main

import "shelfcheck/internal/cli"

func main() {
	cli.Execute()
}
