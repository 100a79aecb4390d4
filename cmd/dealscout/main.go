package main

import "deal-scout/internal/cli"

func main() {
	cli.Execute()
}
