package main

import "vndrag/internal/cli"

func main() {
	cli.Execute()
}
