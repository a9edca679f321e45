package main

import "deskgate/internal/cli"

func main() {
	cli.Execute()
}
