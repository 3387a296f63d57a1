package main

import "mailtriage/internal/cli"

func main() {
	cli.Execute()
}
