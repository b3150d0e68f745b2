package main

import "github.com/e7canasta/orion-facemesh/internal/cli"

func main() {
	cli.Execute()
}
