package main

import "github.com/pixperk/printmesh/pkg/cli"

func main() {
	cli.Execute()
}
