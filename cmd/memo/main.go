package main

import "github.com/jwulff/memo/internal/cli"

var version = "dev"

func main() {
	cli.Execute(version)
}
