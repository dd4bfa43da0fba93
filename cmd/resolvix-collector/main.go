package main

import "github.com/resolvix/collector/internal/cli"

func main() {
	cli.Execute()
}
