package main

import "github.com/suPer8Hu/keystone/internal/cli"

func main() {
	cli.Execute()
}
