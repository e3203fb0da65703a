package main

import "github.com/nfrund/collegeos/cmd/collegeos-cli/cmd"

func main() {
	cmd.Execute()
}
