package main

import (
	"github.com/ansible-community/ee-builder/pkg/cli"
	"github.com/ansible-community/ee-builder/pkg/util/console"
)

func main() {
	cmd, err := cli.NewRootCommand()
	if err != nil {
		console.Fatalf("%s", err)
	}

	if err = cmd.Execute(); err != nil {
		console.Fatalf("%s", err)
	}
}
