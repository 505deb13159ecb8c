package main

import (
	"github.com/kys42/remote-agent/cmd"
)

func main() {
	cmd.Execute()
}
