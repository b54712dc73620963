package main

import (
	"github.com/vfsgate/vfsgate/gateway"
)

func main() {
	// nolint:errcheck
	gateway.RootCmd.Execute()
}
