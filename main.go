package main

import "github.com/matheuscscp/session-proxy-e2e/cmd"

func main() {
	cmd.Execute()
}
