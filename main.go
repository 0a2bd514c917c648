// package main provides the entry point for the advisory-index service and CLI.
package main

import "github.com/ortelius/advisory-index/cmd"

func main() {
	cmd.Execute()
}
