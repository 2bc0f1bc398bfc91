package main

import "github.com/jmcleod/goaltracker/cmd/goaltracker/cmd"

func main() {
	cmd.Execute()
}
