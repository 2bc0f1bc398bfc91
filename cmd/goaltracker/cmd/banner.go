package cmd

import (
	"fmt"
)

const banner = `
   ____             _ _____                _
  / ___| ___   __ _| |_   _| __ __ _  ___| | _____ _ __
 | |  _ / _ \ / _` + "`" + ` | | | || '__/ _` + "`" + ` |/ __| |/ / _ \ '__|
 | |_| | (_) | (_| | | | || | | (_| | (__|   <  __/ |
  \____|\___/ \__,_|_| |_||_|  \__,_|\___|_|\_\___|_|
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Goal Tracker - Version %s\x1b[0m\n\n", Version)
}
