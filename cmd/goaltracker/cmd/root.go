package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "goaltracker",
	Short: "GoalTracker is a personal goal and progress tracker",
	Long: `A small web application for tracking goals, milestones and progress logs.
Complete documentation is available at https://github.com/jmcleod/goaltracker`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("env-file", "", "Path to a .env file (default .env)")
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
