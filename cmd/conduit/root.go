package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "conduit",
	Short: "Gateway that serves service routes as REST endpoints and agent tools",
	Long: `Conduit accepts declarative route definitions from services and serves
each one as a REST endpoint with an OpenAPI document and, when marked
tool-eligible, as an MCP tool.

Quick start:
  conduit serve                 # Start the gateway
  conduit validate routes.yaml  # Check a routes file
  conduit openapi routes.yaml   # Print the OpenAPI document of a routes file`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "conduit.yaml", "config file path")
}

// configPath returns the config file to load, or "" when the default file
// does not exist and defaults plus environment should be used.
func configPath(cmd *cobra.Command) string {
	if _, err := os.Stat(cfgFile); err != nil && !cmd.Flags().Changed("config") {
		return ""
	}
	return cfgFile
}
