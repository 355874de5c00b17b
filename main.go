// ABOUTME: Entry point for the hearme command
// ABOUTME: Builds the cobra command tree and shared flags
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sendspin/hearme/internal/version"
)

var (
	cfgFile     string
	logLevel    string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "hearme",
	Short: "Share live audio with listeners on your network",
	Long: `hearme captures one audio source and streams it to any number of
listeners. A share prints a ticket; anyone holding the ticket can listen.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(newShareCmd())
	rootCmd.AddCommand(newListenCmd())
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(newTicketCmd())
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
