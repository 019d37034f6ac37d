package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dHA/cmd/master"
	"github.com/ValentinKolb/dHA/cmd/serve"
	"github.com/ValentinKolb/dHA/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dha",
		Short: "high availability layer for a graph database",
		Long: fmt.Sprintf(`dHA (v%s)

Master/slave replication for a graph database written in Go. Slaves delegate
locks, id allocation and commits to the elected master and receive every
missing transaction piggybacked on the responses.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dHA",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dHA v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(master.MasterCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
