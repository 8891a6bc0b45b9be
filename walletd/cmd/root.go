package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/vcwallet/walletkit"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "walletd",
	Short: "Credential exchange server",
	Long:  `Credential exchange server hosting the wallet and verifier sides of SIOPv2 presentation and issuance flows.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print walletd version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("walletd")
			fmt.Println("Version: ", walletkit.Version)
			fmt.Println("OS/Arch: ", runtime.GOOS+"/"+runtime.GOARCH)
		},
	})
}

func die(message string, err error) {
	var m string
	if message != "" {
		m = message + ": "
	}
	if err != nil {
		m = m + err.Error()
	}
	fmt.Println(m)
	os.Exit(1)
}
