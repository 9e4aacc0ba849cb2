package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := &cobra.Command{
		Use:           "streamcap",
		Short:         "Supervised RTMP capture client",
		Long:          "streamcap receives an RTMP stream, records it to segmented MP4 files,\nand keeps both alive across network failures.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "config.yaml",
		"Path to configuration file")

	root.AddCommand(
		newRunCmd(globalFlags),
		newStatusCmd(globalFlags),
		newSnapshotCmd(globalFlags),
		newReconnectCmd(globalFlags),
		newDiagnoseCmd(globalFlags),
	)
	return root
}
