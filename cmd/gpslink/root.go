package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "./gpslink.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gpslink",
		Short: "Line-protocol link that feeds GPS fixes to a microcontroller",
		Long: `gpslink connects to a peripheral over Bluetooth RFCOMM, a serial port or a
TCP bridge, answers its GET_LOCATION requests with the last known fix and
streams periodic location reports to it.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", defaultConfigPath, "Path to YAML config")

	root.AddCommand(newRunCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newVersionCmd())
	return root
}
