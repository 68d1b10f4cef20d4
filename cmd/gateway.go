/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/pricefeed-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// gatewayCmd represents the gateway command
var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the live price distribution gateway",
	Long: `Runs the full price distribution pipeline: upstream source adapters
(streaming and polling), the in-memory distribution hub, and the
WebSocket/HTTP server that fans prices out to connected clients.`,
	Run: bootstrap.StartGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}
