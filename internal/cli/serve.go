package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jfima/amanu/internal/httpapi"
)

var serveAddr string
var serveHashToken string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the optional read-only status HTTP surface (jobs, report, SSE stream)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveHashToken != "" {
			hash, err := httpapi.HashToken(serveHashToken)
			if err != nil {
				return err
			}
			fmt.Println("STATUS_TOKEN_HASH=" + hash)
			return nil
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		index, err := a.openCostIndex()
		if err != nil {
			return fmt.Errorf("open report index: %w", err)
		}
		defer index.Close()

		srv, err := a.statusServer(index)
		if err != nil {
			return err
		}
		addr := serveAddr
		if addr == "" {
			addr = a.cfg.StatusAddr
		}
		fmt.Printf("amanu status surface listening on %s\n", addr)
		return srv.Engine().Run(addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "override the configured listen address")
	serveCmd.Flags().StringVar(&serveHashToken, "hash-token", "", "bcrypt-hash a bearer token for STATUS_TOKEN_HASH and exit, instead of serving")
	rootCmd.AddCommand(serveCmd)
}
