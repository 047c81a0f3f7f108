package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var reqTimeout time.Duration

var ReqCmd = &cobra.Command{
	Use:   "req <subject> [data]",
	Short: "Send a request and print the reply",
	Long: `Send a request and print the reply

Usage
	courier req --timeout 2s time.now
`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data interface{}
		if len(args) > 1 {
			data = args[1]
		}

		conn, err := connectClient(cmd.Context())
		if err != nil {
			return err
		}
		defer conn.Close()

		reply, err := conn.Request(cmd.Context(), args[0], data, reqTimeout)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Received on %s: %s\n", reply.Subject, reply.Raw)

		return nil
	},
}

func init() {
	ReqCmd.Flags().DurationVarP(&reqTimeout, "timeout", "t", 0, "How long to wait for a reply, defaults to COURIER_REQUEST_TIMEOUT")
}
