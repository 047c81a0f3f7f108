package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	pubReply string
	pubCount int
)

var PubCmd = &cobra.Command{
	Use:   "pub <subject> [data]",
	Short: "Publish a message",
	Long: `Publish a message and wait until the server has processed it

Usage
	courier pub greetings.en hello
	courier pub --count 100 load.test
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

		for i := 0; i < pubCount; i++ {
			if err := conn.PublishRequest(args[0], pubReply, data); err != nil {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), conf.Timeout)
		defer cancel()

		if err := conn.Flush(ctx); err != nil {
			return err
		}

		log.Info("Published",
			zap.String("subject", args[0]),
			zap.Int("count", pubCount))

		return nil
	},
}

func init() {
	flags := PubCmd.Flags()

	flags.StringVarP(&pubReply, "reply", "r", "", "Reply subject to publish with")
	flags.IntVarP(&pubCount, "count", "n", 1, "Number of times to publish the message")
}
