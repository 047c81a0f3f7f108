package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/courier/client"
)

var (
	subQueue string
	subMax   int
)

var SubCmd = &cobra.Command{
	Use:   "sub <subject>",
	Short: "Subscribe to a subject and print the messages received",
	Long: `Subscribe to a subject and print the messages received

Usage
	courier sub 'greetings.*'
	courier sub --queue workers --max 10 jobs.>
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer signalStop()

		conn, err := connectClient(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		out := cmd.OutOrStdout()
		done := make(chan struct{})

		var (
			mu    sync.Mutex
			count int
		)

		opts := []client.SubOption{client.WithMax(subMax)}
		if subQueue != "" {
			opts = append(opts, client.WithQueue(subQueue))
		}

		sub, err := conn.Subscribe(args[0], func(msg *client.Msg, err error) {
			mu.Lock()
			defer mu.Unlock()

			count++

			if err != nil {
				log.Warn("Failed to decode message", zap.String("subject", msg.Subject), zap.Error(err))
			}

			if msg.Reply != "" {
				fmt.Fprintf(out, "[#%d] Received on %s (reply %s): %s\n", count, msg.Subject, msg.Reply, msg.Raw)
			} else {
				fmt.Fprintf(out, "[#%d] Received on %s: %s\n", count, msg.Subject, msg.Raw)
			}

			if subMax > 0 && count == subMax {
				close(done)
			}
		}, opts...)
		if err != nil {
			return err
		}

		log.Info("Listening", zap.String("subject", sub.Subject()), zap.String("queue", sub.Queue()))

		select {
		case <-ctx.Done():
		case <-done:
		case <-conn.Closed():
			return conn.LastError()
		}

		return nil
	},
}

func init() {
	flags := SubCmd.Flags()

	flags.StringVarP(&subQueue, "queue", "q", "", "Queue group to join")
	flags.IntVarP(&subMax, "max", "m", 0, "Exit after this many messages")
}
