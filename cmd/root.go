package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/courier/client"
	"github.com/luma/courier/cmd/gen"
	"github.com/luma/courier/internal/env"
	"github.com/luma/courier/internal/meta"
	"github.com/luma/courier/payload"
)

var (
	conf *env.Config
	log  *zap.Logger

	// Persistent flags, these override the environment when set
	url         string
	payloadMode string
	clientName  string
	logLevel    string
)

var RootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Publish, subscribe and make requests through a message broker",
	Long: `Publish, subscribe and make requests through a message broker.

Configuration is read from COURIER_* environment variables, and from
.env.local when it exists. Flags take precedence over both.`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		conf, err = env.LoadConfig(cmd.Context())
		if err != nil {
			return err
		}

		flags := cmd.Flags()

		if flags.Changed("url") {
			conf.URL = url
		}

		if flags.Changed("payload") {
			conf.Payload = payloadMode
		}

		if flags.Changed("name") {
			conf.Name = clientName
		}

		if flags.Changed("log-level") {
			conf.LogLevel = logLevel
		}

		log, err = env.MakeLogger(conf.LogLevel)
		return err
	},
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), meta.GetInfo().String())
	},
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVarP(&url, "url", "s", client.DefaultURL, "The server to connect to")
	flags.StringVar(&payloadMode, "payload", string(payload.Raw), "Payload mode, one of raw, utf8 or json")
	flags.StringVar(&clientName, "name", "courier-cli", "The connection name reported to the server")
	flags.StringVar(&logLevel, "log-level", "info", "The log level")

	RootCmd.AddCommand(PubCmd, SubCmd, ReqCmd, ServeCmd, VersionCmd, gen.RootCmd)
}

func Execute() {
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func connectClient(ctx context.Context) (*client.Conn, error) {
	opts, err := conf.ClientOptions()
	if err != nil {
		return nil, err
	}

	opts.Log = log.Named("client")
	opts.ErrorHandler = func(_ *client.Conn, err error) {
		log.Warn("Server reported an error", zap.Error(err))
	}

	return client.Connect(ctx, opts)
}
