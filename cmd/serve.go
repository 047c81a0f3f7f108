package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/courier/broker"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for clients on
	port int

	reuseport    bool
	numListeners int
	maxPayload   int
	pingInterval time.Duration
	serverToken  string
)

func init() {
	flags := ServeCmd.Flags()

	flags.IntVarP(&port, "port", "p", 4222, "The port to listen for client connections on")
	flags.StringVar(&httpPort, "http-port", "8222", "The port to listen to HTTP monitoring requests on")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
	flags.BoolVar(&reuseport, "reuseport", false, "Set SO_REUSEPORT, required for more than one listener")
	flags.IntVar(&numListeners, "listeners", 1, "Number of listeners, zero means one per CPU")
	flags.IntVar(&maxPayload, "max-payload", 0, "Largest payload clients may publish, defaults to 1MB")
	flags.DurationVar(&pingInterval, "ping-interval", 2*time.Minute, "How often to PING clients, zero disables")
	flags.StringVar(&serverToken, "token", "", "Token clients must present to connect")
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a local message broker",
	Long: `Start a local message broker for development and testing

The broker speaks the same protocol as the client. Statistics are served
over HTTP at /varz and /connz.

Usage
	courier serve --port 4222 --http-port 8222

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		server := broker.New(broker.Options{
			Host:         host,
			Port:         port,
			Reuseport:    reuseport,
			NumListeners: numListeners,
			ServerName:   conf.Name,
			MaxPayload:   maxPayload,
			Token:        serverToken,
			PingInterval: pingInterval,
			Trace:        conf.LogLevel == "debug",
			Log:          log.Named("broker"),
		})

		if err := server.Start(ctx); err != nil {
			return err
		}

		router := setupRouter(conf.DebugHTTP, log)
		addMonitoringRoutes(router, server)

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Listening",
			zap.String("addr", server.Addr()),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := server.Close(); err != nil {
			log.Error("Broker forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func addMonitoringRoutes(r *gin.Engine, server *broker.Server) {
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/varz", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", server.Varz().Snapshot())
	})

	r.GET("/connz", func(c *gin.Context) {
		connz, err := server.Connz()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}

		c.Data(http.StatusOK, "application/json", connz)
	})
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
