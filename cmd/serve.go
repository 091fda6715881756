package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hireloop/cv-screener/internal/server"
	"github.com/hireloop/cv-screener/internal/sweeper"
	"github.com/hireloop/cv-screener/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("addr", "a", "", "listen address (default :8080)")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lgr := newLogger()

	config, err := getConfig()
	if err != nil {
		lgr.Fatal("getting a config", zap.Error(err))
	}

	lgr.Info("starting the cv-screener server", zap.String("version", version))

	generator, err := newGenerator(ctx, config.AI.Gemini)
	if err != nil {
		lgr.Fatal("building the gemini client",
			zap.Error(err),
			zap.String("hint", "set GEMINI_API_KEY_FILE or the 'ai.gemini.api-key-file' key in the configuration file"),
		)
	}

	st, br, idx, err := openStores(ctx, config, generator, lgr)
	if err != nil {
		lgr.Fatal("opening stores", zap.Error(err))
	}
	defer st.Close()
	defer br.Close()
	defer idx.Close()

	if err := os.MkdirAll(config.Server.UploadDir, 0o755); err != nil {
		lgr.Fatal("creating upload directory", zap.Error(err))
	}

	ingestor := worker.NewIngestor(lgr)
	ingestor.Start(ctx)

	if config.Sweeper.Enabled {
		sw := sweeper.New(st, config.Sweeper.Threshold, lgr)
		if err := sw.Start(ctx, config.Sweeper.Schedule); err != nil {
			lgr.Fatal("starting the sweeper", zap.Error(err))
		}
		defer sw.Stop()
	}

	srv := server.New(st, br, idx, ingestor, config.Server.UploadDir, lgr)

	httpSrv := &http.Server{
		Addr:              config.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			lgr.Warn("http shutdown", zap.Error(err))
		}
	}()

	lgr.Info("http server listening", zap.String("addr", config.Server.Addr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lgr.Fatal("http server", zap.Error(err))
	}

	lgr.Info("server shut down")
}
