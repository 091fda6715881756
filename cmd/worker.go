package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hireloop/cv-screener/internal/ai/gemini"
	"github.com/hireloop/cv-screener/internal/logger"
	"github.com/hireloop/cv-screener/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run an evaluation worker. Several may drain the same queue",
	Run: func(_ *cobra.Command, _ []string) {
		runWorker()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lgr := newLogger()

	config, err := getConfig()
	if err != nil {
		lgr.Fatal("getting a config", zap.Error(err))
	}

	lgr.Info("starting a cv-screener worker", zap.String("version", version))

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

	evaluator := gemini.NewEvaluator(
		generator,
		logger.WithComponent(lgr, "evaluator", generator.Model()),
		config.AI.Gemini.MaxLogLength,
	)

	loop := worker.New(st, br, idx, evaluator, lgr)
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		lgr.Fatal("worker loop", zap.Error(err))
	}

	lgr.Info("worker shut down")
}
