package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"prediction-api/handler"
	"prediction-api/internal/config"
	"prediction-api/internal/integrations/paramstore"
	"prediction-api/internal/integrations/yandexgpt"
	"prediction-api/internal/logging"
	"prediction-api/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// lambdaRuntimeEnv is set by the Lambda runtime; a bootstrap binary is started
// without arguments, so its presence selects the lambda command.
const lambdaRuntimeEnv = "AWS_LAMBDA_RUNTIME_API"

var startLambda = lambda.Start

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:          "prediction-api",
		Short:        "Answer questions with YandexGPT in a fixed JSON shape",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadDotEnv()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if os.Getenv(lambdaRuntimeEnv) != "" {
				return runLambda(cmd.Context(), v)
			}
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	_ = v.BindPFlag(config.KeyDebug, cmd.PersistentFlags().Lookup("debug"))

	cmd.AddCommand(newServeCmd(v))
	cmd.AddCommand(newLambdaCmd(v))
	return cmd
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	cmd.Flags().StringP("listen", "l", config.Defaults().ListenAddr, "Address for the HTTP server to listen on")
	_ = v.BindPFlag(config.KeyListenAddr, cmd.Flags().Lookup("listen"))
	return cmd
}

func newLambdaCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as an AWS Lambda behind API Gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLambda(cmd.Context(), v)
		},
	}
}

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg, logger, err := setup(v)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	h, err := buildHandler(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build handler", zap.Error(err))
		return err
	}
	server, err := handler.NewServer(cfg.ListenAddr, h, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down prediction server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runLambda(ctx context.Context, v *viper.Viper) error {
	cfg, logger, err := setup(v)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	h, err := buildHandler(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build handler", zap.Error(err))
		return err
	}
	startLambda(h.Handle)
	return nil
}

func setup(v *viper.Viper) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logging.New(cfg.Debug), nil
}

func buildHandler(ctx context.Context, cfg config.Config, logger *zap.Logger) (*handler.Handler, error) {
	keys, err := newKeySource(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	client, err := yandexgpt.NewClient(keys, cfg.FolderID,
		yandexgpt.WithBaseURL(cfg.BaseURL),
		yandexgpt.WithTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, err
	}

	svc, err := usecase.NewPredictService(client)
	if err != nil {
		return nil, err
	}
	return handler.NewHandler(svc, logger)
}

func newKeySource(ctx context.Context, cfg config.Config, logger *zap.Logger) (yandexgpt.KeySource, error) {
	if !cfg.UseParamStore() {
		logger.Info("using API key from environment")
		return yandexgpt.StaticKey(cfg.APIKey), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}
	logger.Info("using API key from parameter store", zap.String("prefix", cfg.ParamPrefix))
	return yandexgpt.NewParamStoreKey(ps, cfg.ParamPrefix)
}
