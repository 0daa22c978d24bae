package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codeforge/internal/analyzer"
	"codeforge/internal/approval"
	"codeforge/internal/config"
	"codeforge/internal/generator"
	"codeforge/internal/llm"
	"codeforge/internal/logging"
	"codeforge/internal/pipeline"
	"codeforge/internal/policy"
	"codeforge/internal/sandbox"
	"codeforge/internal/store"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "codeforge",
		Short:         "Generated-code execution pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "codeforge.yaml", "path to the configuration file")

	root.AddCommand(
		newRunCmd(&configPath),
		newResumeCmd(&configPath),
		newPendingCmd(&configPath),
		newReapCmd(&configPath),
	)
	return root
}

// app is the fully wired pipeline plus the handles the commands need.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	service *pipeline.Service
	gate    *approval.Gate
	records approval.RecordStore
}

func (a *app) Close() {
	if a.records != nil {
		a.records.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// buildApp wires the pipeline from configuration. Every configured strategy
// name is resolved here so a typo fails before any request is accepted.
func buildApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	domains := policy.NewDomainRegistry()
	mangleAnalyzer, err := policy.NewMangleAnalyzer(logger)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("load domain policy: %w", err)
	}
	domains.MustRegister(mangleAnalyzer)

	domain, err := domains.Lookup(cfg.Policy.DomainAnalyzer)
	if err != nil {
		logger.Sync()
		return nil, err
	}
	resolver, err := policy.NewResolverRegistry().Lookup(cfg.Policy.Resolver)
	if err != nil {
		logger.Sync()
		return nil, err
	}

	policies, err := policy.NewStore(&cfg.Approval, logger)
	if err != nil {
		logger.Sync()
		return nil, err
	}
	if cfg.Policy.Watch {
		if err := policies.Watch(ctx, configPath); err != nil {
			logger.Sync()
			return nil, err
		}
	}

	records, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		logger.Sync()
		return nil, err
	}

	client, err := llm.New(ctx, llm.Config{APIKey: cfg.LLM.APIKey, Model: cfg.LLM.Model}, logger)
	if err != nil {
		records.Close()
		logger.Sync()
		return nil, err
	}

	gate := approval.NewGate(policies, records, logger)
	service := pipeline.New(
		generator.New(client, logger),
		analyzer.New(logger),
		domain,
		resolver,
		policies,
		gate,
		sandbox.NewYaegiExecutor(cfg.Sandbox.Workspace, cfg.Sandbox.Timeout.Std(), logger),
		pipeline.Options{
			ExecRetries: cfg.Pipeline.ExecRetries,
			Backoff:     cfg.Pipeline.Backoff.Std(),
		},
		logger,
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		service: service,
		gate:    gate,
		records: records,
	}, nil
}
