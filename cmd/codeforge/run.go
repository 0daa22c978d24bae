package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"codeforge/internal/pipeline"
	"codeforge/internal/types"
)

func newRunCmd(configPath *string) *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "run <request.yaml> [more.yaml...]",
		Short: "Submit execution requests through the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := buildApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			app.service.StartReaper(ctx,
				app.cfg.Pipeline.ReapInterval.Std(),
				app.cfg.Pipeline.MaxSuspensionAge.Std())

			var mu sync.Mutex
			results := make(map[string]*pipeline.Result, len(args))

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(parallel)
			for _, path := range args {
				g.Go(func() error {
					req, err := loadRequest(path)
					if err != nil {
						return err
					}
					res, err := app.service.Submit(gctx, req)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					mu.Lock()
					results[path] = res
					mu.Unlock()
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			failed := false
			for _, path := range args {
				res := results[path]
				printResult(cmd, path, res)
				if res.Status == pipeline.StatusFailed {
					failed = true
				}
			}

			snap := app.service.Snapshot()
			app.logger.Info("run complete",
				zap.Int64("succeeded", snap.Succeeded),
				zap.Int64("suspended", snap.Suspended),
				zap.Int64("failed", snap.Failed),
				zap.Int64("regenerations", snap.Regenerations))

			if failed {
				return fmt.Errorf("one or more requests failed")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "maximum concurrent requests")
	return cmd
}

func loadRequest(path string) (*types.ExecutionRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	var req types.ExecutionRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse request %s: %w", path, err)
	}
	return &req, nil
}

func printResult(cmd *cobra.Command, path string, res *pipeline.Result) {
	switch res.Status {
	case pipeline.StatusSucceeded:
		out, _ := json.MarshalIndent(res.Outcome.Result, "", "  ")
		fmt.Fprintf(cmd.OutOrStdout(), "%s: succeeded in %d attempt(s)\n%s\n", path, res.Attempts, out)
		for _, rec := range res.Recommendations {
			fmt.Fprintf(cmd.OutOrStdout(), "  note: %s\n", rec)
		}
		for _, artifact := range res.Outcome.Artifacts {
			fmt.Fprintf(cmd.OutOrStdout(), "  artifact: %s\n", artifact)
		}
	case pipeline.StatusSuspended:
		fmt.Fprintf(cmd.OutOrStdout(), "%s: suspended for approval, handle %s\n", path, res.Handle)
		for _, concern := range res.SafetyConcerns {
			fmt.Fprintf(cmd.OutOrStdout(), "  concern: %s\n", concern)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  resume with: codeforge resume %s --approve\n", res.Handle)
	case pipeline.StatusFailed:
		fmt.Fprintf(cmd.OutOrStdout(), "%s: failed after %d attempt(s): %v\n", path, res.Attempts, res.Err)
	}
}
