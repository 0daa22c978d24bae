package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"codeforge/internal/approval"
	"codeforge/internal/pipeline"
)

func newResumeCmd(configPath *string) *cobra.Command {
	var (
		approve     bool
		deny        bool
		message     string
		payloadPath string
	)

	cmd := &cobra.Command{
		Use:   "resume <handle>",
		Short: "Deliver the approval decision for a suspended execution",
		Long: `Deliver the approval decision for a suspended execution.

The decision comes from --approve, --deny, or free-form --message text
(parsed for an explicit approve/reject keyword; ambiguity rejects). Each
handle can be resumed exactly once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			handle := args[0]

			if approve && deny {
				return fmt.Errorf("--approve and --deny are mutually exclusive")
			}
			approved := approve
			if !approve && !deny {
				if message == "" {
					return fmt.Errorf("one of --approve, --deny, or --message is required")
				}
				var err error
				approved, err = approval.KeywordClassifier{}.ClassifyApproval(ctx, message)
				if err != nil {
					return err
				}
			}

			decision := approval.ResumeDecision{Approved: approved}
			if payloadPath != "" {
				data, err := os.ReadFile(payloadPath)
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				if err := json.Unmarshal(data, &decision.Payload); err != nil {
					return fmt.Errorf("parse payload %s: %w", payloadPath, err)
				}
			}

			app, err := buildApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.service.Resume(ctx, handle, decision)
			if err != nil {
				return err
			}

			switch res.Status {
			case pipeline.StatusRejected:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: rejected, session terminated\n", handle)
			case pipeline.StatusSucceeded:
				out, _ := json.MarshalIndent(res.Outcome.Result, "", "  ")
				fmt.Fprintf(cmd.OutOrStdout(), "%s: succeeded\n%s\n", handle, out)
			case pipeline.StatusSuspended:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: suspended again, new handle %s\n", handle, res.Handle)
			case pipeline.StatusFailed:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: failed: %v\n", handle, res.Err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the suspended execution")
	cmd.Flags().BoolVar(&deny, "deny", false, "deny the suspended execution")
	cmd.Flags().StringVarP(&message, "message", "m", "", "free-form reviewer text to classify")
	cmd.Flags().StringVar(&payloadPath, "payload", "", "JSON file with overrides (code, expected_result_schema)")
	return cmd
}
