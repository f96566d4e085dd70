package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/autumnsgrove/clearing-cli/internal/model"
)

var (
	digestTopics []string
	digestOut    string
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Generate a digest for the configured topics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		topics, err := selectTopics(env.Topics, digestTopics)
		if err != nil {
			return err
		}

		run, err := env.Pipeline.Run(ctx, topics)
		if run == nil {
			return eris.Wrap(err, "pipeline run")
		}
		if err != nil {
			zap.L().Error("digest run failed",
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)),
				zap.Error(err),
			)
		} else {
			zap.L().Info("digest run complete",
				zap.String("run_id", run.ID),
				zap.Int64("total_tokens", run.Result.TotalTokens),
				zap.Float64("total_cost_usd", run.Result.TotalCostUSD),
			)
		}

		if digestOut != "" && run.Result != nil && run.Result.DigestID != "" {
			digest, derr := env.Store.GetDigest(ctx, run.Result.DigestID)
			if derr != nil {
				return eris.Wrap(derr, "load digest")
			}
			if derr := os.WriteFile(digestOut, []byte(digest.Markdown), 0o644); derr != nil {
				return eris.Wrap(derr, "write digest")
			}
			zap.L().Info("digest written", zap.String("path", digestOut))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(run); encErr != nil {
			return encErr
		}
		return err
	},
}

// selectTopics filters the loaded topics down to the requested names.
// An empty selection means all configured topics.
func selectTopics(all []model.Topic, names []string) ([]model.Topic, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]model.Topic, len(all))
	for _, t := range all {
		byName[t.Name] = t
	}
	selected := make([]model.Topic, 0, len(names))
	for _, name := range names {
		t, ok := byName[name]
		if !ok {
			return nil, eris.Errorf("unknown topic %q", name)
		}
		selected = append(selected, t)
	}
	return selected, nil
}

func init() {
	digestCmd.Flags().StringSliceVar(&digestTopics, "topics", nil, "subset of configured topics to cover (default all)")
	digestCmd.Flags().StringVar(&digestOut, "out", "", "write the digest markdown to this file")
	rootCmd.AddCommand(digestCmd)
}
