package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/ai"
	"github.com/spigell/hireboard/internal/recruitment"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Review tools for hr: bias check and summaries",
}

func analyzeCommand(kind, use, short string, run func(context.Context, ai.Assistant, string) (any, error)) *cobra.Command {
	c := &cobra.Command{
		Use:   use + " [TEXT]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rt := newRuntime()
			defer rt.close()

			text, err := analysisInput(cmd, args)
			if err != nil {
				rt.logger.Fatal("reading input", zap.Error(err))
			}

			result, err := run(rt.ctx, rt.app.AI, text)
			if err != nil {
				rt.logger.Fatal("analysis failed", zap.String("kind", kind), zap.Error(err))
			}

			pretty, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(pretty))

			if save, _ := cmd.Flags().GetBool("save"); save {
				saveAnalysis(rt, cmd, kind, text, result)
			}
		},
	}

	c.Flags().StringP("file", "f", "", "read the text from a file")
	c.Flags().Bool("save", false, "store the result (hr only)")
	c.Flags().String("application", "", "application the result belongs to")
	return c
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.AddCommand(
		analyzeCommand(ai.KindBias, "bias", "Check a job description for biased wording",
			func(ctx context.Context, a ai.Assistant, text string) (any, error) {
				return a.DetectBias(ctx, text)
			}),
		analyzeCommand(ai.KindChat, "chat", "Summarize a chat transcript",
			func(ctx context.Context, a ai.Assistant, text string) (any, error) {
				return a.SummarizeChat(ctx, text)
			}),
		analyzeCommand(ai.KindInterview, "interview", "Summarize interview notes",
			func(ctx context.Context, a ai.Assistant, text string) (any, error) {
				return a.SummarizeInterview(ctx, text)
			}),
	)
}

func analysisInput(cmd *cobra.Command, args []string) (string, error) {
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		data, err := os.ReadFile(filepath.Clean(file))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if len(args) == 1 {
		return args[0], nil
	}
	return "", ai.ErrEmptyInput
}

func saveAnalysis(rt *runtime, cmd *cobra.Command, kind, text string, result any) {
	rt.mustIdentity()

	fields, err := ai.ToMap(result)
	if err != nil {
		rt.logger.Fatal("converting analysis", zap.Error(err))
	}
	applicationID, _ := cmd.Flags().GetString("application")

	stored, err := rt.app.Recruitment.SaveAnalysis(rt.ctx, recruitment.AnalysisResult{
		Kind:          kind,
		ApplicationID: strings.TrimSpace(applicationID),
		Input:         text,
		Result:        fields,
	})
	if err != nil {
		rt.logger.Fatal("saving analysis", zap.Error(err))
	}
	rt.logger.Info("analysis saved", zap.String("id", stored.ID), zap.String("kind", kind))
}
