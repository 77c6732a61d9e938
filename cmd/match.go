package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hireboard/internal/output"
	"github.com/spigell/hireboard/internal/scoring"
)

var matchCmd = &cobra.Command{
	Use:   "match RESUME...",
	Short: "Rank resume files against a job description with the matching service",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt := newRuntime()
		defer rt.close()

		description, err := jobDescription(rt, cmd)
		if err != nil {
			rt.logger.Fatal("reading job description", zap.Error(err))
		}
		top, _ := cmd.Flags().GetInt("top")

		results, err := rt.app.Scoring.Match(rt.ctx, scoring.Request{
			JobDescription: description,
			TopN:           top,
			Documents:      args,
		})
		if err != nil {
			rt.logger.Fatal("matching resumes", zap.Error(err))
		}

		table := output.NewTable("RANK", "SCORE", "FILE")
		for i, r := range results {
			table.AddRow(strconv.Itoa(i+1), fmt.Sprintf("%.3f", r.Score), r.Filename)
		}
		rt.render(table)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().String("description", "", "job description text")
	matchCmd.Flags().String("description-file", "", "file with the job description")
	matchCmd.Flags().String("job", "", "use the description of this posted job")
	matchCmd.Flags().IntP("top", "n", 0, "number of results (default is every file)")
}

func jobDescription(rt *runtime, cmd *cobra.Command) (string, error) {
	if text, _ := cmd.Flags().GetString("description"); text != "" {
		return text, nil
	}

	if file, _ := cmd.Flags().GetString("description-file"); file != "" {
		data, err := os.ReadFile(filepath.Clean(file))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	if id, _ := cmd.Flags().GetString("job"); id != "" {
		job, err := rt.app.Recruitment.Job(rt.ctx, id)
		if err != nil {
			return "", err
		}
		return job.Title + "\n" + job.Description, nil
	}

	return "", errors.New("one of --description, --description-file or --job is required")
}
