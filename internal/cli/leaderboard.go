package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"quizzer/internal/config"
	"quizzer/internal/domain"
)

// NewLeaderboardCmd prints the all-time top scorers.
func NewLeaderboardCmd(cfg *config.Config) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the top scorers from the configured score store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLeaderboard(cmd.Context(), *cfg, limit, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of players to show")
	return cmd
}

func runLeaderboard(ctx context.Context, cfg config.Config, limit int, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	records, err := b.scores.Top(ctx, limit)
	if err != nil {
		return err
	}
	return printLeaderboard(out, records)
}

func printLeaderboard(out io.Writer, records []domain.ScoreRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "No scores to display.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tTOTAL\tGAMES\tBEST\tLAST PLAYED")
	for i, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\n", i+1, r.Identity, r.TotalScore, r.GamesPlayed,
			r.HighestSingleGameScore, r.LastPlayedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
