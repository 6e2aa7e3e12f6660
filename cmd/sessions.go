package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prefetch/internal/store"
)

var (
	sessionsLimit  int
	sessionsOffset int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st == nil {
			return eris.New("store driver is none")
		}
		defer st.Close() //nolint:errcheck

		list, err := st.ListSessions(ctx, store.SessionFilter{Limit: sessionsLimit, Offset: sessionsOffset})
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "SESSION\tOUTCOMES\tACCURACY\tSAVED AT\n")
		for _, s := range list {
			fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%s\n",
				s.SessionID, s.Accuracy.Total, s.Accuracy.Rate()*100, s.SavedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	},
}

var sessionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete stored sessions and outcomes past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st == nil {
			return eris.New("store driver is none")
		}
		defer st.Close() //nolint:errcheck

		cutoff := store.RetentionCutoff(time.Now(), cfg.Store.RetentionDays)
		n, err := st.DeleteExpired(ctx, cutoff)
		if err != nil {
			return err
		}
		zap.L().Info("purged expired rows", zap.Int("rows", n), zap.Time("cutoff", cutoff))
		return nil
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 50, "maximum sessions to list")
	sessionsCmd.Flags().IntVar(&sessionsOffset, "offset", 0, "sessions to skip")
	sessionsCmd.AddCommand(sessionsPurgeCmd)
	rootCmd.AddCommand(sessionsCmd)
}
