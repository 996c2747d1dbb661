package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"optionchain/internal/models"
	"optionchain/internal/prevday"
	"optionchain/pkg/utils"
)

func newCacheCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Previous-day cache maintenance",
		Long: `Inspect and maintain the on-disk previous-day candle cache.

Each previous trading day is stored as prevday_YYYY-MM-DD.json in the cache
directory. Only the current previous trading day is served.`,
	}

	cmd.AddCommand(newCacheWarmCmd(app))
	cmd.AddCommand(newCachePruneCmd(app))
	cmd.AddCommand(newCacheStatusCmd(app))
	return cmd
}

func newCacheWarmCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warm <symbol>",
		Short: "Fill the previous-day cache for a chain",
		Long: `Queue background previous-day fetches for every contract of a chain and
wait for them to finish. Strikes nearest spot are fetched first. Nothing is
queued when the cache already covers the chain.`,
		Example: `  optionchain cache warm NIFTY
  optionchain cache warm BANKNIFTY --expiry 2026-03-26 --timeout 2m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			expiry, err := parseExpiry(cmd)
			if err != nil {
				return err
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")

			engine, err := engineOrExplain(app, output)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			queued, err := engine.Warm(ctx, args[0], expiry)
			if err != nil {
				output.Error("Failed to start warm: %v", err)
				return err
			}
			if queued == 0 {
				output.Success("✓ Cache already covers %s", args[0])
				return nil
			}

			output.Info("Warming %d shard(s)...", queued)
			pd := engine.PrevDay()
			deadline := time.Now().Add(timeout)
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for len(pd.Jobs()) > 0 {
				if time.Now().After(deadline) {
					output.Warning("Timed out with %d job(s) pending; progress so far is saved", len(pd.Jobs()))
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}

			path := pd.DayFile(pd.PreviousTradingDay(time.Now()))
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"symbol": args[0], "jobs": queued, "file": path})
			}
			output.Success("✓ Warm complete")
			output.Dim("  %s", path)
			return nil
		},
	}

	cmd.Flags().String("expiry", "", "expiry date (YYYY-MM-DD), default nearest")
	cmd.Flags().Duration("timeout", 5*time.Minute, "maximum time to wait for warm jobs")
	return cmd
}

func newCachePruneCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete day files older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			pd, err := app.PrevDay()
			if err != nil {
				return err
			}
			n, err := pd.Prune(time.Now())
			if err != nil {
				output.Error("Prune failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]int{"removed": n})
			}
			output.Success("✓ Removed %d file(s)", n)
			return nil
		},
	}
}

type cacheStatus struct {
	Dir             string                     `json:"dir"`
	PreviousDay     string                     `json:"previous_day"`
	Files           []prevday.DayFileInfo      `json:"files"`
	Jobs            []models.WarmJob           `json:"jobs"`
	ActiveCooldowns []models.RateLimitCooldown `json:"active_cooldowns"`
}

func newCacheStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cached day files, warm jobs and cooldowns",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			pd, err := app.PrevDay()
			if err != nil {
				return err
			}
			files, err := pd.Files()
			if err != nil {
				output.Error("Failed to list cache files: %v", err)
				return err
			}

			st := cacheStatus{
				Dir:         app.Config.PrevDay.CacheDir,
				PreviousDay: pd.PreviousTradingDay(time.Now()).Format(utils.DayLayout),
				Files:       files,
				Jobs:        pd.Jobs(),
			}
			if g := app.Governor(); g != nil {
				st.ActiveCooldowns = g.Snapshot()
				sort.Slice(st.ActiveCooldowns, func(i, j int) bool {
					return st.ActiveCooldowns[i].Scope < st.ActiveCooldowns[j].Scope
				})
			}

			if output.IsJSON() {
				return output.JSON(st)
			}
			renderCacheStatus(output, st)
			return nil
		},
	}
}

func renderCacheStatus(output *Output, st cacheStatus) {
	output.Bold("Previous-day cache")
	output.Printf("  Directory:     %s\n", st.Dir)
	output.Printf("  Serving day:   %s\n", st.PreviousDay)
	output.Println()

	if len(st.Files) == 0 {
		output.Dim("  No day files")
	} else {
		table := NewTable(output, "Day", "Size", "Modified")
		for _, f := range st.Files {
			day := f.Day.Format(utils.DayLayout)
			if day == st.PreviousDay {
				day = output.Cyan(day)
			}
			table.AddRow(day, humanize.Bytes(uint64(f.Size)), humanize.Time(f.ModTime))
		}
		table.Render()
	}

	if len(st.Jobs) > 0 {
		output.Println()
		output.Bold("Warm jobs")
		for _, j := range st.Jobs {
			state := "queued"
			if j.Running {
				state = fmt.Sprintf("running since %s", humanize.Time(j.StartedAt))
			}
			output.Printf("  %-28s %4d tokens  %s\n", j.Key, j.Tokens, state)
		}
	}

	if len(st.ActiveCooldowns) > 0 {
		output.Println()
		output.Bold("Cooldowns")
		for _, c := range st.ActiveCooldowns {
			output.Printf("  %-10s %s\n", c.Scope, output.Yellow("until "+FormatTime(c.ActiveUntil)))
		}
	}
}
