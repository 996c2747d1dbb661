package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"optionchain/internal/chain"
	apperrors "optionchain/internal/errors"
	"optionchain/internal/metrics"
	"optionchain/internal/models"
	"optionchain/pkg/utils"
)

func addChainCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newChainCmd(app))
	rootCmd.AddCommand(newDashboardCmd(app))
	rootCmd.AddCommand(newExpiriesCmd(app))
	rootCmd.AddCommand(newWatchCmd(app))
}

// parseExpiry reads the --expiry flag. An empty value selects the nearest expiry.
func parseExpiry(cmd *cobra.Command) (time.Time, error) {
	raw, _ := cmd.Flags().GetString("expiry")
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(utils.DayLayout, raw)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError("expiry", raw, "must be YYYY-MM-DD")
	}
	return t, nil
}

// engineOrExplain returns the engine, printing a hint when the session is missing.
func engineOrExplain(app *App, output *Output) (*chain.Engine, error) {
	engine, err := app.Engine()
	if err == nil {
		return engine, nil
	}
	switch {
	case errors.Is(err, apperrors.ErrNotAuthenticated):
		output.Error("Not authenticated")
		output.Info("Run 'optionchain auth login' to start a session")
	case errors.Is(err, apperrors.ErrConfigInvalid):
		output.Error("%v", err)
		output.Info("Add your Kite api_key and api_secret to %s/credentials.toml", app.ConfigDir)
	}
	return nil, err
}

func newChainCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain <symbol>",
		Short: "Build and display an option chain",
		Long: `Build the option chain for an underlying and render it strike by strike.

Calls are shown on the left and puts on the right. The at-the-money strike
is highlighted. Use --strikes to limit the view to strikes around ATM.`,
		Example: `  optionchain chain NIFTY
  optionchain chain BANKNIFTY --expiry 2026-03-26
  optionchain chain CRUDEOIL --strikes 10
  optionchain chain SENSEX --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			expiry, err := parseExpiry(cmd)
			if err != nil {
				return err
			}
			engine, err := engineOrExplain(app, output)
			if err != nil {
				return err
			}

			snap, err := engine.Build(cmd.Context(), args[0], expiry)
			if err != nil {
				output.Error("Failed to build chain: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(snap)
			}
			strikes, _ := cmd.Flags().GetInt("strikes")
			renderChain(output, snap, strikes)
			return nil
		},
	}

	cmd.Flags().String("expiry", "", "expiry date (YYYY-MM-DD), default nearest")
	cmd.Flags().Int("strikes", 0, "strikes to show on each side of ATM (0 = all)")
	return cmd
}

func renderChain(output *Output, snap *models.ChainSnapshot, around int) {
	renderHeader(output, snap)

	rows := snap.Rows
	if around > 0 && snap.ATMStrike > 0 {
		rows = windowAround(rows, snap.ATMStrike, around)
	}

	table := NewTable(output,
		"OI", "Vol", "IV", "Δ", "LTP", "Chg",
		"Strike",
		"Chg", "LTP", "Δ", "IV", "Vol", "OI")
	for _, row := range rows {
		cells := append(legCells(row.Call, false), fmt.Sprintf("%.0f", row.Strike))
		cells = append(cells, legCells(row.Put, true)...)
		if row.Strike == snap.ATMStrike {
			table.AddHighlightedRow(cells...)
		} else {
			table.AddRow(cells...)
		}
	}
	table.Render()

	output.Println()
	output.Printf("  Call OI %s   Put OI %s   PCR %s   Max Pain %.0f\n",
		FormatOI(snap.Totals.CallOI), FormatOI(snap.Totals.PutOI),
		FormatPCR(snap.Totals.PCR), snap.Totals.MaxPain)
	output.Dim("  Coverage: quotes %s, prev-day %s, intraday %s   build %s",
		FormatCoverage(snap.Coverage.Quotes), FormatCoverage(snap.Coverage.PrevDay),
		FormatCoverage(snap.Coverage.Intraday), snap.BuildID)
}

func renderHeader(output *Output, snap *models.ChainSnapshot) {
	output.Bold("%s %s  expiry %s", snap.Symbol, snap.Exchange, FormatDate(snap.Expiry))
	if snap.SpotPrice > 0 {
		output.Printf("  Spot %.2f  %s   ATM %.0f\n",
			snap.SpotPrice, output.FormatChange(snap.Spot.Change, snap.Spot.ChangePercent), snap.ATMStrike)
	} else {
		output.Warning("  Spot unavailable: IV, Greeks and ATM are omitted")
	}
	output.Dim("  As of %s IST", FormatTime(snap.GeneratedAt))
	output.Println()
}

// legCells renders one side; puts mirror the call column order.
func legCells(leg *models.OptionLeg, mirror bool) []string {
	cells := []string{"-", "-", "-", "-", "-", "-"}
	if leg != nil {
		chg := "-"
		if leg.PrevClose != nil && leg.LTP > 0 {
			chg = FormatSigned(leg.LTP - *leg.PrevClose)
		}
		delta := "-"
		if leg.IV > 0 {
			delta = fmt.Sprintf("%.2f", leg.Greeks.Delta)
		}
		cells = []string{FormatOI(leg.OI), FormatVolume(leg.Volume), FormatIV(leg.IV), delta, FormatPrice(leg.LTP), chg}
	}
	if mirror {
		for i, j := 0, len(cells)-1; i < j; i, j = i+1, j-1 {
			cells[i], cells[j] = cells[j], cells[i]
		}
	}
	return cells
}

// windowAround keeps n strikes on each side of atm.
func windowAround(rows []models.ChainRow, atm float64, n int) []models.ChainRow {
	idx := 0
	for i, r := range rows {
		if r.Strike == atm {
			idx = i
			break
		}
	}
	lo, hi := idx-n, idx+n+1
	if lo < 0 {
		lo = 0
	}
	if hi > len(rows) {
		hi = len(rows)
	}
	return rows[lo:hi]
}

func newDashboardCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard <symbol>",
		Short: "Show PCR, max pain, OI walls and ATM IV",
		Example: `  optionchain dashboard NIFTY
  optionchain dashboard BANKNIFTY --expiry 2026-03-26`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			expiry, err := parseExpiry(cmd)
			if err != nil {
				return err
			}
			engine, err := engineOrExplain(app, output)
			if err != nil {
				return err
			}

			d, err := engine.Dashboard(cmd.Context(), args[0], expiry)
			if err != nil {
				output.Error("Failed to build dashboard: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(d)
			}
			renderDashboard(output, d)
			return nil
		},
	}

	cmd.Flags().String("expiry", "", "expiry date (YYYY-MM-DD), default nearest")
	return cmd
}

func renderDashboard(output *Output, d *models.Dashboard) {
	output.Bold("%s  expiry %s", d.Symbol, FormatDate(d.Expiry))
	if d.SpotPrice > 0 {
		output.Printf("  Spot:       %.2f  %s\n", d.SpotPrice, output.FormatChange(d.Change, d.ChangePercent))
		output.Printf("  ATM:        %.0f  (IV call %s, put %s)\n", d.ATMStrike, FormatIV(d.ATMCallIV), FormatIV(d.ATMPutIV))
	} else {
		output.Warning("  Spot unavailable")
	}
	output.Println()
	output.Printf("  PCR:        %s  %s\n", FormatPCR(d.PCR), output.Sentiment(d.Sentiment))
	output.Printf("  Max Pain:   %.0f\n", d.MaxPain)
	output.Printf("  Call Wall:  %.0f\n", d.CallWall)
	output.Printf("  Put Wall:   %.0f\n", d.PutWall)
	output.Println()
	output.Printf("  Call OI:    %s   Volume %s\n", FormatOI(d.CallOI), FormatVolume(d.CallVolume))
	output.Printf("  Put OI:     %s   Volume %s\n", FormatOI(d.PutOI), FormatVolume(d.PutVolume))
	output.Dim("  As of %s IST", FormatTime(d.GeneratedAt))
}

func newExpiriesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "expiries <symbol>",
		Short:   "List live option expiries",
		Example: `  optionchain expiries NIFTY`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			engine, err := engineOrExplain(app, output)
			if err != nil {
				return err
			}

			expiries, err := engine.Expiries(cmd.Context(), args[0])
			if err != nil {
				output.Error("Failed to list expiries: %v", err)
				return err
			}

			if output.IsJSON() {
				days := make([]string, len(expiries))
				for i, e := range expiries {
					days[i] = e.Format(utils.DayLayout)
				}
				return output.JSON(map[string]interface{}{
					"symbol":   strings.ToUpper(args[0]),
					"expiries": days,
				})
			}

			output.Bold("%s expiries", strings.ToUpper(args[0]))
			for i, e := range expiries {
				label := e.Format("02-Jan-2006 (Mon)")
				if i == 0 {
					label += "  " + output.Cyan("nearest")
				}
				output.Printf("  %s\n", label)
			}
			return nil
		},
	}
}

func newWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <symbol>",
		Short: "Rebuild a chain on an interval",
		Long: `Rebuild the chain every --interval until interrupted.

While watching, instruments are refreshed in the background and previous-day
warm jobs keep filling the cache. With --metrics-addr (or metrics.enabled in
config.toml) Prometheus metrics are served on /metrics.`,
		Example: `  optionchain watch NIFTY
  optionchain watch NIFTY --interval 30s --strikes 8
  optionchain watch BANKNIFTY --metrics-addr :9108`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			expiry, err := parseExpiry(cmd)
			if err != nil {
				return err
			}
			interval, _ := cmd.Flags().GetDuration("interval")
			if interval <= 0 {
				return apperrors.NewValidationError("interval", interval, "must be positive")
			}
			strikes, _ := cmd.Flags().GetInt("strikes")
			addr, _ := cmd.Flags().GetString("metrics-addr")
			if addr == "" && app.Config.Metrics.Enabled {
				addr = app.Config.Metrics.Addr
			}

			engine, err := engineOrExplain(app, output)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				app.catalog.Run(ctx, app.Exchanges(), app.Config.Engine.InstrumentTTL)
				return nil
			})

			if addr != "" {
				srv := &http.Server{Addr: addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
				g.Go(func() error {
					app.Logger.Info().Str("addr", addr).Msg("Serving metrics")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}

			g.Go(func() error {
				return watchLoop(ctx, app, engine, output, args[0], expiry, interval, strikes)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().String("expiry", "", "expiry date (YYYY-MM-DD), default nearest")
	cmd.Flags().Duration("interval", 15*time.Second, "rebuild interval")
	cmd.Flags().Int("strikes", 10, "strikes to show on each side of ATM (0 = all)")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// watchLoop builds until ctx ends. Only a fatal error for the symbol stops it;
// upstream outages are logged and retried on the next tick.
func watchLoop(ctx context.Context, app *App, engine *chain.Engine, output *Output, symbol string, expiry time.Time, interval time.Duration, strikes int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snap, err := engine.Build(ctx, symbol, expiry)
		switch {
		case err == nil:
			if output.IsJSON() {
				if err := output.JSON(snap); err != nil {
					return err
				}
			} else {
				if output.colorEnabled {
					output.Printf("\033[H\033[2J")
				}
				renderChain(output, snap, strikes)
			}
		case errors.Is(err, apperrors.ErrNotFound):
			return err
		case ctx.Err() != nil:
			return nil
		default:
			app.Logger.Warn().Err(err).Str("symbol", symbol).Msg("Chain build failed, retrying next tick")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
