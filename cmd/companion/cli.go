package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/edge-companion/internal/companion"
	"github.com/danielpatrickdp/edge-companion/internal/config"
	"github.com/danielpatrickdp/edge-companion/internal/diary"
	"github.com/danielpatrickdp/edge-companion/internal/logging"
	"github.com/danielpatrickdp/edge-companion/internal/mcp"
	"github.com/danielpatrickdp/edge-companion/internal/replay"
	"github.com/danielpatrickdp/edge-companion/internal/state"
)

// #region runtime

// runtime builds the service on first use so --help never touches the database.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	reg    *prometheus.Registry
	svc    *companion.Service
}

func (rt *runtime) open(c *cli.Context) (*companion.Service, error) {
	if rt.svc != nil {
		return rt.svc, nil
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if db := c.String("db"); db != "" {
		cfg.DatabasePath = db
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	svc, err := companion.Build(c.Context, cfg, logger, companion.WithRegisterer(reg))
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	rt.cfg, rt.logger, rt.reg, rt.svc = cfg, logger, reg, svc
	return svc, nil
}

func (rt *runtime) close() error {
	if rt.svc == nil {
		return nil
	}
	err := rt.svc.Close()
	_ = rt.logger.Sync()
	rt.svc = nil
	return err
}

// #endregion runtime

// #region app

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	rt := &runtime{}
	app := &cli.App{
		Name:    "companion",
		Usage:   "On-device personalization engine: reactions, learning, nightly diary",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "companion.yaml", EnvVars: []string{"COMPANION_CONFIG"}, Usage: "YAML config file (missing file means defaults)"},
			&cli.StringFlag{Name: "db", Usage: "Override the database path"},
		},
		Commands: []*cli.Command{
			reactCmd(rt),
			learnCmd(rt),
			consolidateCmd(rt),
			diaryCmd(rt),
			profileCmd(rt),
			inspectCmd(rt),
			rollbackCmd(rt),
			exportFixtureCmd(rt),
			serveCmd(rt),
		},
		After: func(*cli.Context) error { return rt.close() },
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// #endregion app

// #region commands

func reactCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "react",
		Usage: "Choose a reaction for the current moment",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "learn", Usage: "Observe the response and learn from it"},
			&cli.DurationFlag{Name: "delay", Value: time.Second, Usage: "Wait before observing the response"},
		},
		Action: func(c *cli.Context) error {
			svc, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			if !c.Bool("learn") {
				r, err := svc.React(c.Context)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(c.App.Writer, mcp.NewReactionOutput(r, nil))
			}
			r, results, err := svc.ReactAndLearn(c.Context, c.Duration("delay"))
			if err != nil {
				return outputError(err)
			}
			res, ok := <-results
			if !ok {
				return cli.Exit("cancelled before the response was observed", 1)
			}
			learned := mcp.NewLearnOutput(res)
			return outputJSON(c.App.Writer, mcp.NewReactionOutput(r, &learned))
		},
	}
}

func learnCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "learn",
		Usage:     "Observe the response to a reaction shown by someone else and learn from it",
		ArgsUsage: "ACTION",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "intensity", Value: 0.5, Usage: "Intensity the reaction was shown with"},
		},
		Action: func(c *cli.Context) error {
			action, ok := state.ParseAction(strings.ToUpper(c.Args().First()))
			if !ok {
				return cli.Exit(fmt.Sprintf("unknown action %q (valid: %s)", c.Args().First(), strings.Join(state.ActionNames(), ", ")), 2)
			}
			svc, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, mcp.NewLearnOutput(svc.Learn(c.Context, action, c.Float64("intensity"))))
		},
	}
}

func consolidateCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "consolidate",
		Usage: "Fold pending interactions into the profile and write the diary",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "Ignore charging, network and battery preconditions"},
		},
		Action: func(c *cli.Context) error {
			svc, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("force") {
				return outputJSON(c.App.Writer, mcp.NewConsolidateOutput(svc.ConsolidateUnguarded(c.Context)))
			}
			rep, skipped := svc.Consolidate(c.Context)
			if skipped != "" {
				return outputJSON(c.App.Writer, mcp.ConsolidateOutput{Outcome: "skipped", Skipped: skipped})
			}
			return outputJSON(c.App.Writer, mcp.NewConsolidateOutput(rep))
		},
	}
}

func diaryCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "diary",
		Usage: "Print diary entries, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: "Only the entry for YYYY-MM-DD"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 7, Usage: "Number of entries"},
			&cli.BoolFlag{Name: "html", Usage: "Render as HTML"},
		},
		Action: func(c *cli.Context) error {
			svc, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			var entries []state.DiaryEntry
			if date := c.String("date"); date != "" {
				e, err := svc.DiaryByDate(c.Context, date)
				if errors.Is(err, state.ErrNotFound) {
					return cli.Exit(fmt.Sprintf("no diary entry for %s", date), 1)
				}
				if err != nil {
					return outputError(err)
				}
				entries = append(entries, e)
			} else {
				entries, err = svc.Diary(c.Context, c.Int("limit"))
				if err != nil {
					return outputError(err)
				}
			}
			if len(entries) == 0 {
				fmt.Fprintln(c.App.ErrWriter, "no diary entries yet")
				return nil
			}
			for _, e := range entries {
				text := diary.Markdown(e)
				if c.Bool("html") {
					if text, err = diary.RenderHTML(e); err != nil {
						return outputError(err)
					}
				}
				fmt.Fprintln(c.App.Writer, text)
			}
			return nil
		},
	}
}

func profileCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "Show the long-term profile",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "history", Usage: "Include N recorded versions"},
		},
		Action: func(c *cli.Context) error {
			svc, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			p, err := svc.Profile(c.Context)
			if err != nil {
				return outputError(err)
			}
			out := mcp.NewProfileOutput(p)
			if n := c.Int("history"); n > 0 {
				if out.History, err = svc.Store().ListProfileVersions(c.Context, svc.UserID(), n); err != nil {
					return outputError(err)
				}
			}
			return outputJSON(c.App.Writer, out)
		},
	}
}

type inspectOutput struct {
	Profile  mcp.ProfileOutput  `json:"profile"`
	Pending  int                `json:"pending_logs"`
	Total    int                `json:"total_logs"`
	Runs     []logging.RunEntry `json:"runs"`
	Versions []int64            `json:"versions"`
}

func inspectCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Show the profile, the pending log backlog and recent consolidation runs",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "runs", Value: 10, Usage: "Number of recent runs"},
			&cli.BoolFlag{Name: "json", Usage: "Output as JSON instead of a table"},
		},
		Action: func(c *cli.Context) error {
			svc, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			out, err := inspect(c.Context, svc, c.Int("runs"))
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, out)
			}
			printInspect(c.App.Writer, out)
			return nil
		},
	}
}

func inspect(ctx context.Context, svc *companion.Service, runs int) (inspectOutput, error) {
	store := svc.Store()
	p, err := svc.Profile(ctx)
	if err != nil {
		return inspectOutput{}, err
	}
	out := inspectOutput{Profile: mcp.NewProfileOutput(p)}
	if out.Pending, err = store.PendingCount(ctx); err != nil {
		return inspectOutput{}, err
	}
	if out.Total, err = store.TotalLogCount(ctx); err != nil {
		return inspectOutput{}, err
	}
	if out.Runs, err = logging.RecentRuns(ctx, store.DB(), runs); err != nil {
		return inspectOutput{}, err
	}
	versions, err := store.ListProfileVersions(ctx, svc.UserID(), runs)
	if err != nil {
		return inspectOutput{}, err
	}
	for _, v := range versions {
		out.Versions = append(out.Versions, v.Version)
	}
	return out, nil
}

func printInspect(w io.Writer, out inspectOutput) {
	fmt.Fprintf(w, "Profile %s  version %d  interactions %d  consolidations %d\n",
		out.Profile.UserID, out.Profile.Version, out.Profile.TotalInteractions, out.Profile.TotalConsolidations)
	fmt.Fprintf(w, "Logs: %d pending, %d total\n\n", out.Pending, out.Total)

	fmt.Fprintf(w, "%-14s| %7s| %7s| %s\n", "Action", "Alpha", "Beta", "Expectation")
	fmt.Fprintf(w, "%-14s+%8s+%8s+%s\n", "--------------", "--------", "--------", "------------")
	for _, a := range out.Profile.Arms {
		fmt.Fprintf(w, "%-14s| %7.3f| %7.3f| %s %.3f\n", a.Action, a.Alpha, a.Beta, diary.Bar(a.Expectation), a.Expectation)
	}

	fmt.Fprintf(w, "\n%-28s| %-8s| %5s| %5s| %-9s| %s\n", "Run", "Outcome", "Read", "Used", "Version", "Reason")
	for _, r := range out.Runs {
		version := "-"
		if r.VersionTo != 0 {
			version = fmt.Sprintf("%d->%d", r.VersionFrom, r.VersionTo)
		}
		fmt.Fprintf(w, "%-28s| %-8s| %5d| %5d| %-9s| %s\n", r.RunID, r.Outcome, r.LogsRead, r.LogsUsed, version, r.Reason)
	}
}

func rollbackCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "rollback",
		Usage: "Restore the arm parameters recorded for an earlier version",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "version", Required: true, Usage: "Profile version to restore"},
		},
		Action: func(c *cli.Context) error {
			svc, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			p, err := svc.Store().RollbackProfile(c.Context, svc.UserID(), c.Int64("version"))
			if errors.Is(err, state.ErrNotFound) {
				return cli.Exit(fmt.Sprintf("no recorded profile version %d", c.Int64("version")), 1)
			}
			if err != nil {
				return outputError(err)
			}
			rt.logger.Info("profile rolled back", zap.Int64("to_version", c.Int64("version")), zap.Int64("version", p.Version))
			return outputJSON(c.App.Writer, mcp.NewProfileOutput(p))
		},
	}
}

func exportFixtureCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "export-fixture",
		Usage: "Write the profile and pending logs as a replay fixture",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true, Usage: "Fixture JSON path"},
			&cli.StringFlag{Name: "description", Value: "exported pending logs", Usage: "Fixture description"},
			&cli.IntFlag{Name: "limit", Value: 1000, Usage: "Maximum logs to export"},
			&cli.IntFlag{Name: "consolidate-every", Usage: "Consolidate after every N interactions during replay"},
		},
		Action: func(c *cli.Context) error {
			svc, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			p, err := svc.Profile(c.Context)
			if err != nil {
				return outputError(err)
			}
			logs, err := svc.Store().PendingLogs(c.Context, c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			f := replay.FixtureFromLogs(c.String("description"), p, logs, replay.FixtureConfig{
				RealtimeThreshold: rt.cfg.Learning.RealtimeThreshold,
				BatchThreshold:    rt.cfg.Learning.BatchThreshold,
				MaxParameterSum:   rt.cfg.Learning.MaxParameterSum,
				ConsolidateEvery:  c.Int("consolidate-every"),
			})
			if err := f.Save(c.String("out")); err != nil {
				return outputError(err)
			}
			fmt.Fprintf(c.App.ErrWriter, "wrote %d interactions to %s\n", len(f.Interactions), c.String("out"))
			return nil
		},
	}
}

func serveCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the consolidation schedule, the metrics listener and the MCP server on stdio",
		Action: func(c *cli.Context) error {
			svc, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !svc.Scheduler().Start(ctx) {
				rt.logger.Warn("consolidation schedule already running")
			}
			rt.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			g, gctx := errgroup.WithContext(ctx)
			if addr := rt.cfg.Metrics.Address; addr != "" {
				srv := &http.Server{Addr: addr, Handler: metricsHandler(rt.reg), ReadHeaderTimeout: 5 * time.Second}
				g.Go(func() error {
					rt.logger.Info("metrics listening", zap.String("addr", addr))
					if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("metrics listener: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
			}
			g.Go(func() error {
				// stdin closing ends the session and everything else with it
				defer stop()
				return mcp.Serve(gctx, svc, Version, os.Stdin, os.Stdout)
			})
			return g.Wait()
		},
	}
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// #endregion commands

// #region output

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	return cli.Exit(err.Error(), 1)
}

// #endregion output
