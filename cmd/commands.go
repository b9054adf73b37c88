package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	service "github.com/okian/startsit/internal/app"
	"github.com/okian/startsit/internal/config"
	"github.com/okian/startsit/internal/domain/model"
)

const pollInterval = 200 * time.Millisecond

// requestFlags binds the single-player request fields onto cmd.
type requestFlags struct {
	player   string
	opponent string
	location string
	scoring  string
	season   int
	week     int
}

func (f *requestFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.player, "player", "", "Player id")
	cmd.Flags().StringVar(&f.opponent, "opponent", "", "Opposing team id")
	cmd.Flags().StringVar(&f.location, "location", "", "Game location, used for the forecast")
	cmd.Flags().StringVar(&f.scoring, "scoring", "", "Scoring type: ppr, half_ppr or standard")
	cmd.Flags().IntVar(&f.season, "season", 0, "Season of an explicit week (defaults to the configured season)")
	cmd.Flags().IntVar(&f.week, "week", 0, "Explicit week; the current week is used when unset")
}

func (f *requestFlags) request(cfg *config.Config) model.AnalysisRequest {
	req := model.AnalysisRequest{
		PlayerID:    f.player,
		OpponentID:  f.opponent,
		Location:    f.location,
		ScoringType: model.ScoringType(f.scoring),
	}
	if f.week > 0 {
		season := f.season
		if season == 0 {
			season = cfg.Season
		}
		if season == 0 {
			season = time.Now().Year()
		}
		req.Bucket = model.Bucket{Season: season, Week: f.week}
	}
	return req
}

func analyzeCmd(conf func() *config.Config) *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute one start/sit recommendation in-process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *conf()
			cfg.Backend = config.BackendMemory
			cfg.PostgresDSN = ""

			ctx := cmd.Context()
			svc, cleanup, err := buildService(ctx, &cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := svc.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = svc.Stop(context.WithoutCancel(ctx)) }()

			res, err := svc.Analyze(ctx, flags.request(&cfg))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	flags.bind(cmd)
	return cmd
}

func submitCmd(conf func() *config.Config) *cobra.Command {
	var (
		flags    requestFlags
		vs       requestFlags
		category string
		file     string
		wait     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an analysis to a running service and print its handle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := conf()
			ctx := cmd.Context()
			r, err := openRemote(ctx, cfg)
			if err != nil {
				return err
			}
			defer r.cleanup()

			var h service.Handle
			switch {
			case file != "":
				raw, err := readPayload(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				h, err = r.gateway.SubmitJSON(ctx, model.Category(category), raw)
				if err != nil {
					return err
				}
			case vs.player != "":
				h, err = r.gateway.SubmitComparison(ctx, model.ComparisonRequest{
					First:  flags.request(cfg),
					Second: vs.request(cfg),
				})
				if err != nil {
					return err
				}
			default:
				h, err = r.gateway.Submit(ctx, flags.request(cfg))
				if err != nil {
					return err
				}
			}

			if wait <= 0 || h.Status == service.StatusCached {
				return printJSON(cmd.OutOrStdout(), h)
			}
			st, err := awaitTask(ctx, r.poller, h.TaskID, wait)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&vs.player, "vs-player", "", "Second player id; submits a comparison")
	cmd.Flags().StringVar(&vs.opponent, "vs-opponent", "", "Second player's opponent")
	cmd.Flags().StringVar(&vs.location, "vs-location", "", "Second player's game location")
	cmd.Flags().StringVar(&category, "category", string(model.CategoryMatchup), "Category of a --file payload: matchup or comparison")
	cmd.Flags().StringVar(&file, "file", "", "Raw JSON payload file, or - for stdin")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Poll until the task finishes or this long has passed")
	return cmd
}

func statusCmd(conf func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Print the state of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := openRemote(ctx, conf())
			if err != nil {
				return err
			}
			defer r.cleanup()

			st, err := r.poller.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func cancelCmd(conf func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := openRemote(ctx, conf())
			if err != nil {
				return err
			}
			defer r.cleanup()

			out, err := r.gateway.Cancel(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func awaitTask(ctx context.Context, p *service.Poller, id string, wait time.Duration) (service.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		st, err := p.Status(ctx, id)
		if err != nil {
			return service.Status{}, err
		}
		if st.Ready {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, nil
		case <-ticker.C:
		}
	}
}

func readPayload(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return raw, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
