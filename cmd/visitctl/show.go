package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/visitdesk/internal/session"
	"github.com/drfirst/visitdesk/internal/visitview"
	"github.com/drfirst/visitdesk/pkg/workerpool"
)

// renderedView is one visit's settled view and the toasts it raised
type renderedView struct {
	VisitID string             `json:"visitId"`
	View    visitview.View     `json:"view"`
	Notices []visitview.Notice `json:"notices,omitempty"`
}

func showCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <visit-id>...",
		Short: "Render the detail view of one or more visits",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			workers, _ := cmd.Flags().GetInt("workers")
			retries, _ := cmd.Flags().GetInt("retries")

			sess, err := a.session()
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			source := client.ForSession(sess)
			views, err := renderViews(cmd.Context(), sess, source, args, viewOptions{
				Workers:      workers,
				Retries:      retries,
				FetchTimeout: a.cfg.FetchTimeout,
				WaitTimeout:  a.cfg.ViewWaitTimeout,
			}, a.logger)
			// views that did settle are printed even when others did not
			if perr := printViews(cmd.OutOrStdout(), cmd.ErrOrStderr(), views, asJSON); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().Bool("json", false, "Print views as JSON")
	cmd.Flags().Int("workers", 4, "Views rendered concurrently")
	cmd.Flags().Int("retries", 0, "Reopen a view this many times when it does not settle in time")
	return cmd
}

type viewOptions struct {
	Workers      int
	Retries      int
	FetchTimeout time.Duration
	WaitTimeout  time.Duration
	Presenter    visitview.Presenter
}

// renderViews opens one view per id concurrently and returns them in argument order
func renderViews(ctx context.Context, sess *session.Session, source visitview.Source, ids []string, opts viewOptions, logger *zap.Logger) ([]renderedView, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	render := func(ctx context.Context, task *workerpool.Task[string]) (renderedView, error) {
		return renderView(ctx, sess, source, task.Payload, opts, logger)
	}

	pcfg := workerpool.DefaultConfig()
	if opts.Workers > 0 {
		pcfg.Workers = opts.Workers
	}
	pcfg.MaxRetries = opts.Retries

	results, err := workerpool.Run(ctx, pcfg, ids,
		func(id string) string { return id }, render, logger)
	if err != nil {
		return nil, err
	}

	views := make([]renderedView, 0, len(results))
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("visit %s: %w", r.TaskID, r.Err))
			continue
		}
		views = append(views, r.Value)
	}
	return views, errors.Join(errs...)
}

func renderView(ctx context.Context, sess *session.Session, source visitview.Source, visitID string, opts viewOptions, logger *zap.Logger) (renderedView, error) {
	notices := &visitview.Collector{}
	fetcher := visitview.NewDataFetcher(source, visitview.FetcherConfig{
		Timeout:  opts.FetchTimeout,
		Notifier: notices,
	}, logger)

	ctrl, err := visitview.NewController(sess, fetcher, visitview.WithLogger(logger))
	if err != nil {
		return renderedView{}, err
	}
	defer ctrl.Unmount()

	wait := opts.WaitTimeout
	if wait <= 0 {
		wait = visitview.DefaultFetchTimeout + 5*time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ctrl.Mount(ctx, visitID)
	state, err := ctrl.Wait(waitCtx)
	if err != nil {
		return renderedView{}, err
	}

	return renderedView{
		VisitID: visitID,
		View:    opts.Presenter.Render(state),
		Notices: notices.Notices(),
	}, nil
}

func printViews(w, errW io.Writer, views []renderedView, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	for i, v := range views {
		if i > 0 {
			fmt.Fprintln(w)
		}
		writeView(w, v.View)
		for _, n := range v.Notices {
			fmt.Fprintf(errW, "[%s] %s: %s\n", n.Level, v.VisitID, n.Message)
		}
	}
	return nil
}
