package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/closetconnect/closet-tracker/internal/core"
	"github.com/closetconnect/closet-tracker/internal/events"
	"github.com/closetconnect/closet-tracker/internal/localapi"
	"github.com/closetconnect/closet-tracker/internal/models"
	"github.com/closetconnect/closet-tracker/internal/progress"
)

// listenFromConfig is the --listen value used when the flag has no address.
const listenFromConfig = "config"

type watchOptions struct {
	listen       string
	exitWhenIdle bool
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions
	var noBars bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow tracked uploads live",
		Long: `Follow tracked uploads live over the backend push channel.

Progress is drawn as one bar per cloth. A desktop notification is shown
when a cloth is ready for review or fails. With --listen the upload list
is also served as JSON on a local address:

  GET    /api/uploads
  GET    /api/uploads/{clothId}
  DELETE /api/uploads/{clothId}?dismiss=true
  GET    /api/status
  GET    /api/events   (websocket)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var board *progress.Board
			if noBars {
				board = progress.NewPlainBoard(cmd.OutOrStdout())
			} else {
				board = progress.NewBoard(os.Stderr)
			}

			// Logs go above the bars.
			s, err := openSession(true, func(o *core.Options) {
				o.Logger = buildLogger(board.Writer(), o.Config)
			})
			if err != nil {
				return err
			}
			defer s.Close()

			if opts.listen == listenFromConfig {
				opts.listen = s.Config().LocalAPI.Listen
			}
			return runWatch(cmd.OutOrStdout(), s, board, opts)
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", "", "Serve the local API on this address (default from config)")
	cmd.Flags().Lookup("listen").NoOptDefVal = listenFromConfig
	cmd.Flags().BoolVar(&noBars, "no-bars", false, "Print plain progress lines instead of bars")
	cmd.Flags().BoolVar(&opts.exitWhenIdle, "exit-when-idle", false, "Exit once no upload is processing")
	return cmd
}

// runWatch drives board from the session until the root context is
// cancelled, or with exitWhenIdle until nothing is processing.
func runWatch(out io.Writer, s *core.Session, board *progress.Board, opts watchOptions) error {
	ctx, cancel := context.WithCancel(GetContext())
	defer cancel()

	// Subscribe before Start so no event is missed.
	boardEvents := s.Bus().SubscribeAll()
	idleEvents := s.Bus().Subscribe(events.EventUploadCompleted, events.EventUploadFailed,
		events.EventUploadRemoved, events.EventUploadsReplaced)

	board.Seed(s.Registry().List())
	boardDone := make(chan struct{})
	go func() {
		defer close(boardDone)
		board.Run(ctx, boardEvents)
	}()

	apiErr := make(chan error, 1)
	if opts.listen != "" {
		srv := localapi.New(localapi.Options{
			Uploads:    s.Registry(),
			Connection: s.Push(),
			Bus:        s.Bus(),
			Logger:     GetLogger(),
		})
		go func() { apiErr <- srv.ListenAndServe(ctx, opts.listen) }()
		fmt.Fprintf(board.Writer(), "Local API on http://%s\n", opts.listen)
	}

	if opts.exitWhenIdle && processing(s.Registry().List()) == 0 {
		cancel()
	} else if err := s.Start(ctx); err != nil {
		return err
	}

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-apiErr:
			if err != nil {
				runErr = fmt.Errorf("local API: %w", err)
				cancel()
			}
		case _, ok := <-idleEvents:
			if !ok {
				idleEvents = nil
				cancel()
				continue
			}
			if opts.exitWhenIdle && processing(s.Registry().List()) == 0 {
				cancel()
			}
		}
	}

	<-boardDone
	board.Close()
	printReviewHint(out, s.Registry().List())
	return runErr
}

func processing(records []models.UploadRecord) int {
	n := 0
	for _, rec := range records {
		if rec.Status == models.StatusProcessing {
			n++
		}
	}
	return n
}

func printReviewHint(w io.Writer, records []models.UploadRecord) {
	for _, rec := range records {
		if rec.Status == models.StatusReadyForReview {
			fmt.Fprintf(w, "Cloth #%d is ready: closet-tracker review %d\n", rec.ClothID, rec.ClothID)
		}
	}
}
