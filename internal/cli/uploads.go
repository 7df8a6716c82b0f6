package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/closetconnect/closet-tracker/internal/api"
	"github.com/closetconnect/closet-tracker/internal/core"
	"github.com/closetconnect/closet-tracker/internal/models"
	"github.com/closetconnect/closet-tracker/internal/progress"
	"github.com/closetconnect/closet-tracker/internal/util/sanitize"
)

func newUploadCmd() *cobra.Command {
	var name, category, imageType string
	var watch bool

	cmd := &cobra.Command{
		Use:   "upload <image>",
		Short: "Upload a cloth photo and track its processing",
		Long: `Upload a cloth photo to ClosetConnect.

The new cloth is tracked until AI processing finishes. Use --watch to
follow it live, or run 'closet-tracker watch' later.

Examples:
  closet-tracker upload shirt.jpg
  closet-tracker upload look.png --type FULL_BODY --category TOP --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.UploadRequest{ImagePath: args[0], Name: sanitize.Field(name)}
			if category != "" {
				c, err := models.ParseCategory(category)
				if err != nil {
					return err
				}
				req.Category = c
			}
			if imageType != "" {
				t, err := parseUploadImageType(imageType)
				if err != nil {
					return err
				}
				req.ImageType = t
			}
			if _, err := os.Stat(req.ImagePath); err != nil {
				return fmt.Errorf("cannot read image: %w", err)
			}

			s, err := openSession(true)
			if err != nil {
				return err
			}
			defer s.Close()

			var bar api.ProgressFunc
			if term.IsTerminal(int(os.Stderr.Fd())) {
				bar = progress.UploadBar(os.Stderr, filepath.Base(req.ImagePath))
			}
			cloth, err := s.API().UploadCloth(GetContext(), req, bar)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !s.Track(cloth.ID) {
				fmt.Fprintf(out, "Uploaded cloth #%d (%s), already tracked\n", cloth.ID, cloth.Name)
			} else {
				fmt.Fprintf(out, "Uploaded cloth #%d (%s), processing started\n", cloth.ID, cloth.Name)
			}
			if !watch {
				return nil
			}
			return runWatch(out, s, progress.NewBoard(os.Stderr), watchOptions{exitWhenIdle: true})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Cloth name (default: file name)")
	cmd.Flags().StringVar(&category, "category", "", "Category hint: "+categoryList())
	cmd.Flags().StringVar(&imageType, "type", "", "Photo type: FULL_BODY or SINGLE_ITEM (default FULL_BODY)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow processing until it finishes")
	return cmd
}

func newTrackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "track <clothId>",
		Short: "Track a cloth uploaded elsewhere",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseClothID(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(true, withoutSync)
			if err != nil {
				return err
			}
			defer s.Close()

			if !s.Track(id) {
				if _, ok := s.Registry().Get(id); ok {
					fmt.Fprintf(cmd.OutOrStdout(), "Cloth #%d is already tracked\n", id)
					return nil
				}
				if s.Ledger().IsDismissed(id) {
					return fmt.Errorf("cloth #%d was dismissed recently", id)
				}
				return fmt.Errorf("cloth #%d could not be tracked for user %d", id, s.UserID())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tracking cloth #%d\n", id)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tracked uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(false, withoutSync)
			if err != nil {
				return err
			}
			defer s.Close()

			records := s.Registry().List()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if records == nil {
					records = []models.UploadRecord{}
				}
				return enc.Encode(records)
			}
			printUploads(cmd.OutOrStdout(), records, time.Now())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newDismissCmd() *cobra.Command {
	var keepVisible bool

	cmd := &cobra.Command{
		Use:   "dismiss <clothId>",
		Short: "Stop tracking an upload",
		Long: `Stop tracking an upload.

A dismissed upload is not brought back by late progress events for the
next hour. Use --keep-visible to drop it locally without recording the
dismissal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseClothID(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(false, withoutSync)
			if err != nil {
				return err
			}
			defer s.Close()

			removed := s.Registry().Remove(id, !keepVisible)
			switch {
			case removed:
				fmt.Fprintf(cmd.OutOrStdout(), "Dismissed cloth #%d\n", id)
			case !keepVisible:
				fmt.Fprintf(cmd.OutOrStdout(), "Cloth #%d was not tracked; future events for it will be ignored\n", id)
			default:
				return fmt.Errorf("cloth #%d is not tracked", id)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepVisible, "keep-visible", false, "Remove without recording a dismissal")
	return cmd
}

func withoutSync(o *core.Options) { o.DisableSync = true }

func printUploads(w io.Writer, records []models.UploadRecord, now time.Time) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No tracked uploads")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLOTH\tSTATUS\tPROGRESS\tSTEP\tAGE")
	for _, rec := range records {
		step := sanitize.Line(rec.CurrentStep)
		if msg := sanitize.Line(rec.ErrorMessage); rec.Status == models.StatusFailed && msg != "" {
			step = msg
		}
		fmt.Fprintf(tw, "%d\t%s\t%d%%\t%s\t%s\n",
			rec.ClothID, rec.Status.Label(), rec.ProgressPercentage, step,
			now.Sub(rec.CreatedAt()).Round(time.Second))
	}
	tw.Flush()
}

func parseClothID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid cloth id %q", s)
	}
	return id, nil
}

var errUnknownUploadType = errors.New("unknown photo type")

func parseUploadImageType(s string) (models.UploadImageType, error) {
	switch t := models.UploadImageType(strings.ToUpper(strings.TrimSpace(s))); t {
	case models.UploadFullBody, models.UploadSingleItem:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q (want FULL_BODY or SINGLE_ITEM)", errUnknownUploadType, s)
}

func categoryList() string {
	names := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
