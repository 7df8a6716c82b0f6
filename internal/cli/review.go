package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/closetconnect/closet-tracker/internal/models"
	"github.com/closetconnect/closet-tracker/internal/review"
	"github.com/closetconnect/closet-tracker/internal/util/sanitize"
)

func newReviewCmd() *cobra.Command {
	var imageType, category, imageURL string
	var reject, acceptDefault bool

	cmd := &cobra.Command{
		Use:   "review <clothId>",
		Short: "Choose the final image for a processed cloth",
		Long: `Review a cloth that finished AI processing.

Without flags the available images are listed and you pick one
interactively. Pressing enter without a choice keeps the segmented image
under the suggested category.

Examples:
  closet-tracker review 12
  closet-tracker review 12 --type INPAINTED --category OUTER
  closet-tracker review 12 --url https://cdn.example.com/items/12-1.png
  closet-tracker review 12 --reject`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseClothID(args[0])
			if err != nil {
				return err
			}
			if imageType != "" && imageURL != "" {
				return errors.New("--type and --url are mutually exclusive")
			}
			if reject && (imageType != "" || imageURL != "" || acceptDefault) {
				return errors.New("--reject cannot be combined with a selection")
			}

			s, err := openSession(true, withoutSync)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := GetContext()
			w := s.Review()
			out := cmd.OutOrStdout()

			if reject {
				if err := w.Reject(ctx, id); err != nil {
					return describeActionError(err)
				}
				fmt.Fprintf(out, "Rejected cloth #%d\n", id)
				return nil
			}

			r, err := w.Open(ctx, id)
			if err != nil {
				return err
			}

			var req models.ConfirmImageRequest
			switch {
			case acceptDefault:
				cloth, err := w.ConfirmDefault(ctx, id)
				if err != nil {
					return describeActionError(err)
				}
				printConfirmed(out, cloth)
				return nil
			case imageType != "":
				t, err := models.ParseImageType(imageType)
				if err != nil {
					return err
				}
				req.SelectedImageType = t
			case imageURL != "":
				req.SelectedImageURL = imageURL
			default:
				in := bufio.NewReader(cmd.InOrStdin())
				opt, ok, err := chooseOption(in, out, r)
				if err != nil {
					return err
				}
				if !ok {
					cloth, err := w.ConfirmDefault(ctx, id)
					if err != nil {
						return describeActionError(err)
					}
					printConfirmed(out, cloth)
					return nil
				}
				req = opt.Request("")
			}

			req.Category = r.SuggestedCategory
			if category != "" {
				c, err := models.ParseCategory(category)
				if err != nil {
					return err
				}
				req.Category = c
			}

			cloth, err := w.Confirm(ctx, id, req)
			if err != nil {
				return describeActionError(err)
			}
			printConfirmed(out, cloth)
			return nil
		},
	}

	cmd.Flags().StringVar(&imageType, "type", "", "Image to keep: ORIGINAL, REMOVED_BG, SEGMENTED, INPAINTED")
	cmd.Flags().StringVar(&imageURL, "url", "", "Keep an additional detected item by its image URL")
	cmd.Flags().StringVar(&category, "category", "", "Override the suggested category: "+categoryList())
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject the upload and delete the cloth")
	cmd.Flags().BoolVar(&acceptDefault, "default", false, "Keep the segmented image under the suggested category")
	return cmd
}

// chooseOption lists r's options and reads a choice. ok is false when the
// user picked nothing.
func chooseOption(in *bufio.Reader, out io.Writer, r *review.Review) (review.Option, bool, error) {
	fmt.Fprintf(out, "Cloth #%d %s\n", r.ClothID, sanitize.Line(r.Name))
	fmt.Fprintf(out, "Suggested category: %s", r.SuggestedCategory)
	if r.SegmentationLabel != "" {
		fmt.Fprintf(out, " (detected: %s)", r.SegmentationLabel)
	}
	fmt.Fprintln(out)
	if len(r.Options) == 0 {
		return review.Option{}, false, nil
	}
	for i, opt := range r.Options {
		fmt.Fprintf(out, "  %d. %-20s %s\n", i+1, opt.Label, opt.URL)
	}

	for {
		answer, err := promptLine(in, out, fmt.Sprintf("Choose [1-%d, enter for default]: ", len(r.Options)))
		if err != nil {
			return review.Option{}, false, err
		}
		if answer == "" {
			return review.Option{}, false, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(answer))
		if err == nil && n >= 1 && n <= len(r.Options) {
			return r.Options[n-1], true, nil
		}
		fmt.Fprintln(out, "Invalid choice, please try again.")
	}
}

func printConfirmed(w io.Writer, cloth *models.ClothSummary) {
	if cloth == nil {
		return
	}
	fmt.Fprintf(w, "Saved cloth #%d %s to your closet", cloth.ID, cloth.Name)
	if cloth.Category != "" {
		fmt.Fprintf(w, " as %s", cloth.Category)
	}
	fmt.Fprintln(w)
}

func describeActionError(err error) error {
	var actionErr *review.ActionError
	if errors.As(err, &actionErr) && actionErr.Retryable() {
		return fmt.Errorf("%w (the upload is still tracked, try again)", err)
	}
	return err
}
