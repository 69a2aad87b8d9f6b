package main

import (
	"fmt"
	"image/color"
	"path/filepath"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/synapse/internal/db"
	"github.com/banshee-data/synapse/internal/security"
	"github.com/banshee-data/synapse/internal/session"
)

var (
	reportSession string
	reportOut     string
)

var (
	finalColor     = color.RGBA{R: 0x33, G: 0x66, B: 0xcc, A: 0xff}
	predictedColor = color.RGBA{R: 0xdc, G: 0x39, B: 0x12, A: 0xff}
	ratingColor    = color.RGBA{R: 0x10, G: 0x96, B: 0x18, A: 0xff}
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Plot review confusion scores to an image file",
		Args:  cobra.NoArgs,
		RunE:  runReport,
	}
	cmd.Flags().StringVar(&reportSession, "session", "", "learning session id (default: every review)")
	cmd.Flags().StringVarP(&reportOut, "output", "o", "", "output file; .png, .svg or .pdf (default: confusion_<session>.png)")
	return cmd
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := reportOut
	if out == "" {
		stem := "all"
		if reportSession != "" {
			stem = security.SanitizeFilename(reportSession)
		}
		out = fmt.Sprintf("confusion_%s.png", stem)
	}
	path, err := security.ValidateOutputPath(out)
	if err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}

	store, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	reviews, err := store.ListReviews(cmd.Context(), reportSession)
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		return fmt.Errorf("no reviews recorded for session %q", reportSession)
	}
	if err := writeConfusionPlot(path, reportSession, reviews); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d reviews to %s\n", len(reviews), path)
	return nil
}

// writeConfusionPlot draws the final score per review as a line and the
// EEG predictions and user ratings as scatter points. The image format
// follows the file extension.
func writeConfusionPlot(path, sessionID string, reviews []session.Review) error {
	var final, predicted, rated plotter.XYs
	scores := make([]float64, 0, len(reviews))
	for i, r := range reviews {
		x := float64(i + 1)
		final = append(final, plotter.XY{X: x, Y: r.Score})
		scores = append(scores, r.Score)
		if r.Predicted != nil {
			predicted = append(predicted, plotter.XY{X: x, Y: *r.Predicted})
		}
		if r.UserRating != nil {
			rated = append(rated, plotter.XY{X: x, Y: *r.UserRating})
		}
	}

	p := plot.New()
	p.Title.Text = "Confusion over reviews"
	if sessionID != "" {
		p.Title.Text += " - " + sessionID
	}
	p.X.Label.Text = fmt.Sprintf("Review (trend %+.3f per review)", session.Trend(scores))
	p.Y.Label.Text = "Confusion"
	p.Y.Min, p.Y.Max = 1, 10

	line, err := plotter.NewLine(final)
	if err != nil {
		return err
	}
	line.Color = finalColor
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("final", line)

	for _, s := range []struct {
		name  string
		pts   plotter.XYs
		color color.Color
		shape draw.GlyphDrawer
	}{
		{"eeg prediction", predicted, predictedColor, draw.CircleGlyph{}},
		{"user rating", rated, ratingColor, draw.TriangleGlyph{}},
	} {
		if len(s.pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(s.pts)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = s.color
		sc.GlyphStyle.Shape = s.shape
		sc.GlyphStyle.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add(s.name, sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if filepath.Ext(path) == "" {
		path += ".png"
	}
	return p.Save(10*vg.Inch, 5*vg.Inch, path)
}
