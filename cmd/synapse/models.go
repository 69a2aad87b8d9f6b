package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/banshee-data/synapse/internal/regressor"
	"github.com/banshee-data/synapse/internal/session"
)

var trainKind string

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Retrain a regressor from every stored calibration trial",
		Args:  cobra.NoArgs,
		RunE:  runTrain,
	}
	cmd.Flags().StringVar(&trainKind, "kind", string(session.KindConfusion), "regressor to train: confusion or difficulty")
	return cmd
}

func runTrain(cmd *cobra.Command, _ []string) error {
	kind, err := session.ParseKind(trainKind)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.Retrain(cmd.Context(), kind)
	if err != nil {
		return fmt.Errorf("train %s: %w", kind, err)
	}
	m := res.Metrics
	fmt.Fprintf(cmd.OutOrStdout(), "trained %s v%d on %d of %d trials (%d skipped)\n",
		kind, res.Version, res.Used, res.Trials, res.Skipped)
	fmt.Fprintf(cmd.OutOrStdout(), "train R2 %s  test R2 %s  test MAE %s  CV R2 %s ± %s\n",
		m.TrainR2, m.TestR2, m.TestMAE, m.CVR2Mean, m.CVR2Std)
	return nil
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List stored model versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, kind := range []session.Kind{session.KindConfusion, session.KindDifficulty} {
				reg := a.svc.Regressor(kind)
				rows, err := reg.List()
				if err != nil {
					return err
				}
				info := reg.Info()
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d features, %s)\n", kind, info.Schema.Len(), info.Mode)
				writeModelTable(cmd.OutOrStdout(), rows)
			}
			return nil
		},
	}
}

// writeModelTable renders one row per stored artifact; the active version
// is starred.
func writeModelTable(w io.Writer, rows []regressor.Summary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Version", "Active", "Trained", "Samples", "Test R2", "Test MAE", "CV R2", "Error"})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	for _, r := range rows {
		active := ""
		if r.Active {
			active = "*"
		}
		table.Append([]string{
			strconv.Itoa(r.Version),
			active,
			r.TrainedAt,
			strconv.Itoa(r.Samples),
			r.TestR2.String(),
			r.TestMAE.String(),
			r.CVR2Mean.String(),
			r.Error,
		})
	}
	table.Render()
}
