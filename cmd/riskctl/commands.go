package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"credit-risk-api/internal/common"
	"credit-risk-api/internal/dataset"
	"credit-risk-api/internal/metrics"
	"credit-risk-api/internal/ml"
	"credit-risk-api/internal/model"
	"credit-risk-api/internal/storage"
	"credit-risk-api/internal/training"
)

func newTrainCommand(a *app) *cobra.Command {
	var datasetURL, modelDir, reportDir string
	var costFN, costFP float64

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Retrain the model, calibrate its threshold and activate the new version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := a.settings
			if datasetURL != "" {
				s.DatasetURL = datasetURL
			}
			if modelDir != "" {
				s.ModelDir = modelDir
			}
			if cmd.Flags().Changed("cost-fn") {
				s.CostFN = costFN
			}
			if cmd.Flags().Changed("cost-fp") {
				s.CostFP = costFP
			}
			cost := s.Costs()
			if err := cost.Validate(); err != nil {
				return err
			}

			reg, err := model.OpenRegistry(s.RegistryPath())
			if err != nil {
				return err
			}
			var store *storage.Store
			if s.DataPath != "" {
				if store, err = storage.New(s.DataPath); err != nil {
					return err
				}
				defer store.Close()
			}

			pipeline := training.NewPipeline(training.Config{
				DatasetURL:   s.DatasetURL,
				ModelDir:     s.ModelDir,
				ReportDir:    reportDir,
				IDColumn:     s.IDColumn,
				LabelColumn:  s.LabelColumn,
				TestFraction: s.TestFraction,
				Seed:         s.Seed,
				Train:        s.TrainOptions(),
				Cost:         cost,
			}, dataset.NewFetcher(s.FetchTimeout), reg, store, metrics.NewWithRegistry(prometheus.NewRegistry()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			res, err := pipeline.Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&datasetURL, "dataset", "", "dataset URL or local path (default from config)")
	cmd.Flags().StringVar(&modelDir, "models-dir", "", "directory for model artifacts (default from config)")
	cmd.Flags().StringVar(&reportDir, "report-dir", "", "write summary, metrics and threshold scan here")
	cmd.Flags().Float64Var(&costFN, "cost-fn", common.DefaultCostFN, "cost of a false negative")
	cmd.Flags().Float64Var(&costFP, "cost-fp", common.DefaultCostFP, "cost of a false positive")
	return cmd
}

func newCalibrateCommand(a *app) *cobra.Command {
	var costFN, costFP float64
	var showScan bool

	cmd := &cobra.Command{
		Use:   "calibrate SCORES.csv",
		Short: "Find the cost-minimising threshold for a CSV of labels and probabilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cost := a.settings.Costs()
			if cmd.Flags().Changed("cost-fn") {
				cost.FalseNegative = costFN
			}
			if cmd.Flags().Changed("cost-fp") {
				cost.FalsePositive = costFP
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			labels, probs, err := training.ReadScores(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			cal, err := training.Calibrate(labels, probs, cost)
			if err != nil {
				return err
			}
			if !showScan {
				cal.Scan = nil
			}
			return printJSON(cmd.OutOrStdout(), cal)
		},
	}
	cmd.Flags().Float64Var(&costFN, "cost-fn", common.DefaultCostFN, "cost of a false negative")
	cmd.Flags().Float64Var(&costFP, "cost-fp", common.DefaultCostFP, "cost of a false positive")
	cmd.Flags().BoolVar(&showScan, "scan", false, "include the cost of every candidate threshold")
	return cmd
}

func newScoreCommand(a *app) *cobra.Command {
	var modelPath string

	cmd := &cobra.Command{
		Use:   "score CLIENTS.csv",
		Short: "Score a CSV of clients offline with the serving model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.settings
			mc, loaded, err := loadModel(s.ModelDir, s.RegistryPath(), modelPath, s.LoadOptions(), s.ContextOptions(nil))
			if err != nil {
				return err
			}
			defer loaded.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			frame, err := dataset.ParseCSV(f, mc.IDColumn(), s.LabelColumn)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			scored, err := mc.Score(frame.Rows())
			if err != nil {
				return err
			}
			return writeScores(cmd.OutOrStdout(), scored)
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "", "artifact to use instead of the active version")
	return cmd
}

// loadModel builds a context from an explicit artifact, or resolves the
// serving one the way the API does.
func loadModel(dir, registryPath, path string, opts model.LoadOptions, ctxOpts ml.ContextOptions) (*ml.ModelContext, *model.Loaded, error) {
	if path == "" {
		reg, err := model.OpenRegistry(registryPath)
		if err != nil {
			return nil, nil, err
		}
		if path, err = model.Resolve(dir, reg); err != nil {
			return nil, nil, err
		}
	}
	loaded, err := model.Load(path, opts)
	if err != nil {
		return nil, nil, err
	}
	mc, err := ml.NewModelContext(loaded.Classifier, loaded.Explainer, loaded.Threshold, loaded.Info, ctxOpts)
	if err != nil {
		loaded.Close()
		return nil, nil, err
	}
	return mc, loaded, nil
}

func writeScores(w io.Writer, scored []ml.ScoredRow) error {
	out := csv.NewWriter(w)
	if err := out.Write([]string{"client_id", "probability", "decision"}); err != nil {
		return err
	}
	for _, sr := range scored {
		record := []string{
			sr.ClientID,
			decimal.NewFromFloat(sr.Probability).StringFixed(4),
			strconv.Itoa(sr.Decision),
		}
		if err := out.Write(record); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

func newRunsCommand(a *app) *cobra.Command {
	var experiment string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List tracked training runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := storage.New(a.settings.DataPath)
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.ListRuns(experiment)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tVERSION\tAUC\tBUSINESS SCORE\tFINISHED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.4f\t%.0f\t%s\n",
					r.ID, r.Name, r.Status, r.ModelVersion,
					r.Metrics[ml.MetricAUC], r.Metrics[ml.MetricBusinessScore],
					r.FinishedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&experiment, "experiment", common.ExperimentName, "experiment name")
	return cmd
}

func newVersionsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List registered model versions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := model.OpenRegistry(a.settings.RegistryPath())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tKIND\tACTIVE\tTHRESHOLD\tPATH")
			for _, v := range reg.List() {
				active := ""
				if v.IsActive {
					active = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n", v.Version, v.Kind, active, v.Params[ml.ParamThreshold], filepath.Base(v.Path))
			}
			return tw.Flush()
		},
	}
}

func newRollbackCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Activate the version registered before the active one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := model.OpenRegistry(a.settings.RegistryPath())
			if err != nil {
				return err
			}
			v, err := reg.Rollback()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "active version: %s (restart the API to serve it)\n", v.Version)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
