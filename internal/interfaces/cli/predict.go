package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/MicroNet-Diagnostics/internal/application/diagnosis"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
	types "github.com/turtacn/MicroNet-Diagnostics/pkg/types/diagnosis"
)

type predictOptions struct {
	disease     string
	task        string
	image       string
	concurrency int
}

func (o *predictOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.disease, "disease", "d", "malaria", "disease type (malaria, parasite, general, ...)")
	f.StringVarP(&o.task, "task", "t", string(types.TaskClassification), "task type (classification, segmentation)")
}

func (o *predictOptions) taskType() (types.TaskType, error) {
	tt, err := types.ParseTaskType(o.task)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeValidation, "invalid --task")
	}
	return tt, nil
}

// NewPredictCmd runs one prediction.
func NewPredictCmd() *cobra.Command {
	opts := &predictOptions{}
	cmd := &cobra.Command{
		Use:   "predict [image]",
		Short: "Classify or segment one slide image",
		Example: `  micronet predict --disease malaria --task segmentation --image slide.png
  micronet predict -d parasite s3://slides/2024/a.png -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.image = args[0]
			}
			if opts.image == "" {
				return errors.New(errors.ErrCodeValidation, "an image is required")
			}
			results, err := runPredictions(cmd, opts, []string{opts.image})
			if err != nil {
				return err
			}
			return PrintResult(cmd, results[0])
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringVarP(&opts.image, "image", "i", "", "image path or s3:// / azblob:// reference")
	return cmd
}

// NewBatchCmd runs predictions for several images concurrently.
func NewBatchCmd() *cobra.Command {
	opts := &predictOptions{}
	cmd := &cobra.Command{
		Use:     "batch image...",
		Short:   "Run one disease/task over many images",
		Example: `  micronet batch --disease malaria --task classification --concurrency 4 slides/*.png`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.concurrency < 1 {
				return errors.Newf(errors.ErrCodeValidation, "--concurrency must be >= 1, got %d", opts.concurrency)
			}
			results, err := runPredictions(cmd, opts, args)
			if err != nil {
				return err
			}
			return PrintResult(cmd, batchView(results))
		},
	}
	opts.bind(cmd)
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 4, "images processed in parallel")
	return cmd
}

func runPredictions(cmd *cobra.Command, opts *predictOptions, images []string) ([]predictionView, error) {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return nil, err
	}
	tt, err := opts.taskType()
	if err != nil {
		return nil, err
	}
	ctx, cancel := commandContext(cmd, cliCtx)
	defer cancel()

	s, err := newStack(ctx, cliCtx.Config, nil, cliCtx.Logger)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	resolver := s.imageResolver(ctx)
	disease := diagnosis.NormalizeDisease(opts.disease, tt)

	results := make([]predictionView, len(images))
	g, gctx := errgroup.WithContext(ctx)
	limit := opts.concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, ref := range images {
		i, ref := i, ref
		g.Go(func() error {
			img, err := resolver.Resolve(gctx, ref)
			if err != nil {
				cliCtx.Logger.Warn("image skipped", logging.String(logging.FieldImageRef, ref), logging.Err(err))
				results[i] = predictionView{Image: ref, Result: types.ErrorResult(err)}
				return nil
			}
			results[i] = predictionView{Image: ref, Result: s.engine.Predict(gctx, disease, img, string(tt))}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// predictionView pairs a result with the image it came from.
type predictionView struct {
	Image  string                  `json:"image"`
	Result *types.PredictionResult `json:"result"`
}

func (v predictionView) String() string {
	r := v.Result
	var sb strings.Builder
	fmt.Fprintf(&sb, "image:       %s\n", v.Image)
	fmt.Fprintf(&sb, "prediction:  %s\n", r.Prediction)
	fmt.Fprintf(&sb, "confidence:  %.3f (%s)\n", r.Confidence, types.LevelFor(r.Confidence))
	if r.Error != "" {
		fmt.Fprintf(&sb, "error:       %s\n", r.Error)
	}
	if r.Encoder != "" {
		fmt.Fprintf(&sb, "model:       %s v%s\n", r.Encoder, r.ModelVersion)
	}
	if len(r.DetectionRegions) > 0 {
		fmt.Fprintf(&sb, "regions:     %d\n", len(r.DetectionRegions))
	}
	if r.AbnormalAreaPercentage != nil {
		fmt.Fprintf(&sb, "abnormal:    %.2f%%\n", *r.AbnormalAreaPercentage)
	}
	for _, name := range sortedKeys(r.AllProbabilities) {
		fmt.Fprintf(&sb, "  %-16s %.4f\n", name, r.AllProbabilities[name])
	}
	for _, name := range sortedKeys(r.ClassPercentages) {
		fmt.Fprintf(&sb, "  %-16s %.2f%%\n", name, r.ClassPercentages[name])
	}
	fmt.Fprintf(&sb, "time:        %.3fs", r.ProcessingTime)
	return sb.String()
}

func (v predictionView) TableHeaders() []string { return batchView{v}.TableHeaders() }

func (v predictionView) TableRows() [][]string { return batchView{v}.TableRows() }

type batchView []predictionView

func (b batchView) String() string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = v.String()
	}
	return strings.Join(parts, "\n\n")
}

func (batchView) TableHeaders() []string {
	return []string{"IMAGE", "PREDICTION", "CONFIDENCE", "LEVEL", "REGIONS", "TIME"}
}

func (b batchView) TableRows() [][]string {
	rows := make([][]string, 0, len(b))
	for _, v := range b {
		r := v.Result
		rows = append(rows, []string{
			v.Image,
			r.Prediction,
			strconv.FormatFloat(r.Confidence, 'f', 3, 64),
			string(types.LevelFor(r.Confidence)),
			strconv.Itoa(len(r.DetectionRegions)),
			strconv.FormatFloat(r.ProcessingTime, 'f', 3, 64),
		})
	}
	return rows
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
