package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/MicroNet-Diagnostics/internal/application/diagnosis"
	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/micronet"
)

// NewModelsCmd groups registry inspection and warm-up.
func NewModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and preload model configurations",
	}
	cmd.AddCommand(newModelsListCmd(), newModelsWarmCmd())
	return cmd
}

func newModelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configuration registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			registry, err := loadRegistry(cliCtx.Config, cliCtx.Logger)
			if err != nil {
				return err
			}
			return PrintResult(cmd, listRegistry(registry))
		},
	}
}

type modelEntry struct {
	Key    string               `json:"key"`
	Config micronet.ModelConfig `json:"config"`
}

type modelList []modelEntry

func listRegistry(r *micronet.Registry) modelList {
	keys := r.Keys()
	out := make(modelList, 0, len(keys))
	for _, key := range keys {
		i := strings.LastIndex(key, "_")
		if i <= 0 {
			continue
		}
		cfg, err := r.Lookup(key[:i], key[i+1:])
		if err != nil {
			continue
		}
		out = append(out, modelEntry{Key: key, Config: cfg})
	}
	return out
}

func (modelList) TableHeaders() []string {
	return []string{"KEY", "ENCODER", "CLASSES", "THRESHOLD", "VERSION"}
}

func (l modelList) TableRows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		rows = append(rows, []string{
			e.Key,
			e.Config.Encoder,
			strings.Join(e.Config.ClassNames, ","),
			strconv.FormatFloat(e.Config.ConfidenceThreshold, 'f', 2, 64),
			e.Config.Version,
		})
	}
	return rows
}

func (l modelList) String() string {
	return FormatTable(l.TableHeaders(), l.TableRows())
}

func newModelsWarmCmd() *cobra.Command {
	opts := &predictOptions{}
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Load a model ahead of the first prediction",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			tt, err := opts.taskType()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			s, err := newStack(ctx, cliCtx.Config, nil, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer s.Close()

			start := time.Now()
			handle, err := s.engine.Warm(ctx, diagnosis.NormalizeDisease(opts.disease, tt), string(tt))
			if err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("%s model ready: encoder=%s tier=%s in %s",
				tt, handle.Encoder, handle.Tier, time.Since(start).Round(time.Millisecond)))
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}
