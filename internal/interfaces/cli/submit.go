package cli

import (
	"github.com/spf13/cobra"

	"github.com/turtacn/MicroNet-Diagnostics/internal/application/diagnosis"
	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// NewSubmitCmd enqueues prediction tasks on the request topic.
func NewSubmitCmd() *cobra.Command {
	opts := &predictOptions{}
	var sessionID, imageID string
	cmd := &cobra.Command{
		Use:     "submit image-ref...",
		Short:   "Queue prediction tasks for the worker",
		Example: `  micronet submit --disease parasites --task segmentation --session s-42 s3://slides/a.png`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			tt, err := opts.taskType()
			if err != nil {
				return err
			}
			if imageID != "" && len(args) > 1 {
				return errors.New(errors.ErrCodeValidation, "--image-id applies to a single image")
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			cfg := cliCtx.Config.Kafka
			producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Brokers}, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer producer.Close()

			submitter, err := diagnosis.NewSubmitter(producer, cfg.RequestTopic)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(args))
			for _, ref := range args {
				task := diagnosis.NewTask(opts.disease, tt, ref, imageID, sessionID)
				if err := submitter.Submit(ctx, task); err != nil {
					return err
				}
				ids = append(ids, task.TaskID)
			}
			return PrintResult(cmd, submittedTasks{Topic: cfg.RequestTopic, TaskIDs: ids})
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringVar(&sessionID, "session", "", "analysis session id carried on the result")
	cmd.Flags().StringVar(&imageID, "image-id", "", "image id (default: the task id)")
	return cmd
}

type submittedTasks struct {
	Topic   string   `json:"topic"`
	TaskIDs []string `json:"task_ids"`
}

func (s submittedTasks) TableHeaders() []string { return []string{"TASK_ID", "TOPIC"} }

func (s submittedTasks) TableRows() [][]string {
	rows := make([][]string, len(s.TaskIDs))
	for i, id := range s.TaskIDs {
		rows[i] = []string{id, s.Topic}
	}
	return rows
}
