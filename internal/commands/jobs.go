package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-books/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-books/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers against the queue's Redis.
func NewJobsCLI(redis cache.Options) (*JobsCLI, error) {
	if redis.Addr == "" {
		return nil, errors.New("jobs cli: REDIS_ADDR not set")
	}
	opt := redis.Asynq()
	return &JobsCLI{client: asynq.NewClient(opt), inspector: asynq.NewInspector(opt)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// BuildTask prepares a supported job by name.
func BuildTask(name string, orgIDs []int64) (*asynq.Task, error) {
	switch name {
	case jobs.TaskGLIntegrity, "gl_integrity":
		return jobs.NewGLIntegrityTask(orgIDs...)
	case jobs.TaskCOASync, "coa_sync":
		return jobs.NewCOASyncTask(orgIDs...)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string, orgIDs []int64) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := BuildTask(name, orgIDs)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

func newJobsCommand(env Env) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}

	var orgIDs []int64
	triggerCmd := &cobra.Command{
		Use:   "trigger <gl_integrity|coa_sync>",
		Short: "Enqueue a job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := BuildTask(args[0], orgIDs); err != nil {
				return err
			}
			return withJobs(env, func(c *JobsCLI) error {
				info, err := c.Trigger(cmd.Context(), args[0], orgIDs)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s\n", info.Type, info.ID)
				return nil
			})
		},
	}
	triggerCmd.Flags().Int64SliceVar(&orgIDs, "org", nil, "limit the job to these organizations")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(env, func(c *JobsCLI) error {
				stats, err := c.InspectQueue()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}

	jobsCmd.AddCommand(triggerCmd, statsCmd)
	return jobsCmd
}

func withJobs(env Env, fn func(*JobsCLI) error) error {
	if env.Jobs == nil {
		return errors.New("jobs cli: not configured")
	}
	c, err := env.Jobs()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(c)
}
