package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-foundations/jobqueue"
	"github.com/go-foundations/jobqueue/config"
	"github.com/go-foundations/jobqueue/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	queueName string
	redisAddr string

	rootCmd = &cobra.Command{
		Use:   "jobqueue",
		Short: "Operate a job queue backed by Redis",
		Long:  `jobqueue inspects and nudges the waiting/active/delayed/failed lists of a queue without going through a worker.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&queueName, "queue", "", "queue name (overrides config)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", "", "redis address (overrides config)")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(changePriorityCmd)
}

func loadQueue() (*queue.Queue, config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, cfg, err
	}
	if queueName != "" {
		cfg.QueueName = queueName
	}
	if redisAddr != "" {
		cfg.RedisAddr = redisAddr
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	backend := store.NewRedisStore(client)

	logger := queue.NewLogger(queue.LogConfig{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	q := queue.New(cfg.QueueName, backend, queue.Config{
		LockDurationMs: cfg.DefaultLockDurationMs,
		KeepJobs:       queue.KeepJobs{Age: cfg.DefaultKeepJobsAge, Count: cfg.DefaultKeepJobsCount},
		MaxLenEvents:   cfg.DefaultMaxLenEvents,
		Limiter:        queue.Limiter{Max: cfg.DefaultLimiterMax, Duration: cfg.DefaultLimiterDuration},
		Logger:         &logger,
	})
	return q, cfg, nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the queue's next delayed fire time",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, cfg, err := loadQueue()
		if err != nil {
			return err
		}
		ts, ok, err := q.NextDelayedTimestamp(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("queue: %s\n", cfg.QueueName)
		if !ok {
			fmt.Println("next delayed fire time: none")
			return nil
		}
		fmt.Printf("next delayed fire time: %d (unix ms)\n", ts)
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the queue (future jobs route to the paused list)",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, _, err := loadQueue()
		if err != nil {
			return err
		}
		if err := q.Pause(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("paused")
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, _, err := loadQueue()
		if err != nil {
			return err
		}
		if err := q.Resume(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("resumed")
		return nil
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote JOB_ID",
	Short: "Move a delayed job straight into waiting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, _, err := loadQueue()
		if err != nil {
			return err
		}
		if err := q.Promote(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("promoted %s\n", args[0])
		return nil
	},
}

var retryMode string

var retryCmd = &cobra.Command{
	Use:   "retry JOB_ID",
	Short: "Requeue a failed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, _, err := loadQueue()
		if err != nil {
			return err
		}
		mode := queue.PushFIFO
		if strings.EqualFold(retryMode, "lifo") {
			mode = queue.PushLIFO
		}
		if err := q.Retry(cmd.Context(), args[0], "0", mode); err != nil {
			return err
		}
		fmt.Printf("retried %s\n", args[0])
		return nil
	},
}

func init() {
	retryCmd.Flags().StringVar(&retryMode, "mode", "fifo", "push mode when requeuing: fifo or lifo")
}

var changePriorityCmd = &cobra.Command{
	Use:   "change-priority JOB_ID PRIORITY",
	Short: "Change a waiting or prioritized job's priority",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, _, err := loadQueue()
		if err != nil {
			return err
		}
		priority, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid priority %q: %w", args[1], err)
		}
		if err := q.ChangePriority(cmd.Context(), args[0], priority, false); err != nil {
			return err
		}
		fmt.Printf("changed priority of %s to %d\n", args[0], priority)
		return nil
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
