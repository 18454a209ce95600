// Command awaittree-demo runs a simulated asynchronous workload and dumps
// its await-trees, both periodically to stdout and over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	awaittree "github.com/risingwavelabs/await-tree"
	"github.com/risingwavelabs/await-tree/treehttp"
)

var (
	flagAddr     string
	flagInterval time.Duration
	flagVerbose  bool
	flagWorkers  int
)

func main() {
	cmd := &cobra.Command{
		Use:   "awaittree-demo",
		Short: "Simulate nested asynchronous work and dump its await-trees",
		RunE:  run,
	}
	cmd.Flags().StringVar(&flagAddr, "addr", ":6061", "listen address for the HTTP dump endpoint")
	cmd.Flags().DurationVar(&flagInterval, "interval", 3*time.Second, "period between stdout dumps")
	cmd.Flags().BoolVar(&flagVerbose, "verbose", false, "include verbose spans in dumps")
	cmd.Flags().IntVar(&flagWorkers, "workers", 3, "number of simulated worker tasks")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	registry := awaittree.NewRegistry(awaittree.Config{
		Verbose:       flagVerbose,
		WarnThreshold: 5 * time.Second,
		Logger:        logger,
	})

	ctx := cmd.Context()
	for i := 0; i < flagWorkers; i++ {
		registry.Spawn(ctx, fmt.Sprintf("worker-%d", i),
			awaittree.Spanf("worker %d", i).LongRunning(),
			func(ctx context.Context) error { return worker(ctx, i) })
	}

	go func() {
		logger.Info("serving await-tree dumps",
			zap.String("addr", flagAddr))
		srv := &http.Server{
			Addr:              flagAddr,
			Handler:           treehttp.Handler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("dump server stopped", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(flagInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, task := range registry.Collect() {
				fmt.Printf(">> Task %v\n%s\n", task.Key, task.Tree.Render(flagVerbose))
			}
		}
	}
}

// worker loops forever: each round fans out two batches, joins them, then
// idles on a long-running wait.
func worker(ctx context.Context, id int) error {
	for round := 0; ; round++ {
		err := awaittree.Await(ctx, awaittree.Spanf("round %d", round),
			func(ctx context.Context) error {
				join := make(chan error, 2)
				for b := 0; b < 2; b++ {
					go func() {
						join <- awaittree.Await(ctx, awaittree.Spanf("batch %d", b),
							func(ctx context.Context) error {
								return processBatch(ctx, id, b)
							})
					}()
				}
				for i := 0; i < 2; i++ {
					if err := <-join; err != nil {
						return err
					}
				}
				return nil
			})
		if err != nil {
			return err
		}

		idle := awaittree.NewSpan("idle between rounds").LongRunning()
		err = awaittree.Await(ctx, idle, func(ctx context.Context) error {
			awaittree.Suspend(ctx, func() {
				select {
				case <-time.After(4 * time.Second):
				case <-ctx.Done():
				}
			})
			return ctx.Err()
		})
		if err != nil {
			return err
		}
	}
}

func processBatch(ctx context.Context, worker, batch int) error {
	for i := 0; i < 3; i++ {
		err := awaittree.Await(ctx, awaittree.Spanf("fetch chunk %d", i).Verbose(),
			func(ctx context.Context) error {
				awaittree.Suspend(ctx, func() {
					time.Sleep(time.Duration(200+worker*100+batch*50) * time.Millisecond)
				})
				return nil
			})
		if err != nil {
			return err
		}
	}
	return awaittree.Await(ctx, awaittree.NewSpan("commit"),
		func(context.Context) error {
			time.Sleep(150 * time.Millisecond)
			return nil
		})
}
