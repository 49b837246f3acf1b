package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PeladoCollado/cpuload/loadctl/k8s"
	"github.com/spf13/cobra"
	"k8s.io/client-go/rest"
)

type watchOptions struct {
	Namespace  string
	Deployment string
	Interval   time.Duration
	InCluster  bool
	Kubeconfig string
	Count      int
}

type usageSample struct {
	Time time.Time               `json:"time"`
	Pods map[string]k8s.PodUsage `json:"pods"`
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch --deployment <name>",
		Short: "Poll CPU and memory usage of a deployment's pods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Deployment == "" {
				return errors.New("--deployment is required")
			}
			if opts.Interval <= 0 {
				return errors.New("--interval must be > 0")
			}
			var config *rest.Config
			var err error
			if opts.InCluster {
				config, err = k8s.InitInCluster()
			} else {
				config, err = k8s.InitOffCluster(opts.Kubeconfig)
			}
			if err != nil {
				return fmt.Errorf("load kubernetes config: %w", err)
			}
			client, err := k8s.NewClient(config)
			if err != nil {
				return err
			}
			err = watchUsage(cmd.Context(), client, opts, func(sample usageSample) error {
				return writeJSON(cmd.OutOrStdout(), sample)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&opts.Namespace, "namespace", "default", "namespace of the deployment")
	cmd.Flags().StringVar(&opts.Deployment, "deployment", "", "deployment running the cpuload server")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 5*time.Second, "polling interval")
	cmd.Flags().BoolVar(&opts.InCluster, "in-cluster", false, "use the in-cluster service account")
	cmd.Flags().StringVar(&opts.Kubeconfig, "kubeconfig", "", "kubeconfig path, defaults to ~/.kube/config")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "stop after this many samples, 0 to poll until interrupted")
	return cmd
}

func watchUsage(ctx context.Context, client *k8s.Client, opts watchOptions, emit func(usageSample) error) error {
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for samples := 0; opts.Count <= 0 || samples < opts.Count; samples++ {
		if samples > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		pods, err := client.PodsForDeployment(ctx, opts.Namespace, opts.Deployment)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(pods))
		for _, pod := range pods {
			names = append(names, pod.Name)
		}
		usage, err := client.PodResourceUsage(ctx, opts.Namespace, names)
		if err != nil {
			return err
		}
		if err := emit(usageSample{Time: time.Now().UTC(), Pods: usage}); err != nil {
			return err
		}
	}
	return nil
}
