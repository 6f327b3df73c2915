// Copyright 2025 Evrone
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/evrone/kcl-instance-controller/internal/controller"
	"github.com/evrone/kcl-instance-controller/internal/crd"
	"github.com/evrone/kcl-instance-controller/pkg/cloud"
)

func main() {
	root := RootCommandBuilder{}
	if err := root.Build().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type RootCommandBuilder struct {
	runCommandBuilder RunCommandBuilder
	crdCommandBuilder CrdCommandBuilder
}

func (builder RootCommandBuilder) Build() *cobra.Command {
	rootCmd := cobra.Command{
		Use:   "kcl-instance-controller",
		Short: "A Kubernetes controller reconciling KclInstances into cluster objects",
	}
	rootCmd.AddCommand(builder.runCommandBuilder.Build())
	rootCmd.AddCommand(builder.crdCommandBuilder.Build())
	return &rootCmd
}

type CrdCommandBuilder struct{}

func (builder CrdCommandBuilder) Build() *cobra.Command {
	return &cobra.Command{
		Use:   "crd",
		Short: "Print the KclInstance CRD schema YAML",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			_, err := cobraCmd.OutOrStdout().Write(crd.YAML())
			return err
		},
	}
}

type RunCommandBuilder struct{}

func (builder RunCommandBuilder) Build() *cobra.Command {
	var logLevel string
	var metricsAddr string
	var healthAddr string
	var storageDir string
	var sourceHost string
	var httpRetry int
	var maxConcurrentReconciles int
	var defaultInterval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the controller loop",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			logger, err := initLogger(envOrFlag(logLevel, "LOG_LEVEL"))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			ctrl.SetLogger(zapr.NewLogger(logger))

			ctx, stop := signal.NotifyContext(
				cobraCmd.Context(),
				syscall.SIGINT,
				syscall.SIGTERM,
			)
			defer stop()

			kubeConfig, err := ctrl.GetConfig()
			if err != nil {
				return err
			}

			opts := []controller.Option{
				controller.MaxConcurrentReconciles(maxConcurrentReconciles),
				controller.HTTPRetryMax(envIntOrFlag(httpRetry, cobraCmd.Flags().Changed("http-retry"), "KCL_HTTP_RETRY")),
				controller.StorageDir(envOrFlag(storageDir, "KCL_STORAGE_DIR")),
				controller.SourceHost(envOrFlag(sourceHost, "SOURCE_HOST")),
				controller.DefaultRegistry(os.Getenv("KCL_SRC_URL")),
				controller.RegistryCredentials(
					os.Getenv("KCL_SRC_USERNAME"),
					os.Getenv("KCL_SRC_PASSWORD"),
					cloud.Provider(os.Getenv("KCL_SRC_PROVIDER")),
				),
				controller.DefaultInterval(defaultInterval),
			}
			if addr := envOrFlag(metricsAddr, "METRICS_ADDR"); addr != "" {
				opts = append(opts, controller.MetricsAddr(addr))
			}
			if addr := envOrFlag(healthAddr, "HEALTH_ADDR"); addr != "" {
				opts = append(opts, controller.HealthAddr(addr))
			}

			mgr, err := controller.Setup(kubeConfig, opts...)
			if err != nil {
				return err
			}

			return mgr.Start(ctx)
		},
	}

	cmd.Flags().
		StringVar(&logLevel, "log-level", "", "Log level, one of debug, info, warn, error")
	cmd.Flags().
		StringVar(&metricsAddr, "metrics-addr", "", "Bind address for the metrics endpoint")
	cmd.Flags().
		StringVar(&healthAddr, "health-addr", "", "Bind address for the health probe endpoint")
	cmd.Flags().
		StringVar(&storageDir, "storage-dir", "", "Artifact cache root directory")
	cmd.Flags().
		StringVar(&sourceHost, "source-host", "", "Host override for artifact URLs")
	cmd.Flags().
		IntVar(&httpRetry, "http-retry", 1, "Maximum artifact download retries")
	cmd.Flags().
		IntVar(&maxConcurrentReconciles, "max-concurrent-reconciles", 4, "Number of KclInstances reconciled in parallel")
	cmd.Flags().
		DurationVar(&defaultInterval, "default-interval", 10*time.Second, "Requeue interval used when spec.interval is missing or invalid")

	return cmd
}

// envOrFlag prefers the flag value and falls back to the environment
// variable when the flag was left at its zero value.
func envOrFlag(flagValue, envKey string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(envKey)
}

func envIntOrFlag(flagValue int, flagChanged bool, envKey string) int {
	if flagChanged {
		return flagValue
	}
	if raw, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return flagValue
}

func initLogger(level string) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stdout"}
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zapConfig.Level = zap.NewAtomicLevelAt(parsed)
	}
	return zapConfig.Build()
}
