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

package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	goRuntime "runtime"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	kclv1alpha1 "github.com/evrone/kcl-instance-controller/api/v1alpha1"
	"github.com/evrone/kcl-instance-controller/internal/apply"
	"github.com/evrone/kcl-instance-controller/internal/fetch"
	"github.com/evrone/kcl-instance-controller/internal/gc"
	"github.com/evrone/kcl-instance-controller/internal/kcl"
	"github.com/evrone/kcl-instance-controller/internal/source"
	"github.com/evrone/kcl-instance-controller/pkg/cloud"
	"github.com/evrone/kcl-instance-controller/pkg/kube"
	"github.com/evrone/kcl-instance-controller/pkg/oci"
)

// DefaultStorageDir returns the artifact cache root used when
// KCL_STORAGE_DIR is not configured.
func DefaultStorageDir() string {
	return filepath.Join(os.TempDir(), "kcl-instance-operator", "instance.kcl.evrone.com")
}

// Setup builds a controller-runtime manager with the KclInstance reconciler
// and its collaborators wired in. Start the returned manager to run the
// controller loop.
func Setup(cfg *rest.Config, opts ...Option) (manager.Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.insecureSkipTLSVerify {
		cfg = rest.CopyConfig(cfg)
		cfg.TLSClientConfig.Insecure = true
		cfg.TLSClientConfig.CAFile = ""
		cfg.TLSClientConfig.CAData = nil
	}

	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	if err := kclv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	mgr, err := ctrl.NewManager(cfg, ctrl.Options{
		Scheme: scheme,
		Metrics: server.Options{
			BindAddress: o.metricsAddr,
		},
		HealthProbeBindAddress: o.healthAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	dynamicClient, err := kube.NewDynamicClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = o.httpRetryMax
	httpClient.Logger = nil

	storageDir := o.storageDir
	if storageDir == "" {
		storageDir = DefaultStorageDir()
	}

	static := cloud.Static{
		Username: o.registryUsername,
		Password: o.registryPassword,
	}
	provider := o.registryProvider

	ociPull := func(ctx context.Context, repository, tag, destDir string) error {
		repo, err := oci.NewRepositoryClient(repository)
		if err != nil {
			return err
		}
		creds, err := cloud.ReadCredentials(ctx, repository, static, provider)
		if err != nil {
			return err
		}
		var pullOpts []oci.Option
		if creds != nil {
			pullOpts = append(pullOpts, oci.WithBasicAuth(creds.Username, creds.Password))
		}
		return oci.PullAndExtract(ctx, repo, tag, destDir, pullOpts...)
	}

	compilerFactory := o.compilerFactory
	if compilerFactory == nil {
		compilerFactory = func(compileOpts kcl.CompileOptions) kcl.CompileFunc {
			return (&kcl.ExecCompiler{Options: compileOpts}).Compile
		}
	}

	reconciler := &KclInstanceReconciler{
		Client:        mgr.GetClient(),
		EventRecorder: mgr.GetEventRecorderFor(kclv1alpha1.FieldManager),
		Resolver: &source.Resolver{
			Client: mgr.GetClient(),
		},
		Fetcher: &fetch.Fetcher{
			HTTPClient:   httpClient,
			StorageDir:   storageDir,
			HostOverride: o.sourceHost,
		},
		NewRunner: func(compileOpts kcl.CompileOptions) *kcl.Runner {
			return &kcl.Runner{
				VendorDir:       filepath.Join(storageDir, "vendor"),
				DefaultRegistry: o.defaultRegistry,
				Oci:             ociPull,
				Git:             kcl.ShallowClone,
				Compile:         compilerFactory(compileOpts),
			}
		},
		Applier: &apply.Applier{
			Client:       dynamicClient,
			FieldManager: kclv1alpha1.FieldManager,
		},
		Collector: &gc.Collector{
			Log:            mgr.GetLogger().WithName("gc"),
			Client:         dynamicClient,
			WorkerPoolSize: goRuntime.GOMAXPROCS(0),
		},
		DefaultInterval: o.defaultInterval,
	}

	if err := reconciler.SetupWithManager(mgr, o.maxConcurrentReconciles); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	if o.healthAddr != "" {
		if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
			return nil, fmt.Errorf("setup: %w", err)
		}
		if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	return mgr, nil
}
