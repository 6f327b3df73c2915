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
	"time"

	"github.com/evrone/kcl-instance-controller/internal/kcl"
	"github.com/evrone/kcl-instance-controller/pkg/cloud"
)

type options struct {
	metricsAddr             string
	healthAddr              string
	insecureSkipTLSVerify   bool
	maxConcurrentReconciles int
	httpRetryMax            int
	storageDir              string
	sourceHost              string
	defaultRegistry         string
	registryUsername        string
	registryPassword        string
	registryProvider        cloud.Provider
	defaultInterval         time.Duration
	compilerFactory         func(kcl.CompileOptions) kcl.CompileFunc
}

func defaultOptions() options {
	return options{
		metricsAddr:             ":8080",
		healthAddr:              ":8081",
		maxConcurrentReconciles: 4,
		httpRetryMax:            1,
		defaultInterval:         10 * time.Second,
	}
}

// Option configures Setup.
type Option func(*options)

// MetricsAddr sets the bind address for the controller-runtime metrics endpoint.
func MetricsAddr(addr string) Option {
	return func(o *options) { o.metricsAddr = addr }
}

// HealthAddr sets the bind address for the controller-runtime healthz endpoint.
func HealthAddr(addr string) Option {
	return func(o *options) { o.healthAddr = addr }
}

// InsecureSkipTLSverify disables TLS verification against the API server,
// used by tests running against an envtest control plane.
func InsecureSkipTLSverify(insecure bool) Option {
	return func(o *options) { o.insecureSkipTLSVerify = insecure }
}

// MaxConcurrentReconciles bounds how many KclInstances are reconciled in
// parallel by the controller-runtime work-queue.
func MaxConcurrentReconciles(n int) Option {
	return func(o *options) { o.maxConcurrentReconciles = n }
}

// HTTPRetryMax sets the maximum number of retries the artifact download
// client performs (KCL_HTTP_RETRY).
func HTTPRetryMax(n int) Option {
	return func(o *options) { o.httpRetryMax = n }
}

// StorageDir sets the artifact cache root (KCL_STORAGE_DIR).
func StorageDir(dir string) Option {
	return func(o *options) { o.storageDir = dir }
}

// SourceHost overrides the scheme+authority of artifact URLs (SOURCE_HOST).
func SourceHost(host string) Option {
	return func(o *options) { o.sourceHost = host }
}

// DefaultRegistry sets the OCI registry version-only KCL dependencies
// resolve against (KCL_SRC_URL).
func DefaultRegistry(registry string) Option {
	return func(o *options) { o.defaultRegistry = registry }
}

// RegistryCredentials sets static OCI basic-auth credentials
// (KCL_SRC_USERNAME/KCL_SRC_PASSWORD) and, when static credentials are
// empty, the cloud workload identity provider consulted instead.
func RegistryCredentials(username, password string, provider cloud.Provider) Option {
	return func(o *options) {
		o.registryUsername = username
		o.registryPassword = password
		o.registryProvider = provider
	}
}

// DefaultInterval sets the requeue interval used when a KclInstance's
// spec.interval is missing or invalid.
func DefaultInterval(d time.Duration) Option {
	return func(o *options) { o.defaultInterval = d }
}

// CompilerFactory overrides how the per-instance KCL compiler is built.
// Tests substitute the kcl binary with a fixed-output compile function.
func CompilerFactory(f func(kcl.CompileOptions) kcl.CompileFunc) Option {
	return func(o *options) { o.compilerFactory = f }
}
