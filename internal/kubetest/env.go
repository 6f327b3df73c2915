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

// Package kubetest boots an envtest control plane with the KclInstance CRD
// and stub Flux source CRDs installed, for controller-level tests.
package kubetest

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/envtest"

	kclv1alpha1 "github.com/evrone/kcl-instance-controller/api/v1alpha1"
	"github.com/evrone/kcl-instance-controller/internal/crd"
	"github.com/evrone/kcl-instance-controller/pkg/kube"
)

// Environment bundles a running envtest control plane with the clients the
// controller tests reconcile through.
type Environment struct {
	ControlPlane          *envtest.Environment
	TestKubeClient        client.Client
	DynamicTestKubeClient *kube.DynamicClient
	Scheme                *runtime.Scheme
	Ctx                   context.Context

	clean func()
}

func (env *Environment) Stop() {
	env.clean()
}

// StartKubetestEnv starts an envtest API server with the KclInstance CRD and
// the stub GitRepository/OCIRepository CRDs installed.
func StartKubetestEnv(t testing.TB) *Environment {
	kclInstanceCRD, err := crd.KclInstance()
	assert.NilError(t, err)

	testEnv := &envtest.Environment{
		CRDs: []*apiextensionsv1.CustomResourceDefinition{
			kclInstanceCRD,
			sourceCRD("GitRepository", "gitrepositories", "gitrepository", "v1"),
			sourceCRD("OCIRepository", "ocirepositories", "ocirepository", "v1beta2"),
		},
		ErrorIfCRDPathMissing: false,
	}

	cfg, err := testEnv.Start()
	assert.NilError(t, err)

	scheme := runtime.NewScheme()
	err = clientgoscheme.AddToScheme(scheme)
	assert.NilError(t, err)
	err = kclv1alpha1.AddToScheme(scheme)
	assert.NilError(t, err)

	testClient, err := client.New(cfg, client.Options{Scheme: scheme})
	assert.NilError(t, err)

	dynamicClient, err := kube.NewDynamicClient(cfg)
	assert.NilError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	return &Environment{
		ControlPlane:          testEnv,
		TestKubeClient:        testClient,
		DynamicTestKubeClient: dynamicClient,
		Scheme:                scheme,
		Ctx:                   ctx,
		clean: func() {
			cancel()
			_ = testEnv.Stop()
		},
	}
}

// sourceCRD builds a schema-free stand-in for a Flux source CRD, enough for
// tests to create repositories and write status.artifact by hand.
func sourceCRD(kind, plural, singular, version string) *apiextensionsv1.CustomResourceDefinition {
	preserveUnknown := true
	return &apiextensionsv1.CustomResourceDefinition{
		ObjectMeta: metav1.ObjectMeta{
			Name: plural + ".source.toolkit.fluxcd.io",
		},
		Spec: apiextensionsv1.CustomResourceDefinitionSpec{
			Group: "source.toolkit.fluxcd.io",
			Names: apiextensionsv1.CustomResourceDefinitionNames{
				Kind:     kind,
				ListKind: kind + "List",
				Plural:   plural,
				Singular: singular,
			},
			Scope: apiextensionsv1.NamespaceScoped,
			Versions: []apiextensionsv1.CustomResourceDefinitionVersion{
				{
					Name:    version,
					Served:  true,
					Storage: true,
					Subresources: &apiextensionsv1.CustomResourceSubresources{
						Status: &apiextensionsv1.CustomResourceSubresourceStatus{},
					},
					Schema: &apiextensionsv1.CustomResourceValidation{
						OpenAPIV3Schema: &apiextensionsv1.JSONSchemaProps{
							Type:                   "object",
							XPreserveUnknownFields: &preserveUnknown,
						},
					},
				},
			},
		},
	}
}
