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

// Package crd carries the KclInstance CustomResourceDefinition, embedded so
// the controller binary can print it and tests can install it into envtest
// without a generation step.
package crd

import (
	_ "embed"
	"fmt"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	sigsyaml "sigs.k8s.io/yaml"
)

//go:embed kcl.evrone.com_kclinstances.yaml
var kclInstanceCRD []byte

// YAML returns the KclInstance CRD manifest as served by the crd subcommand.
func YAML() []byte {
	return kclInstanceCRD
}

// KclInstance decodes the embedded manifest into a typed
// CustomResourceDefinition, e.g. for envtest installation.
func KclInstance() (*apiextensionsv1.CustomResourceDefinition, error) {
	obj := &apiextensionsv1.CustomResourceDefinition{}
	if err := sigsyaml.Unmarshal(kclInstanceCRD, obj); err != nil {
		return nil, fmt.Errorf("crd: decode embedded manifest: %w", err)
	}
	return obj, nil
}
