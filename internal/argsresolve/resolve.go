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

// Package argsresolve merges a KclInstance's instanceConfig.argumentsFrom
// ConfigMap/Secret references into its arguments map before the module
// runner sees them.
package argsresolve

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	sigsyaml "sigs.k8s.io/yaml"

	kclv1alpha1 "github.com/evrone/kcl-instance-controller/api/v1alpha1"
)

const defaultArgumentsKey = "arguments.yaml"

// Resolve merges the data referenced by refs into a copy of base, later
// entries overriding earlier ones and both overriding base. optional=true on
// a ref suppresses a not-found error for the referent and a missing data key;
// any other error still fails the resolve.
func Resolve(
	ctx context.Context,
	c client.Client,
	namespace string,
	base map[string]string,
	refs []kclv1alpha1.ArgumentsReference,
) (map[string]string, error) {
	merged := make(map[string]string, len(base))
	for k, v := range base {
		merged[k] = v
	}

	for _, ref := range refs {
		data, err := fetchData(ctx, c, namespace, ref)
		if err != nil {
			if ref.Optional && apierrors.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("argsresolve: %s/%s: %w", ref.Kind, ref.Name, err)
		}

		key := ref.ArgumentsKey
		if key == "" {
			key = defaultArgumentsKey
		}
		raw, ok := data[key]
		if !ok {
			if ref.Optional {
				continue
			}
			return nil, fmt.Errorf("argsresolve: %s/%s: key %q not found", ref.Kind, ref.Name, key)
		}

		if ref.TargetPath != "" {
			merged[ref.TargetPath] = raw
			continue
		}

		var values map[string]string
		if err := sigsyaml.Unmarshal([]byte(raw), &values); err != nil {
			return nil, fmt.Errorf("argsresolve: %s/%s: key %q: %w", ref.Kind, ref.Name, key, err)
		}
		for k, v := range values {
			merged[k] = v
		}
	}

	return merged, nil
}

func fetchData(
	ctx context.Context,
	c client.Client,
	namespace string,
	ref kclv1alpha1.ArgumentsReference,
) (map[string]string, error) {
	key := types.NamespacedName{Namespace: namespace, Name: ref.Name}

	switch ref.Kind {
	case kclv1alpha1.ArgumentsReferenceConfigMap:
		var cm corev1.ConfigMap
		if err := c.Get(ctx, key, &cm); err != nil {
			return nil, err
		}
		return cm.Data, nil
	case kclv1alpha1.ArgumentsReferenceSecret:
		var secret corev1.Secret
		if err := c.Get(ctx, key, &secret); err != nil {
			return nil, err
		}
		out := make(map[string]string, len(secret.Data))
		for k, v := range secret.Data {
			out[k] = string(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported arguments reference kind %q", ref.Kind)
	}
}
