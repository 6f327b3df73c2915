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

package kube

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func applyPatchOptions(fieldManager string) metav1.ApplyOptions {
	return metav1.ApplyOptions{
		FieldManager: fieldManager,
		Force:        true,
	}
}

func metaGetOptions() metav1.GetOptions {
	return metav1.GetOptions{}
}

func metaDeleteOptions() metav1.DeleteOptions {
	return metav1.DeleteOptions{}
}
