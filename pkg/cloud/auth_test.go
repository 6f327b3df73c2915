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

package cloud

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"
)

func TestReadCredentialsPrefersStatic(t *testing.T) {
	creds, err := ReadCredentials(context.Background(), "ghcr.io/kcl-lang", Static{
		Username: "alice",
		Password: "secret",
	}, ProviderAWS)

	assert.NilError(t, err)
	assert.Equal(t, creds.Username, "alice")
	assert.Equal(t, creds.Password, "secret")
}

func TestReadCredentialsNoProviderNoStaticReturnsNil(t *testing.T) {
	creds, err := ReadCredentials(context.Background(), "ghcr.io/kcl-lang", Static{}, ProviderNone)

	assert.NilError(t, err)
	assert.Assert(t, creds == nil)
}

func TestReadCredentialsUnknownProviderErrors(t *testing.T) {
	_, err := ReadCredentials(context.Background(), "ghcr.io/kcl-lang", Static{}, Provider("unknown"))

	assert.ErrorContains(t, err, "unknown provider")
}
