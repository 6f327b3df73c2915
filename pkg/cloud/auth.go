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

// Package cloud resolves OCI registry credentials for a KCL module dependency
// host, falling back from static configuration to cloud workload identity.
package cloud

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
)

// Provider is the workload identity chain consulted when no static
// credentials are configured for a registry.
type Provider string

const (
	ProviderNone  Provider = ""
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"

	// azureIdentityUsername is the fixed username ACR expects when the
	// password is an AAD access token rather than a refresh token.
	azureIdentityUsername = "00000000-0000-0000-0000-000000000000"
)

// Credentials are resolved basic-auth credentials for an OCI registry pull.
type Credentials struct {
	Username string
	Password string
}

// Static are credentials supplied directly via KCL_SRC_USERNAME/KCL_SRC_PASSWORD.
type Static struct {
	Username string
	Password string
}

func (s Static) empty() bool {
	return s.Username == "" && s.Password == ""
}

// ReadCredentials resolves basic-auth credentials for registry. Static
// credentials always take precedence; otherwise the named provider's
// workload identity chain is consulted. With ProviderNone and no static
// credentials, it returns nil, nil so the caller falls back to an anonymous
// pull.
func ReadCredentials(ctx context.Context, registry string, static Static, provider Provider) (*Credentials, error) {
	if !static.empty() {
		return &Credentials{Username: static.Username, Password: static.Password}, nil
	}

	switch provider {
	case ProviderAWS:
		return readECRCredentials(ctx)
	case ProviderAzure:
		return readACRCredentials(ctx)
	case ProviderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("cloud: unknown provider %q", provider)
	}
}

func readECRCredentials(ctx context.Context) (*Credentials, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloud: load aws config: %w", err)
	}

	client := ecr.NewFromConfig(cfg)
	out, err := client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, fmt.Errorf("cloud: ecr authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 || out.AuthorizationData[0].AuthorizationToken == nil {
		return nil, fmt.Errorf("cloud: ecr returned no authorization data")
	}

	decoded, err := base64.StdEncoding.DecodeString(*out.AuthorizationData[0].AuthorizationToken)
	if err != nil {
		return nil, fmt.Errorf("cloud: decode ecr token: %w", err)
	}

	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, fmt.Errorf("cloud: malformed ecr token")
	}

	return &Credentials{Username: user, Password: pass}, nil
}

func readACRCredentials(ctx context.Context) (*Credentials, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("cloud: azure default credential: %w", err)
	}

	token, err := cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{"https://management.azure.com/.default"},
	})
	if err != nil {
		return nil, fmt.Errorf("cloud: azure token: %w", err)
	}

	return &Credentials{Username: azureIdentityUsername, Password: token.Token}, nil
}
