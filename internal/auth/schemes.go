package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/lsm/rolewatch/internal/failure"
)

// BasicResolver encodes a personal access token as HTTP basic auth.
type BasicResolver struct{}

func (BasicResolver) Resolve(_ context.Context, spec Spec) (Header, error) {
	if spec.Secret == "" {
		return Header{}, failure.Configuration("credential %s: secret is empty", spec.Name)
	}
	return Header{
		Authorization: "Basic " + base64.StdEncoding.EncodeToString([]byte(spec.Secret)),
		ContentType:   contentTypeJSONPatch,
	}, nil
}

// StaticBearerResolver uses the configured token as-is.
type StaticBearerResolver struct{}

func (StaticBearerResolver) Resolve(_ context.Context, spec Spec) (Header, error) {
	if spec.Secret == "" {
		return Header{}, failure.Configuration("credential %s: token is empty", spec.Name)
	}
	return Header{
		Authorization: "Bearer " + spec.Secret,
		ContentType:   contentTypeJSON,
	}, nil
}

// OAuth2Resolver performs the client-credentials grant against the spec's
// token endpoint.
type OAuth2Resolver struct {
	Client *http.Client
}

func (o *OAuth2Resolver) Resolve(ctx context.Context, spec Spec) (Header, error) {
	var missing []error
	if spec.ClientID == "" {
		missing = append(missing, errors.New("client id is empty"))
	}
	if spec.ClientSecret == "" {
		missing = append(missing, errors.New("client secret is empty"))
	}
	if spec.TokenURL == "" {
		missing = append(missing, errors.New("token url is empty"))
	}
	if spec.Audience == "" {
		missing = append(missing, errors.New("audience is empty"))
	}
	if len(missing) > 0 {
		return Header{}, failure.Configuration("credential %s: %w", spec.Name, errors.Join(missing...))
	}

	cfg := clientcredentials.Config{
		ClientID:     spec.ClientID,
		ClientSecret: spec.ClientSecret,
		TokenURL:     spec.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if spec.AudienceKind == AudienceScope {
		cfg.Scopes = []string{spec.Audience}
	} else {
		cfg.EndpointParams = url.Values{"resource": {spec.Audience}}
	}

	if o.Client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.Client)
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return Header{}, classifyTokenError(err)
	}
	if tok.AccessToken == "" {
		return Header{}, failure.Authentication(errors.New("token response missing access_token"))
	}
	return Header{
		Authorization: "Bearer " + tok.AccessToken,
		ContentType:   contentTypeJSON,
	}, nil
}

func classifyTokenError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		if rErr.Response != nil {
			return failure.Authentication(fmt.Errorf("token endpoint returned %d: %w", rErr.Response.StatusCode, err))
		}
		return failure.Authentication(err)
	}
	var uErr *url.Error
	if errors.As(err, &uErr) {
		return failure.Transport(fmt.Errorf("token request: %w", err))
	}
	return failure.Authentication(err)
}

// AzureIdentityResolver acquires tokens from the ambient Azure identity
// (workload identity, managed identity, environment, CLI).
type AzureIdentityResolver struct {
	// NewCredential overrides credential construction in tests.
	NewCredential func(tenantID string) (azcore.TokenCredential, error)
}

func (a *AzureIdentityResolver) Resolve(ctx context.Context, spec Spec) (Header, error) {
	if spec.Audience == "" {
		return Header{}, failure.Configuration("credential %s: audience is empty", spec.Name)
	}

	newCred := a.NewCredential
	if newCred == nil {
		newCred = defaultAzureCredential
	}
	cred, err := newCred(spec.TenantID)
	if err != nil {
		return Header{}, failure.Configuration("credential %s: create azure credential: %w", spec.Name, err)
	}

	tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{spec.Audience}})
	if err != nil {
		return Header{}, failure.Authentication(fmt.Errorf("acquire azure token: %w", err))
	}
	if tok.Token == "" {
		return Header{}, failure.Authentication(errors.New("azure token is empty"))
	}
	return Header{
		Authorization: "Bearer " + tok.Token,
		ContentType:   contentTypeJSON,
	}, nil
}

func defaultAzureCredential(tenantID string) (azcore.TokenCredential, error) {
	return azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
		TenantID: tenantID,
	})
}
