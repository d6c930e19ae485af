// Package auth turns named credential configurations into ready-to-use
// Authorization headers.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lsm/rolewatch/internal/failure"
)

// Scheme is the authentication scheme of a credential. It is assigned once when
// configuration is loaded and never re-derived at call time.
type Scheme int

const (
	SchemeOAuth2 Scheme = iota + 1
	SchemeBasic
	SchemeStaticBearer
	SchemeAzureIdentity
)

func (s Scheme) String() string {
	switch s {
	case SchemeOAuth2:
		return "oauth2"
	case SchemeBasic:
		return "basic"
	case SchemeStaticBearer:
		return "static-bearer"
	case SchemeAzureIdentity:
		return "azure-identity"
	default:
		return "unknown"
	}
}

// ParseScheme parses an explicit scheme name from configuration.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "oauth2", "client-credentials":
		return SchemeOAuth2, nil
	case "basic", "pat":
		return SchemeBasic, nil
	case "static-bearer", "bearer", "static":
		return SchemeStaticBearer, nil
	case "azure-identity", "azure":
		return SchemeAzureIdentity, nil
	default:
		return 0, fmt.Errorf("unknown auth scheme %q", s)
	}
}

// SchemeFromName derives the scheme from the credential naming convention:
// names containing "PAT" use basic auth, names containing "EA" carry a static
// bearer token, everything else goes through the OAuth2 client-credentials
// exchange.
func SchemeFromName(name string) Scheme {
	switch {
	case strings.Contains(name, "PAT"):
		return SchemeBasic
	case strings.Contains(name, "EA"):
		return SchemeStaticBearer
	default:
		return SchemeOAuth2
	}
}

// AudienceKind selects the form field the OAuth2 audience is sent in.
type AudienceKind int

const (
	AudienceResource AudienceKind = iota
	AudienceScope
)

// AudienceKindFromName returns AudienceScope for Graph-style credentials and
// AudienceResource for everything else.
func AudienceKindFromName(name string) AudienceKind {
	if strings.Contains(name, "GRAPH") {
		return AudienceScope
	}
	return AudienceResource
}

// Spec is a resolved credential configuration.
type Spec struct {
	Name   string
	Scheme Scheme

	// Secret is the raw value for Basic and StaticBearer.
	Secret string

	// OAuth2 and AzureIdentity parameters.
	ClientID     string
	ClientSecret string
	Audience     string
	AudienceKind AudienceKind
	TokenURL     string
	TenantID     string
}

// Header is a resolved pair of request headers.
type Header struct {
	Authorization string
	ContentType   string
}

// Apply sets the header values on h.
func (hd Header) Apply(h http.Header) {
	h.Set("Authorization", hd.Authorization)
	h.Set("Content-Type", hd.ContentType)
}

const (
	contentTypeJSON      = "application/json"
	contentTypeJSONPatch = "application/json-patch+json"
)

// SchemeResolver produces a header for one scheme.
type SchemeResolver interface {
	Resolve(ctx context.Context, spec Spec) (Header, error)
}

// Resolver dispatches credential specs to the resolver for their scheme.
type Resolver struct {
	schemes map[Scheme]SchemeResolver
}

// NewResolver creates a resolver with the built-in schemes. client is used for
// token exchanges; nil means http.DefaultClient.
func NewResolver(client *http.Client) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{
		schemes: map[Scheme]SchemeResolver{
			SchemeBasic:         BasicResolver{},
			SchemeStaticBearer:  StaticBearerResolver{},
			SchemeOAuth2:        &OAuth2Resolver{Client: client},
			SchemeAzureIdentity: &AzureIdentityResolver{},
		},
	}
}

// Register replaces the resolver for a scheme.
func (r *Resolver) Register(scheme Scheme, sr SchemeResolver) {
	r.schemes[scheme] = sr
}

// Resolve returns the header for spec. Failures are classified as
// configuration, authentication or transport errors.
func (r *Resolver) Resolve(ctx context.Context, spec Spec) (Header, error) {
	sr, ok := r.schemes[spec.Scheme]
	if !ok {
		return Header{}, failure.Configuration("credential %s: unsupported scheme %s", spec.Name, spec.Scheme)
	}
	h, err := sr.Resolve(ctx, spec)
	if err != nil {
		return Header{}, fmt.Errorf("resolve credential %s: %w", spec.Name, err)
	}
	return h, nil
}

// ResolveAll resolves every spec concurrently and returns headers keyed by
// credential name. The first failure cancels the remaining resolutions.
func (r *Resolver) ResolveAll(ctx context.Context, specs []Spec) (map[string]Header, error) {
	headers := make([]Header, len(specs))
	g, ctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		g.Go(func() error {
			h, err := r.Resolve(ctx, spec)
			if err != nil {
				return err
			}
			headers[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]Header, len(specs))
	for i, spec := range specs {
		out[spec.Name] = headers[i]
	}
	return out, nil
}
