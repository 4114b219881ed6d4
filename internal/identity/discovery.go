package identity

import (
	"context"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"

	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
)

// Endpoints are the provider URLs the console needs.
type Endpoints struct {
	TokenURL  string
	LogoutURL string
}

// Discover resolves endpoints from the issuer's .well-known/openid-configuration.
// The revocation endpoint is preferred for sign-out, falling back to the
// end-session endpoint.
func Discover(ctx context.Context, issuer string, client *http.Client) (*Endpoints, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeConfigInvalid, "failed to discover identity provider", err).
			WithSuggestion("Check identity.issuer in the configuration").
			WithSuggestion("Run 'assetdesk doctor' to verify connectivity")
	}

	var extra struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeConfigInvalid, "identity provider metadata is malformed", err)
	}

	endpoints := &Endpoints{
		TokenURL:  provider.Endpoint().TokenURL,
		LogoutURL: extra.RevocationEndpoint,
	}
	if endpoints.LogoutURL == "" {
		endpoints.LogoutURL = extra.EndSessionEndpoint
	}
	if endpoints.TokenURL == "" {
		return nil, apperrors.NewConfigInvalidError("identity provider does not advertise a token endpoint")
	}
	return endpoints, nil
}
