package auth

import (
	"golang.org/x/oauth2"

	"github.com/hirewire/inboxsync/internal/api"
)

// BuildAuthURL assembles an authorization URL from the raw client
// configuration the backend hands out when it does not pre-build one.
func BuildAuthURL(cfg api.OAuthClientConfig, state, redirectURI string) string {
	oc := &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: redirectURI,
		Scopes:      cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL: cfg.AuthEndpoint,
		},
	}
	return oc.AuthCodeURL(state, oauth2.AccessTypeOffline)
}
