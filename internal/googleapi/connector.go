package googleapi

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	gc "github.com/joshsymonds/autosort/internal/gmail"
	"github.com/joshsymonds/autosort/internal/store"
)

// Connector opens per-tenant Gmail clients from credentials the OAuth
// flow stored. Token refresh is handled by the oauth2 token source;
// this package only consumes what was stored.
type Connector struct {
	Accounts     store.AccountStore
	ClientID     string
	ClientSecret string
}

// NewConnector wires the connector to the account store.
func NewConnector(accounts store.AccountStore, clientID, clientSecret string) *Connector {
	return &Connector{Accounts: accounts, ClientID: clientID, ClientSecret: clientSecret}
}

// Open resolves the tenant's stored credential and builds a client.
// A missing or unrefreshable credential surfaces as ErrAuthExpired so
// the caller can skip the tenant instead of failing the batch.
func (c *Connector) Open(ctx context.Context, tenant string) (gc.Client, error) {
	creds, err := c.Accounts.GetCredentials(ctx, tenant)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: no stored credentials for %s", gc.ErrAuthExpired, tenant)
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials for %s: %w", tenant, err)
	}
	if creds.RefreshToken == "" && creds.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty credentials for %s", gc.ErrAuthExpired, tenant)
	}

	cfg := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gapi.GmailModifyScope, gapi.GmailLabelsScope},
	}
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.Expiry,
	}
	svc, err := gapi.NewService(ctx, option.WithTokenSource(cfg.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("build gmail service for %s: %w", tenant, err)
	}
	return NewClient(svc), nil
}

var _ gc.Connector = (*Connector)(nil)
