// Package jobber is a client for the Jobber GraphQL API covering the
// Products & Services catalog, the connected account and app disconnect.
//
// Every call takes the bearer token explicitly because tokens rotate in the
// middle of a sync run. An HTTP 401 is always returned as an error that
// satisfies errors.IsUnauthorized. The higher level calls degrade other
// failures (non-2xx, GraphQL errors, malformed bodies, timeouts) to
// not-found, false or partial results and log them.
package jobber

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pricesync/pricesync/internal/transport"
	"github.com/pricesync/pricesync/pkg/catalog"
	"github.com/pricesync/pricesync/pkg/constants"
	"github.com/pricesync/pricesync/pkg/errors"
	"github.com/pricesync/pricesync/pkg/logging"
)

// ServiceName is used in errors returned by this package.
const ServiceName = "jobber"

// Client talks to one Jobber GraphQL endpoint.
type Client struct {
	endpoint  string
	version   string
	timeout   time.Duration
	pageSize  int
	pageDelay time.Duration
	http      *http.Client
	logger    *zerolog.Logger
	transport *transport.Client
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the GraphQL URL.
func WithEndpoint(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.endpoint = url
		}
	}
}

// WithVersion overrides the X-JOBBER-GRAPHQL-VERSION header value.
func WithVersion(version string) Option {
	return func(c *Client) {
		if version != "" {
			c.version = version
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithPageDelay sets the pause between catalog pages.
func WithPageDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.pageDelay = d
		}
	}
}

// WithPageSize sets the catalog page size.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger for degraded-failure warnings.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Jobber client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		endpoint:  constants.JobberGraphQLURL,
		version:   constants.JobberGraphQLVersion,
		timeout:   constants.DefaultHTTPTimeout,
		pageSize:  constants.CatalogPageSize,
		pageDelay: constants.RateLimitDelay,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	topts := []transport.Option{
		transport.WithService(ServiceName),
		transport.WithHeader(constants.JobberVersionHeader, c.version),
	}
	if c.http != nil {
		topts = append(topts, transport.WithHTTPClient(c.http))
	} else {
		topts = append(topts, transport.WithTimeout(c.timeout))
	}
	c.transport = transport.New(&transport.BearerAuth{}, topts...)
	return c
}

// GraphQLError reports errors returned in a GraphQL response body.
type GraphQLError struct {
	Messages []string
}

// Error implements the error interface.
func (e *GraphQLError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}

// errMissingData marks a response with neither data nor errors.
var errMissingData = errors.New("graphql response has no data")

// do posts one GraphQL operation and decodes its data into out.
func (c *Client) do(ctx context.Context, token, query string, vars map[string]any, out any) error {
	resp, err := c.transport.PostJSON(ctx, c.endpoint, token, graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}

	var envelope graphQLResponse
	if err := c.transport.DecodeResponse(resp, &envelope); err != nil {
		return err
	}

	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return &GraphQLError{Messages: msgs}
	}

	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return errors.NewParseError("json", "graphql response", "missing data", errMissingData)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return errors.WrapParse("json", "graphql data", err)
	}
	return nil
}

// fatal reports whether err must be surfaced instead of degraded.
func fatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.IsUnauthorized(err) {
		return true
	}
	if ctx.Err() != nil {
		return true
	}
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}

// ProbeCodeCapability reports whether the catalog schema exposes the code field.
// A successful response without errors means it does, even if data is empty.
func (c *Client) ProbeCodeCapability(ctx context.Context, token string) (bool, error) {
	var data productsData
	err := c.do(ctx, token, queryProductsPageWithCode, map[string]any{"first": 1, "after": nil}, &data)
	if fatal(ctx, err) {
		return false, err
	}
	if errors.Is(err, errMissingData) {
		return true, nil
	}
	if err != nil {
		c.logger.Debug().Err(err).Msg("catalog code field unavailable")
		return false, nil
	}
	return true, nil
}

// FetchPage fetches one catalog page after cursor. An empty cursor starts
// from the beginning. Every failure is returned.
func (c *Client) FetchPage(ctx context.Context, token string, withCode bool, cursor string) (*Page, error) {
	vars := map[string]any{"first": c.pageSize, "after": nil}
	if cursor != "" {
		vars["after"] = cursor
	}

	var data productsData
	if err := c.do(ctx, token, pageQuery(withCode), vars, &data); err != nil {
		return nil, err
	}
	if data.ProductOrServices == nil {
		return nil, errors.NewParseError("json", "graphql data", "missing productOrServices", nil)
	}

	conn := data.ProductOrServices
	page := &Page{
		HasNextPage: conn.PageInfo.HasNextPage,
		EndCursor:   conn.PageInfo.EndCursor,
	}
	for _, n := range conn.nodes() {
		if n.ID == "" {
			continue
		}
		page.Entries = append(page.Entries, n.entry())
	}
	return page, nil
}

// FetchAll drains the catalog. A transient failure ends the scan and the
// entries collected so far are returned without error.
func (c *Client) FetchAll(ctx context.Context, token string, withCode bool) ([]catalog.Entry, error) {
	var out []catalog.Entry
	err := c.scan(ctx, token, withCode, func(e catalog.Entry) bool {
		out = append(out, e)
		return false
	})
	return out, err
}

// FindByExactMatch streams catalog pages until an entry's trimmed code (when
// preferCode) or trimmed name equals identifier. Comparison is
// case-sensitive. A zero Match means not found.
func (c *Client) FindByExactMatch(ctx context.Context, token, identifier string, preferCode bool) (catalog.Match, error) {
	var found catalog.Match
	err := c.scan(ctx, token, preferCode, func(e catalog.Entry) bool {
		if e.MatchesExactly(identifier, preferCode) {
			found = e.ExactMatch()
			return true
		}
		return false
	})
	if err != nil {
		return catalog.Match{}, err
	}
	return found, nil
}

// scan walks pages and calls visit for each entry until visit returns true.
// Only fatal errors are returned.
func (c *Client) scan(ctx context.Context, token string, withCode bool, visit func(catalog.Entry) bool) error {
	cursor := ""
	for pageNum := 1; ; pageNum++ {
		page, err := c.FetchPage(ctx, token, withCode, cursor)
		if fatal(ctx, err) {
			return err
		}
		if err != nil {
			c.logger.Warn().Err(err).Int("page", pageNum).Msg("catalog scan stopped early")
			return nil
		}

		for _, e := range page.Entries {
			if visit(e) {
				return nil
			}
		}

		if !page.HasNextPage || page.EndCursor == "" {
			return nil
		}
		cursor = page.EndCursor

		if err := sleep(ctx, c.pageDelay); err != nil {
			return err
		}
	}
}

// UpdateCost sets internalUnitCost on a catalog entry.
func (c *Client) UpdateCost(ctx context.Context, token, id string, cost float64) (bool, error) {
	return c.edit(ctx, token, id, mutationUpdateCost, map[string]any{
		"productOrServiceId": id,
		"internalUnitCost":   cost,
	})
}

// UpdateCostAndPrice sets internalUnitCost and unitPrice in one mutation.
func (c *Client) UpdateCostAndPrice(ctx context.Context, token, id string, cost, price float64) (bool, error) {
	return c.edit(ctx, token, id, mutationUpdateCostAndPrice, map[string]any{
		"productOrServiceId": id,
		"internalUnitCost":   cost,
		"unitPrice":          price,
	})
}

func (c *Client) edit(ctx context.Context, token, id, mutation string, vars map[string]any) (bool, error) {
	var data editData
	err := c.do(ctx, token, mutation, vars, &data)
	if fatal(ctx, err) {
		return false, err
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("entry_id", id).Msg("catalog update failed")
		return false, nil
	}

	if data.ProductsAndServicesEdit == nil {
		return false, nil
	}
	if ue := data.ProductsAndServicesEdit.UserErrors; len(ue) > 0 {
		c.logger.Warn().Str("entry_id", id).
			Str("user_error", ue[0].Message).Msg("catalog update rejected")
		return false, nil
	}
	return true, nil
}

// Account returns the account the token belongs to. Errors are not degraded.
func (c *Client) Account(ctx context.Context, token string) (*Account, error) {
	var data accountData
	if err := c.do(ctx, token, queryAccount, nil, &data); err != nil {
		return nil, err
	}
	if data.Account == nil || strings.TrimSpace(data.Account.ID) == "" {
		return nil, errors.NewParseError("json", "graphql data", "account not in response", nil)
	}
	return &Account{
		ID:   strings.TrimSpace(data.Account.ID),
		Name: strings.TrimSpace(data.Account.Name),
	}, nil
}

// Disconnect tells Jobber to revoke this app's access to the account.
func (c *Client) Disconnect(ctx context.Context, token string) error {
	var data disconnectData
	if err := c.do(ctx, token, mutationAppDisconnect, nil, &data); err != nil {
		return err
	}
	if data.AppDisconnect != nil && len(data.AppDisconnect.UserErrors) > 0 {
		return errors.NewAPIError(ServiceName, http.StatusOK, data.AppDisconnect.UserErrors[0].Message)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
