// Package session implements the catalogue session lifecycle: the C7 wire
// client and the C3 pool built on top of it.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/icatproject/icat-gateway/internal/gwerrors"
)

// Credentials identifies the (mechanism, username/password) pair a Login
// call authenticates.
type Credentials struct {
	Mechanism string
	Username  string
	Password  string
}

// loginResponse, lifetimeResponse and errorBody mirror the JSON bodies the
// catalogue's REST endpoint returns; field names follow the wire format, not Go
// convention.
type loginResponse struct {
	SessionId string `json:"sessionId"`
}

type lifetimeResponse struct {
	// ICAT reports remaining session lifetime in milliseconds.
	Lifetime int64 `json:"lifetime"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client performs the catalogue's session wire operations: login, refresh
// and query. It owns transport concerns only; session liveness policy
// (refresh thresholds, eviction) lives in Pool.
type Client struct {
	http *resty.Client
}

// NewClient builds a Client against baseURL. checkCert disables TLS
// certificate verification when false, for catalogues behind self-signed
// certificates in development.
func NewClient(baseURL string, checkCert bool, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	if !checkCert {
		c.SetTLSClientConfig(insecureTLSConfig())
	}
	return &Client{http: c}
}

// Login authenticates with the catalogue and returns the new session ID
// with defaultSessionLifetime as its lifetime: the login response carries no
// lifetime, so the catalogue-reported value is first picked up by the
// session's next Refresh.
func (c *Client) Login(ctx context.Context, creds Credentials) (sessionID string, lifetime time.Duration, err error) {
	var body loginResponse
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"plugin": creds.Mechanism,
			"credentials": map[string]string{
				"username": creds.Username,
				"password": creds.Password,
			},
		}).
		SetResult(&body).
		SetError(&errBody).
		Post("/session")
	if err != nil {
		return "", 0, gwerrors.NewCatalogueUnavailable(err.Error())
	}
	if resp.IsError() {
		if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
			return "", 0, gwerrors.NewAuthenticationFailed(errBody.Message)
		}
		return "", 0, gwerrors.NewCatalogueUnavailable(fmt.Sprintf("login failed: %s", errBody.Message))
	}
	return body.SessionId, defaultSessionLifetime, nil
}

// Refresh asks the catalogue for the remaining lifetime of an existing
// session, implicitly extending it. A SessionExpired error is returned when
// the catalogue no longer recognises the ID.
func (c *Client) Refresh(ctx context.Context, sessionID string) (time.Duration, error) {
	var body lifetimeResponse
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		SetError(&errBody).
		Get(fmt.Sprintf("/session/%s", sessionID))
	if err != nil {
		return 0, gwerrors.NewCatalogueUnavailable(err.Error())
	}
	if resp.IsError() {
		if isSessionUnknown(resp.StatusCode(), errBody) {
			return 0, gwerrors.NewSessionExpired(errBody.Message)
		}
		return 0, gwerrors.NewCatalogueUnavailable(fmt.Sprintf("refresh failed: %s", errBody.Message))
	}
	return time.Duration(body.Lifetime) * time.Millisecond, nil
}

// Invalidate logs out a session. Best-effort: the catalogue considers an
// already-gone session a no-op, not an error.
func (c *Client) Invalidate(ctx context.Context, sessionID string) error {
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&errBody).
		Delete(fmt.Sprintf("/session/%s", sessionID))
	if err != nil {
		return gwerrors.NewCatalogueUnavailable(err.Error())
	}
	if resp.IsError() && !isSessionUnknown(resp.StatusCode(), errBody) {
		return gwerrors.NewCatalogueUnavailable(fmt.Sprintf("invalidate failed: %s", errBody.Message))
	}
	return nil
}

// Query executes a rendered JPQL-like query string under sessionID and
// returns the raw per-row JSON the catalogue responds with.
func (c *Client) Query(ctx context.Context, sessionID, query string) ([]RawRow, error) {
	var rows []RawRow
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("sessionId", sessionID).
		SetQueryParam("query", query).
		SetResult(&rows).
		SetError(&errBody).
		Get("/entityManager")
	if err != nil {
		return nil, gwerrors.NewCatalogueUnavailable(err.Error())
	}
	if resp.IsError() {
		if isSessionUnknown(resp.StatusCode(), errBody) {
			return nil, gwerrors.NewSessionExpired(errBody.Message)
		}
		if resp.StatusCode() == 403 {
			return nil, gwerrors.NewForbidden(errBody.Message)
		}
		return nil, gwerrors.NewCatalogueUnavailable(fmt.Sprintf("query failed: %s", errBody.Message))
	}
	return rows, nil
}

// Write creates or updates a single entity instance under sessionID. Used
// by the DataGateway API's POST/PATCH handlers, which are thin passthrough
// operations outside the query-translation/session-pooling core.
func (c *Client) Write(ctx context.Context, sessionID, entityName string, body map[string]any) (RawRow, error) {
	var result RawRow
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("sessionId", sessionID).
		SetBody(map[string]any{"entityName": entityName, "attributes": body}).
		SetResult(&result).
		SetError(&errBody).
		Post("/entityManager")
	if err != nil {
		return nil, gwerrors.NewCatalogueUnavailable(err.Error())
	}
	if resp.IsError() {
		return nil, classifyWriteError(resp.StatusCode(), errBody)
	}
	return result, nil
}

// Delete removes a single entity instance by ID under sessionID.
func (c *Client) Delete(ctx context.Context, sessionID, entityName string, id string) error {
	var errBody errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("sessionId", sessionID).
		SetQueryParam("entityName", entityName).
		SetQueryParam("entityId", id).
		SetError(&errBody).
		Delete("/entityManager")
	if err != nil {
		return gwerrors.NewCatalogueUnavailable(err.Error())
	}
	if resp.IsError() {
		return classifyWriteError(resp.StatusCode(), errBody)
	}
	return nil
}

func classifyWriteError(status int, errBody errorBody) error {
	switch {
	case isSessionUnknown(status, errBody):
		return gwerrors.NewSessionExpired(errBody.Message)
	case status == 403:
		return gwerrors.NewForbidden(errBody.Message)
	case status == 404:
		return gwerrors.NewNotFound(errBody.Message)
	default:
		return gwerrors.NewCatalogueUnavailable(errBody.Message)
	}
}

func isSessionUnknown(status int, errBody errorBody) bool {
	return status == 401 && errBody.Code == "SESSION"
}

const defaultSessionLifetime = time.Hour
