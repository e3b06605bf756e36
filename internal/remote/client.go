// Package remote implements the HTTP client for the central inventory API.
// The sync engine is its only caller; UI reads never touch the network.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shelfware/shelfsyncgo/internal/config"
	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
)

// Record is the wire form of an entity: the server owns the schema, the
// client treats it as an open field set.
type Record map[string]interface{}

// API is what the sync engine needs from the central server
type API interface {
	Create(ctx context.Context, entity models.EntityType, fields Record) (Record, error)
	Get(ctx context.Context, entity models.EntityType, id string) (Record, error)
	GetByQRCode(ctx context.Context, entity models.EntityType, code string) (Record, error)
	Update(ctx context.Context, entity models.EntityType, id string, fields Record) (Record, error)
	Delete(ctx context.Context, entity models.EntityType, id string) error
	List(ctx context.Context, entity models.EntityType, since *time.Time) ([]Record, error)
	Ping(ctx context.Context) error
}

// Client talks JSON over HTTP to the central API, authenticating each
// request with a short-lived device token.
type Client struct {
	baseURL   string
	apiSecret string
	deviceID  string
	http      *http.Client
}

// NewClient builds a client from the remote config. Dual-stack servers
// behind flaky IPv6 routes are a recurring field problem, so the dialer
// resolves and prefers IPv4 addresses explicitly.
func NewClient(cfg config.RemoteConfig, deviceID string) *Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err == nil {
				if ips, lookupErr := net.DefaultResolver.LookupIP(ctx, "ip4", host); lookupErr == nil && len(ips) > 0 {
					return dialer.DialContext(ctx, "tcp4", net.JoinHostPort(ips[0].String(), port))
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiSecret: cfg.APISecret,
		deviceID:  deviceID,
		http:      &http.Client{Timeout: timeout, Transport: transport},
	}
}

// deviceToken mints a short-lived HS256 token identifying this device
func (c *Client) deviceToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": c.deviceID,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.apiSecret))
	if err != nil {
		return "", fmt.Errorf("sign device token: %w", err)
	}
	return signed, nil
}

// Create posts a new record and returns the server's stored form,
// including the server-assigned id.
func (c *Client) Create(ctx context.Context, entity models.EntityType, fields Record) (Record, error) {
	return c.doRecord(ctx, http.MethodPost, c.entityPath(entity, ""), fields)
}

// Get fetches the server's current state of one record
func (c *Client) Get(ctx context.Context, entity models.EntityType, id string) (Record, error) {
	return c.doRecord(ctx, http.MethodGet, c.entityPath(entity, id), nil)
}

// GetByQRCode resolves a printed code to its record
func (c *Client) GetByQRCode(ctx context.Context, entity models.EntityType, code string) (Record, error) {
	path := c.entityPath(entity, "") + "/qr/" + url.PathEscape(code)
	return c.doRecord(ctx, http.MethodGet, path, nil)
}

// Update patches a record with the changed fields only
func (c *Client) Update(ctx context.Context, entity models.EntityType, id string, fields Record) (Record, error) {
	return c.doRecord(ctx, http.MethodPatch, c.entityPath(entity, id), fields)
}

// Delete soft-deletes a record server-side
func (c *Client) Delete(ctx context.Context, entity models.EntityType, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.entityPath(entity, id), nil)
	return err
}

// List returns records changed since the given time, deleted ones included
// so the puller can mirror remote deletions.
func (c *Client) List(ctx context.Context, entity models.EntityType, since *time.Time) ([]Record, error) {
	path := c.entityPath(entity, "") + "?include_deleted=true"
	if since != nil {
		path += "&since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var records []Record
	if err := json.Unmarshal(body, &records); err != nil {
		// Some deployments wrap the list in an envelope.
		var envelope struct {
			Data []Record `json:"data"`
		}
		if err2 := json.Unmarshal(body, &envelope); err2 != nil {
			return nil, &syncerr.NetworkError{Op: "list " + string(entity), Err: fmt.Errorf("undecodable response: %w", err)}
		}
		records = envelope.Data
	}
	return records, nil
}

// Ping checks reachability without mutating anything
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/health", nil)
	return err
}

func (c *Client) entityPath(entity models.EntityType, id string) string {
	path := "/api/" + string(entity)
	if id != "" {
		path += "/" + url.PathEscape(id)
	}
	return path
}

func (c *Client) doRecord(ctx context.Context, method, path string, fields Record) (Record, error) {
	body, err := c.do(ctx, method, path, fields)
	if err != nil {
		return nil, err
	}

	var record Record
	if len(body) > 0 {
		if err := json.Unmarshal(body, &record); err != nil {
			return nil, &syncerr.NetworkError{Op: method + " " + path, Err: fmt.Errorf("undecodable response: %w", err)}
		}
	}
	return record, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, &syncerr.ValidationError{Field: "payload", Reason: err.Error()}
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, &syncerr.NetworkError{Op: method + " " + path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", c.deviceID)

	token, err := c.deviceToken()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &syncerr.NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &syncerr.NetworkError{Op: method + " " + path, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, c.statusError(method, path, resp.StatusCode, body)
}

// statusError maps HTTP failures onto the sync error taxonomy: validation
// rejections are permanent, duplicates get their own type for conflict
// classification, everything transport-shaped stays retryable.
func (c *Client) statusError(method, path string, status int, body []byte) error {
	message := serverMessage(body)

	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return syncerr.ErrNotFound
	case status == http.StatusConflict:
		return &syncerr.DuplicateError{Entity: path, Key: message}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		if message == "" {
			message = fmt.Sprintf("request rejected with status %d", status)
		}
		return &syncerr.ValidationError{Reason: message}
	default:
		err := fmt.Errorf("server returned %d", status)
		if message != "" {
			err = fmt.Errorf("server returned %d: %s", status, message)
		}
		return &syncerr.NetworkError{Op: method + " " + path, StatusCode: status, Err: err}
	}
}

func serverMessage(body []byte) string {
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if envelope.Error != "" {
		return envelope.Error
	}
	return envelope.Message
}

// IsTimeout reports whether a network failure was a timeout
func IsTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

var _ API = (*Client)(nil)
