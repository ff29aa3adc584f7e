// Package routeros reads session and interface listings from the RouterOS
// REST API (v7+).
package routeros

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/ispmeter/internal/usage"
	"github.com/rs/zerolog"
)

const (
	activeSessionsPath = "/rest/ppp/active"
	interfacesPath     = "/rest/interface"

	// maxErrorBody caps how much of a failed response is kept for the error.
	maxErrorBody = 512
)

// Config holds the REST endpoint settings.
type Config struct {
	URL                string
	Username           string
	Password           string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Client is a read-only RouterOS REST client. It performs no retries; a
// failed cycle is simply retried on the next schedule tick.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   zerolog.Logger
}

// activeSession is an item of /rest/ppp/active. RouterOS renders every
// value as a string.
type activeSession struct {
	ID        string `json:".id"`
	Name      string `json:"name"`
	SessionID string `json:"session-id"`
}

// interfaceItem is an item of /rest/interface.
type interfaceItem struct {
	Name   string `json:"name"`
	RxByte string `json:"rx-byte"`
	TxByte string `json:"tx-byte"`
}

// New creates a new RouterOS client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("routeros url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = usage.DefaultFetchTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: logger.With().Str("component", "routeros").Logger(),
	}, nil
}

// ListActiveSessions returns the active PPP sessions.
func (c *Client) ListActiveSessions(ctx context.Context) ([]usage.ActiveSession, error) {
	var items []activeSession
	if err := c.get(ctx, activeSessionsPath, &items); err != nil {
		return nil, err
	}

	sessions := make([]usage.ActiveSession, 0, len(items))
	for _, item := range items {
		sessionID := item.SessionID
		if sessionID == "" {
			sessionID = item.ID
		}
		sessions = append(sessions, usage.ActiveSession{
			SubscriberID: item.Name,
			SessionID:    sessionID,
		})
	}

	c.logger.Debug().Int("sessions", len(sessions)).Msg("Listed active sessions")
	return sessions, nil
}

// ListInterfaces returns every interface with its byte counters. Interfaces
// whose counters cannot be parsed are left out.
func (c *Client) ListInterfaces(ctx context.Context) ([]usage.Interface, error) {
	var items []interfaceItem
	if err := c.get(ctx, interfacesPath, &items); err != nil {
		return nil, err
	}

	interfaces := make([]usage.Interface, 0, len(items))
	for _, item := range items {
		rx, err := strconv.ParseUint(item.RxByte, 10, 64)
		if err != nil {
			c.logger.Debug().Str("interface", item.Name).Str("rx-byte", item.RxByte).Msg("Skipping interface without usable rx counter")
			continue
		}
		tx, err := strconv.ParseUint(item.TxByte, 10, 64)
		if err != nil {
			c.logger.Debug().Str("interface", item.Name).Str("tx-byte", item.TxByte).Msg("Skipping interface without usable tx counter")
			continue
		}
		interfaces = append(interfaces, usage.Interface{Name: item.Name, RxBytes: rx, TxBytes: tx})
	}

	c.logger.Debug().Int("interfaces", len(interfaces)).Msg("Listed interfaces")
	return interfaces, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("GET %s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
