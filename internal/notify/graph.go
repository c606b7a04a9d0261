package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/types"
	"github.com/oszuidwest/zwfm-capture/internal/util"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	graphBaseURL     = "https://graph.microsoft.com/v1.0"
	graphScope       = "https://graph.microsoft.com/.default"
	tokenURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token" //nolint:gosec // URL template, not a credential

	maxRetries       = 3
	initialRetryWait = 1 * time.Second
	maxRetryWait     = 30 * time.Second
	maxRetryAfter    = 60 * time.Second

	httpTimeout = 30 * time.Second

	// maxErrorBody caps the response body kept in a GraphError.
	maxErrorBody = 512
)

// GraphError is a non-success response from the Graph API.
type GraphError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph API returned %d: %s", e.Status, e.Body)
}

// Temporary reports whether the request may succeed when repeated.
func (e *GraphError) Temporary() bool {
	switch e.Status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// GraphClient sends mail from a shared mailbox through Microsoft Graph.
type GraphClient struct {
	baseURL     string
	fromAddress string
	httpClient  *http.Client
}

// NewGraphClient returns a client authenticated with OAuth2 client credentials.
func NewGraphClient(cfg *types.GraphConfig) (*GraphClient, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("tenant ID, client ID and client secret are required")
	}
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("from address (shared mailbox) is required")
	}

	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf(tokenURLTemplate, cfg.TenantID),
		Scopes:       []string{graphScope},
	}

	// Token requests use the same bounded client as mail requests
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: httpTimeout})

	return &GraphClient{
		baseURL:     graphBaseURL,
		fromAddress: cfg.FromAddress,
		httpClient:  conf.Client(ctx),
	}, nil
}

type graphMailRequest struct {
	Message graphMessage `json:"message"`
}

type graphMessage struct {
	Subject      string           `json:"subject"`
	Body         graphBody        `json:"body"`
	ToRecipients []graphRecipient `json:"toRecipients"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

// SendMail sends a plain text email. Blank recipients are skipped and at
// least one must remain.
func (c *GraphClient) SendMail(ctx context.Context, recipients []string, subject, body string) error {
	var to []graphRecipient
	for _, addr := range recipients {
		if addr = strings.TrimSpace(addr); addr != "" {
			var r graphRecipient
			r.EmailAddress.Address = addr
			to = append(to, r)
		}
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients specified")
	}

	payload, err := json.Marshal(graphMailRequest{Message: graphMessage{
		Subject:      subject,
		Body:         graphBody{ContentType: "Text", Content: body},
		ToRecipients: to,
	}})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/users/%s/sendMail", c.baseURL, url.PathEscape(c.fromAddress))
	backoff := util.NewBackoff(initialRetryWait, maxRetryWait)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.pause(ctx, backoff, lastErr); err != nil {
				return err
			}
		}

		lastErr = c.post(ctx, apiURL, payload)
		if lastErr == nil {
			return nil
		}
		var gerr *GraphError
		if errors.As(lastErr, &gerr) && !gerr.Temporary() {
			return lastErr
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// pause waits before a retry, honoring a server-provided Retry-After.
func (c *GraphClient) pause(ctx context.Context, backoff *util.Backoff, lastErr error) error {
	var gerr *GraphError
	if errors.As(lastErr, &gerr) && gerr.RetryAfter > 0 {
		backoff.Next()
		timer := time.NewTimer(min(gerr.RetryAfter, maxRetryAfter))
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return backoff.Wait(ctx)
}

// post performs one sendMail request.
func (c *GraphClient) post(ctx context.Context, apiURL string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusOK, http.StatusNoContent:
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	gerr := &GraphError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
		gerr.RetryAfter = time.Duration(seconds) * time.Second
	}
	return gerr
}

// ParseRecipients splits a comma-separated recipients string into a slice.
func ParseRecipients(recipients string) []string {
	var result []string
	for r := range strings.SplitSeq(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			result = append(result, r)
		}
	}
	return result
}
