package fiscal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gastroline/backoffice/internal/circuitbreaker"
	"github.com/gastroline/backoffice/internal/domain"
	"github.com/gastroline/backoffice/internal/retry"
)

// reauthWindow is how long before token expiry a fresh authentication is
// forced.
const reauthWindow = 5 * time.Minute

// regionBaseURLs maps region × environment to the cloud-TSS endpoint.
// Germany runs the KassenSichV middleware, Austria RKSV, Italy RT.
var regionBaseURLs = map[string]map[string]string{
	"DE": {
		"test":       "https://kassensichv-middleware.fiskaly.com/api/v2-test",
		"production": "https://kassensichv-middleware.fiskaly.com/api/v2",
	},
	"AT": {
		"test":       "https://rksv.fiskaly.com/api/v1-test",
		"production": "https://rksv.fiskaly.com/api/v1",
	},
	"IT": {
		"test":       "https://rt.fiskaly.com/api/v1-test",
		"production": "https://rt.fiskaly.com/api/v1",
	},
}

// CloudConfig configures the cloud-TSS client.
type CloudConfig struct {
	APIKey      string
	APISecret   string
	Region      string // DE, AT, IT
	Environment string // test, production
	Timeout     time.Duration
}

// CloudTssClient talks to the cloud TSS. Operations: authenticate, getTss,
// startTransaction, finishTransaction, signReceipt.
type CloudTssClient interface {
	Authenticate(ctx context.Context) error
	GetTss(ctx context.Context, tssID string) (TssInfo, error)
	StartTransaction(ctx context.Context, tssID, clientID string, payload CloudTransaction) (CloudTxRef, error)
	FinishTransaction(ctx context.Context, tssID, txID string, receipt CloudReceipt) (CloudTxRef, error)
	SignReceipt(ctx context.Context, tssID string, receipt CloudReceipt) (CloudTxRef, error)
}

// TssInfo describes a provisioned cloud TSS.
type TssInfo struct {
	ID          string `json:"_id"`
	State       string `json:"state"`
	Description string `json:"description,omitempty"`
}

// CloudTransaction is the start-transaction request body.
type CloudTransaction struct {
	ClientID    string `json:"client_id"`
	ProcessType string `json:"process_type"`
	ProcessData string `json:"process_data"`
}

// CloudReceipt is the finish-transaction receipt body, built from decoded
// process data with tags mapped to the cloud vocabulary.
type CloudReceipt struct {
	ReceiptType    string            `json:"receipt_type"`
	AmountsPerRate map[string]string `json:"amounts_per_vat_rate"`
	AmountsPerType map[string]string `json:"amounts_per_payment_type"`
	GrossAmount    string            `json:"gross_amount"`
}

// BuildCloudReceipt translates till process data into the cloud receipt.
func BuildCloudReceipt(processType, processData string) (CloudReceipt, error) {
	amounts, err := DecodeProcessData(processData)
	if err != nil {
		return CloudReceipt{}, err
	}
	perRate := make(map[string]string, len(amounts.Tax))
	for tag, v := range amounts.Tax {
		perRate[CloudTaxTag(tag)] = v.StringFixed(2)
	}
	perType := make(map[string]string, len(amounts.Payments))
	for tag, v := range amounts.Payments {
		perType[CloudPaymentTag(tag)] = v.StringFixed(2)
	}
	return CloudReceipt{
		ReceiptType:    CloudProcessType(processType),
		AmountsPerRate: perRate,
		AmountsPerType: perType,
		GrossAmount:    amounts.Gross.StringFixed(2),
	}, nil
}

// CloudTxRef identifies a cloud-side transaction.
type CloudTxRef struct {
	ID               string `json:"_id"`
	Number           uint64 `json:"number,omitempty"`
	State            string `json:"state,omitempty"`
	SignatureValue   string `json:"signature_value,omitempty"`
	SignatureCounter uint64 `json:"signature_counter,omitempty"`
	QRCodeData       string `json:"qr_code_data,omitempty"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

// CloudClient is the HTTP implementation of CloudTssClient. Every request
// goes through the per-endpoint circuit breaker and the retry policy.
type CloudClient struct {
	cfg      CloudConfig
	baseURL  string
	http     *http.Client
	breakers *circuitbreaker.Manager
	clock    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewCloudClient resolves the base URL from the region table.
func NewCloudClient(cfg CloudConfig) (*CloudClient, error) {
	envs, ok := regionBaseURLs[cfg.Region]
	if !ok {
		return nil, domain.Precondition("unknown fiscal region %q", cfg.Region)
	}
	base, ok := envs[cfg.Environment]
	if !ok {
		return nil, domain.Precondition("unknown fiscal environment %q for region %s", cfg.Environment, cfg.Region)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &CloudClient{
		cfg:      cfg,
		baseURL:  base,
		http:     &http.Client{Timeout: timeout},
		breakers: circuitbreaker.NewManager(circuitbreaker.DefaultConfig("cloud-tss")),
		clock:    time.Now,
	}, nil
}

// Authenticate fetches and caches an access token.
func (c *CloudClient) Authenticate(ctx context.Context) error {
	var auth authResponse
	err := c.call(ctx, "auth", http.MethodPost, "/auth", map[string]string{
		"api_key":    c.cfg.APIKey,
		"api_secret": c.cfg.APISecret,
	}, &auth)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.token = auth.AccessToken
	c.tokenExpiry = c.clock().Add(time.Duration(auth.ExpiresIn) * time.Second)
	c.mu.Unlock()
	return nil
}

// ensureToken re-authenticates when the cached token is missing or within
// the re-auth window of its expiry.
func (c *CloudClient) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	valid := c.token != "" && c.clock().Before(c.tokenExpiry.Add(-reauthWindow))
	c.mu.Unlock()
	if valid {
		return nil
	}
	return c.Authenticate(ctx)
}

func (c *CloudClient) GetTss(ctx context.Context, tssID string) (TssInfo, error) {
	var info TssInfo
	if err := c.ensureToken(ctx); err != nil {
		return info, err
	}
	err := c.call(ctx, "tss", http.MethodGet, "/tss/"+tssID, nil, &info)
	return info, err
}

func (c *CloudClient) StartTransaction(ctx context.Context, tssID, clientID string, payload CloudTransaction) (CloudTxRef, error) {
	var ref CloudTxRef
	if err := c.ensureToken(ctx); err != nil {
		return ref, err
	}
	payload.ClientID = clientID
	err := c.call(ctx, "tx", http.MethodPut, "/tss/"+tssID+"/tx", payload, &ref)
	return ref, err
}

func (c *CloudClient) FinishTransaction(ctx context.Context, tssID, txID string, receipt CloudReceipt) (CloudTxRef, error) {
	var ref CloudTxRef
	if err := c.ensureToken(ctx); err != nil {
		return ref, err
	}
	body := map[string]any{"state": "FINISHED", "receipt": receipt}
	err := c.call(ctx, "tx", http.MethodPut, "/tss/"+tssID+"/tx/"+txID, body, &ref)
	return ref, err
}

func (c *CloudClient) SignReceipt(ctx context.Context, tssID string, receipt CloudReceipt) (CloudTxRef, error) {
	var ref CloudTxRef
	if err := c.ensureToken(ctx); err != nil {
		return ref, err
	}
	err := c.call(ctx, "sign", http.MethodPost, "/tss/"+tssID+"/sign", receipt, &ref)
	return ref, err
}

// call runs one HTTP exchange under breaker + retry, decoding the JSON
// response into out.
func (c *CloudClient) call(ctx context.Context, breakerKey, method, path string, body, out any) error {
	br := c.breakers.Get(breakerKey)
	return br.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, func(ctx context.Context) error {
			return c.doRequest(ctx, method, path, body, out)
		})
	})
}

func (c *CloudClient) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.Lock()
	if c.token != "" && path != "/auth" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.NewError(retry.CodeTimeout, "cloud tss request timed out", err)
		}
		return retry.NewError(retry.CodeConnectionError, "cloud tss unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return retry.NewError(retry.CodeConnectionError, "cloud tss response read failed", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.NewError(retry.CodeRateLimited, "cloud tss rate limited", nil)
	case resp.StatusCode >= 500:
		return retry.NewError(retry.CodeProcessingError, fmt.Sprintf("cloud tss %s %s: status %d", method, path, resp.StatusCode), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return retry.NewError(retry.CodeAuthRequired, fmt.Sprintf("cloud tss %s %s: status %d", method, path, resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return fmt.Errorf("cloud tss %s %s: status %d: %s", method, path, resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("cloud tss %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
