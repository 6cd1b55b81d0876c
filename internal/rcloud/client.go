package rcloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/mattn/go-colorable"
	"github.com/wlan-tools/bulkops-backend/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Client talks to the remote network-management API on behalf of the bulk-operation
// subsystem. Every mutating call returns the remote ActivityResult on success; failures
// surface as *APIError carrying the raw response body.
//
// Client is safe for concurrent use; the orchestrator invokes it from many item
// goroutines at once.
type Client struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger

	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(opts *domain.Configuration, atom *zap.AtomicLevel) *Client {
	client := &Client{
		baseURL: opts.RemoteAPIBaseURL,
		token:   opts.RemoteAPIToken,
		httpClient: &http.Client{
			Timeout: time.Second * time.Duration(opts.RemoteRequestTimeoutSec),
		},
	}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	logger := zap.New(core, zap.Development())
	if logger == nil {
		panic("failed to create logger for remote API client")
	}

	client.logger = logger
	client.sugaredLogger = logger.Sugar()

	return client
}

func (c *Client) CreateVenue(ctx context.Context, req *VenueRequest) (*ActivityResult, error) {
	return c.do(ctx, http.MethodPost, "/venues", req)
}

func (c *Client) DeleteVenue(ctx context.Context, venueId string) (*ActivityResult, error) {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/venues/%s", venueId), nil)
}

func (c *Client) CreateNetwork(ctx context.Context, req *NetworkRequest) (*ActivityResult, error) {
	return c.do(ctx, http.MethodPost, "/networks", req)
}

func (c *Client) DeleteNetwork(ctx context.Context, networkId string) (*ActivityResult, error) {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/networks/%s", networkId), nil)
}

func (c *Client) CreateDevice(ctx context.Context, req *DeviceRequest) (*ActivityResult, error) {
	return c.do(ctx, http.MethodPost, "/devices", req)
}

func (c *Client) DeleteDevice(ctx context.Context, serialNumber string) (*ActivityResult, error) {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/devices/%s", serialNumber), nil)
}

func (c *Client) MoveDevice(ctx context.Context, req *DeviceRequest) (*ActivityResult, error) {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/devices/%s/venue", req.SerialNumber), req)
}

func (c *Client) ActivateDevice(ctx context.Context, req *DeviceRequest) (*ActivityResult, error) {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/devices/%s/activate", req.SerialNumber), req)
}

func (c *Client) do(ctx context.Context, method string, path string, body interface{}) (*ActivityResult, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			// The request payload types are all plain structs; this cannot happen
			// unless one of them grows an unmarshalable field.
			panic(err)
		}

		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Error("Remote API request failed.",
			zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, err
	}
	defer func() {
		_ = response.Body.Close()
	}()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		c.logger.Debug("Remote API returned error response.",
			zap.String("method", method), zap.String("path", path),
			zap.Int("status_code", response.StatusCode),
			zap.ByteString("body", responseBody))

		return nil, &APIError{
			StatusCode: response.StatusCode,
			Body:       string(responseBody),
		}
	}

	result := &ActivityResult{}
	if len(responseBody) > 0 {
		if err = json.Unmarshal(responseBody, result); err != nil {
			c.logger.Error("Failed to decode remote API response.",
				zap.String("method", method), zap.String("path", path),
				zap.ByteString("body", responseBody), zap.Error(err))
			return nil, err
		}
	}

	return result, nil
}
