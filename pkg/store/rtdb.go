package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"waterstation-gateway/pkg/httpclient"
	"waterstation-gateway/pkg/models"
)

const (
	etagRequestHeader = "X-Firebase-ETag"
	ifMatchHeader     = "if-match"

	maxConditionalAttempts = 3
)

// RTDBStore talks to a Firebase Realtime Database style REST interface:
// every node is addressed as <base>/<path>.json and absent nodes read as null.
type RTDBStore struct {
	client  *httpclient.Client
	baseURL string
	auth    string
}

func NewRTDBStore(client *httpclient.Client, baseURL, auth string) *RTDBStore {
	return &RTDBStore{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
	}
}

func (s *RTDBStore) url(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = url.PathEscape(seg)
	}
	u := s.baseURL + "/" + strings.Join(escaped, "/") + ".json"
	if s.auth != "" {
		u += "?auth=" + url.QueryEscape(s.auth)
	}
	return u
}

func (s *RTDBStore) write(ctx context.Context, method, u string, payload interface{}) error {
	resp, err := s.client.Do(ctx, method, u, payload)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, redact(u), err)
	}
	if err := httpclient.ExpectStatus(resp, http.StatusOK, http.StatusNoContent); err != nil {
		return fmt.Errorf("%s %s: %w", method, redact(u), err)
	}
	resp.Body.Close()
	return nil
}

// read decodes the node into v. It returns ErrNotFound for a null node.
func (s *RTDBStore) read(ctx context.Context, u string, v interface{}) error {
	resp, err := s.client.Get(ctx, u)
	if err != nil {
		return fmt.Errorf("GET %s: %w", redact(u), err)
	}
	if err := httpclient.ExpectStatus(resp, http.StatusOK); err != nil {
		return fmt.Errorf("GET %s: %w", redact(u), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if isNull(raw) {
		return ErrNotFound
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// PutTransaction reads the node with its ETag and replaces it with if-match,
// re-reading on 412 so a claim that lands in between is never overwritten.
func (s *RTDBStore) PutTransaction(ctx context.Context, order models.Order) error {
	u := s.url("transactions", order.OrderID)
	order.Dispatched = false

	for attempt := 0; attempt < maxConditionalAttempts; attempt++ {
		var existing struct {
			Dispatched bool `json:"dispatched"`
		}
		etag, err := s.readTagged(ctx, u, &existing)
		if err != nil {
			return err
		}
		if existing.Dispatched {
			return ErrAlreadyDispatched
		}

		resp, err := s.client.PutJSON(ctx, u, order, httpclient.WithHeader(ifMatchHeader, etag))
		if err != nil {
			return fmt.Errorf("PUT %s: %w", redact(u), err)
		}
		resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK, http.StatusNoContent:
			return nil
		case http.StatusPreconditionFailed:
			continue
		default:
			return fmt.Errorf("PUT %s: %w", redact(u), httpclient.ExpectStatus(resp))
		}
	}
	return fmt.Errorf("PUT %s: node kept changing after %d attempts", redact(u), maxConditionalAttempts)
}

// readTagged decodes the node into v, leaving v untouched for a null node,
// and returns the node's ETag.
func (s *RTDBStore) readTagged(ctx context.Context, u string, v interface{}) (string, error) {
	resp, err := s.client.Get(ctx, u, httpclient.WithHeader(etagRequestHeader, "true"))
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", redact(u), err)
	}
	if err := httpclient.ExpectStatus(resp, http.StatusOK); err != nil {
		return "", fmt.Errorf("GET %s: %w", redact(u), err)
	}
	etag := resp.Header.Get("ETag")
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if etag == "" {
		return "", fmt.Errorf("GET %s: store did not return an ETag", redact(u))
	}
	if !isNull(raw) {
		if err := json.Unmarshal(raw, v); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return etag, nil
}

func (s *RTDBStore) PatchTransaction(ctx context.Context, orderID string, patch models.OrderPatch) error {
	return s.write(ctx, http.MethodPatch, s.url("transactions", orderID), patch)
}

func (s *RTDBStore) GetTransaction(ctx context.Context, orderID string) (*models.Order, error) {
	var o models.Order
	if err := s.read(ctx, s.url("transactions", orderID), &o); err != nil {
		return nil, err
	}
	if o.OrderID == "" {
		o.OrderID = orderID
	}
	return &o, nil
}

// ClaimDispatch reads the dispatched node with its ETag and writes true with
// if-match. A 412 means another delivery changed the node first.
func (s *RTDBStore) ClaimDispatch(ctx context.Context, orderID string) (bool, error) {
	u := s.url("transactions", orderID, "dispatched")

	var dispatched bool
	etag, err := s.readTagged(ctx, u, &dispatched)
	if err != nil {
		return false, err
	}
	if dispatched {
		return false, nil
	}

	resp, err := s.client.PutJSON(ctx, u, true, httpclient.WithHeader(ifMatchHeader, etag))
	if err != nil {
		return false, fmt.Errorf("PUT %s: %w", redact(u), err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusPreconditionFailed:
		return false, nil
	default:
		return false, fmt.Errorf("PUT %s: %w", redact(u), httpclient.ExpectStatus(resp))
	}
}

func (s *RTDBStore) ReleaseDispatch(ctx context.Context, orderID string) error {
	return s.write(ctx, http.MethodPut, s.url("transactions", orderID, "dispatched"), false)
}

func (s *RTDBStore) PutDeviceCommand(ctx context.Context, deviceID string, cmd models.DeviceCommand) error {
	return s.write(ctx, http.MethodPut, s.url("devices", deviceID, "command"), cmd)
}

func (s *RTDBStore) PutCommandLog(ctx context.Context, cmd models.DeviceCommand) error {
	return s.write(ctx, http.MethodPut, s.url("commands", cmd.OrderID), cmd)
}

func (s *RTDBStore) GetCommandLog(ctx context.Context, orderID string) (*models.DeviceCommand, error) {
	var cmd models.DeviceCommand
	if err := s.read(ctx, s.url("commands", orderID), &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

func (s *RTDBStore) GetDevice(ctx context.Context, deviceID string) (*models.DeviceState, error) {
	var d models.DeviceState
	if err := s.read(ctx, s.url("devices", deviceID), &d); err != nil {
		return nil, err
	}
	d.DeviceID = deviceID
	return &d, nil
}

func (s *RTDBStore) PatchDevice(ctx context.Context, deviceID string, patch models.DevicePatch) error {
	return s.write(ctx, http.MethodPatch, s.url("devices", deviceID), patch)
}

func (s *RTDBStore) UpdateCommandStatus(ctx context.Context, deviceID string, status string) error {
	return s.write(ctx, http.MethodPut, s.url("devices", deviceID, "command", "status"), status)
}

func (s *RTDBStore) Close() error { return nil }

func isNull(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

// redact keeps the auth secret out of error messages and logs.
func redact(u string) string {
	if i := strings.Index(u, "?auth="); i >= 0 {
		return u[:i] + "?auth=REDACTED"
	}
	return u
}
