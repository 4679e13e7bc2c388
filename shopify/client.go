/*
Copyright 2025 Bunlink Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package shopify is the storefront Admin API client. Every call goes through
// the GraphQL endpoint; throttled and transient responses are retried with
// exponential backoff, userErrors in mutation payloads are surfaced as plain
// errors and never retried.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bunlink/bunlink/config"
)

type Client struct {
	endpoint    string
	token       string
	namespace   string
	locationGid string
	maxRetries  uint64
	httpClient  *http.Client
}

// NewClient builds a client from the loaded configuration.
func NewClient() (*Client, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return NewClientWithConfig(&cfg.Shopify), nil
}

func NewClientWithConfig(cfg *config.ShopifyConfig) *Client {
	return &Client{
		endpoint:    fmt.Sprintf("https://%s/admin/api/%s/graphql.json", cfg.ShopDomain, cfg.ApiVersion),
		token:       cfg.AdminToken,
		namespace:   cfg.MetafieldNamespace,
		locationGid: cfg.LocationGid,
		maxRetries:  cfg.MaxRetryAttempts,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// UserError is a mutation-level validation failure reported by Shopify.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

func userErrorsToError(op string, errs []UserError) error {
	if len(errs) == 0 {
		return nil
	}
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		if len(e.Field) > 0 {
			messages = append(messages, fmt.Sprintf("%s: %s", strings.Join(e.Field, "."), e.Message))
		} else {
			messages = append(messages, e.Message)
		}
	}
	return errors.Errorf("%s rejected: %s", op, strings.Join(messages, "; "))
}

// execute posts one GraphQL document and decodes data into out. Throttles
// (HTTP 429, THROTTLED error code) and 5xx responses are retried up to
// maxRetries; everything else fails immediately.
func (c *Client) execute(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Shopify-Access-Token", c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if wait := retryAfter(resp); wait > 0 {
				logrus.WithField("wait", wait).Info("shopify throttled, honoring Retry-After")
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return errors.Errorf("shopify returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(errors.Errorf("shopify returned %d", resp.StatusCode))
		}

		var gqlResp graphQLResponse
		if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
			return backoff.Permanent(errors.Wrap(err, "decoding shopify response"))
		}
		for _, e := range gqlResp.Errors {
			if e.Extensions.Code == "THROTTLED" {
				return errors.New("shopify query throttled")
			}
		}
		if len(gqlResp.Errors) > 0 {
			return backoff.Permanent(errors.Errorf("shopify query failed: %s", gqlResp.Errors[0].Message))
		}
		if out != nil {
			if err := json.Unmarshal(gqlResp.Data, out); err != nil {
				return backoff.Permanent(errors.Wrap(err, "decoding shopify data"))
			}
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.Retry(operation, policy)
}

func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(header, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// OrderGid converts a numeric Shopify order id to its GraphQL global id.
// Already-global ids pass through unchanged.
func OrderGid(id string) string {
	if strings.HasPrefix(id, "gid://") {
		return id
	}
	return "gid://shopify/Order/" + id
}
