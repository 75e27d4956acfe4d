package ashby

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/interview-advancer/internal/errors"
	"github.com/spigell/interview-advancer/internal/utils"
)

const contentType = "application/json"

// Response is the envelope every endpoint answers with.
type Response struct {
	Success           bool            `json:"success"`
	Results           json.RawMessage `json:"results"`
	MoreDataAvailable bool            `json:"moreDataAvailable"`
	NextCursor        string          `json:"nextCursor"`
	Errors            []string        `json:"errors"`
	ErrorInfo         *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errorInfo"`
}

func (r *Response) errorMessage() string {
	var parts []string
	if r.ErrorInfo != nil {
		parts = append(parts, strings.TrimSpace(r.ErrorInfo.Code+" "+r.ErrorInfo.Message))
	}
	parts = append(parts, r.Errors...)
	if len(parts) == 0 {
		return "unknown error"
	}
	return strings.Join(parts, "; ")
}

type Item = map[string]any

// ListItems pages through a cursor-based list endpoint and returns every item.
// Paging stops when the server reports no more data, even if it still sends
// a cursor, and fails after maxPages pages.
func (c *Client) ListItems(ctx context.Context, endpoint string, body map[string]any) ([]Item, error) {
	var items []Item

	req := make(map[string]any, len(body)+2)
	for k, v := range body {
		req[k] = v
	}
	req["limit"] = pageLimit

	for page := 1; ; page++ {
		resp, err := c.post(ctx, endpoint, req)
		if err != nil {
			return nil, err
		}

		var results []Item
		if len(resp.Results) > 0 {
			if err := json.Unmarshal(resp.Results, &results); err != nil {
				return nil, errors.NewExternalError(err, false, fmt.Sprintf("decoding %s results", endpoint))
			}
		}
		items = append(items, results...)

		if !resp.MoreDataAvailable || resp.NextCursor == "" {
			break
		}
		if page >= maxPages {
			return nil, errors.NewExternalError(
				errors.Newf("more than %d pages", maxPages),
				false,
				fmt.Sprintf("paging %s", endpoint),
			)
		}

		c.logger.Debug("additional request needed",
			zap.String("endpoint", endpoint),
			zap.Int("page", page),
			zap.Int("items so far", len(items)),
		)
		req["cursor"] = resp.NextCursor
	}

	return items, nil
}

// postResult calls endpoint and decodes its results into target.
func (c *Client) postResult(ctx context.Context, endpoint string, body any, target any) error {
	resp, err := c.post(ctx, endpoint, body)
	if err != nil {
		return err
	}

	if target == nil || len(resp.Results) == 0 {
		return nil
	}

	if err := json.Unmarshal(resp.Results, target); err != nil {
		return errors.NewExternalError(err, false, fmt.Sprintf("decoding %s results", endpoint))
	}

	return nil
}

// post sends one request. Transport failures, 429 and 5xx are retryable;
// other statuses and unsuccessful envelopes are permanent.
func (c *Client) post(ctx context.Context, endpoint string, body any) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.NewExternalError(err, true, "waiting for rate limiter")
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s request", endpoint)
	}

	url := fmt.Sprintf("%s/%s", strings.TrimRight(c.APIURL, "/"), endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	c.logger.Debug("make request", zap.String("endpoint", endpoint))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.NewExternalError(err, true, fmt.Sprintf("calling %s", endpoint))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewExternalError(err, true, fmt.Sprintf("reading %s response", endpoint))
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		return nil, errors.NewExternalError(
			errors.Newf("bad status: %s: %s", resp.Status, utils.TruncateForLog(string(data), 200)),
			retryable,
			fmt.Sprintf("calling %s", endpoint),
		)
	}

	var envelope Response
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.NewExternalError(err, false, fmt.Sprintf("decoding %s response", endpoint))
	}

	if !envelope.Success {
		return nil, errors.NewExternalError(
			errors.Newf("request failed: %s", envelope.errorMessage()),
			false,
			fmt.Sprintf("calling %s", endpoint),
		)
	}

	return &envelope, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.SetBasicAuth(c.token, "")
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)
	req.Header.Set("User-Agent", c.UserAgent)
}
