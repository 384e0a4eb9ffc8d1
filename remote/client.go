// Package remote implements pushing and pulling dumps between sitemigrate instances, over HTTP.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joeycumines/logiface"
)

const (
	PathImport = `/v1/import`
	PathExport = `/v1/export`

	ContentTypeSQL = `application/sql`

	DefaultTimeout    = 10 * time.Minute
	DefaultMaxRetries = 5

	// maxErrorBody is the max bytes of a response body included in a StatusError.
	maxErrorBody = 512
)

type (
	// Client pushes dumps to (Send), and pulls dumps from (Receive), a Server. Transient failures (network errors,
	// 408, 429, and 5xx responses) are retried with exponential backoff.
	Client struct {
		// HTTPClient defaults to http.DefaultClient.
		HTTPClient *http.Client
		Logger     *logiface.Logger[logiface.Event]
		// BackOff defaults to an exponential backoff.
		BackOff func() backoff.BackOff
		// BaseURL is the server URL, e.g. "https://example.com/sitemigrate".
		BaseURL string
		// Token is sent as a bearer token.
		Token string
		// Timeout bounds each attempt, and defaults to DefaultTimeout.
		Timeout time.Duration
		// MaxRetries defaults to DefaultMaxRetries if 0. A negative value disables retries.
		MaxRetries int
	}

	// Ack is the response to a successful upload.
	Ack struct {
		// Name is the name of the stored file, on the server.
		Name   string `json:"name"`
		SHA256 string `json:"sha256"`
		Bytes  int64  `json:"bytes"`
	}

	// StatusError indicates an unexpected response status.
	StatusError struct {
		Status     string
		Body       string
		StatusCode int
	}
)

func (x *StatusError) Error() string {
	if x.Body == `` {
		return fmt.Sprintf(`remote: unexpected status: %s`, x.Status)
	}
	return fmt.Sprintf(`remote: unexpected status: %s: %s`, x.Status, x.Body)
}

// Temporary indicates if the request may succeed if retried.
func (x *StatusError) Temporary() bool {
	return x.StatusCode == http.StatusRequestTimeout ||
		x.StatusCode == http.StatusTooManyRequests ||
		x.StatusCode >= 500
}

// Send uploads the dump at name, retrying (from the start of the file) on transient failures.
func (x *Client) Send(ctx context.Context, name string) (*Ack, error) {
	if err := x.validate(); err != nil {
		return nil, err
	}

	info, err := os.Stat(name)
	if err != nil {
		return nil, err
	}

	var ack Ack
	if err := x.retry(ctx, `send`, func(ctx context.Context) error {
		file, err := os.Open(name)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer file.Close()

		req, err := x.newRequest(ctx, http.MethodPost, PathImport, file)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.ContentLength = info.Size()
		req.Header.Set(`Content-Type`, ContentTypeSQL)

		return x.do(req, func(body io.Reader) error {
			ack = Ack{}
			return json.NewDecoder(body).Decode(&ack)
		})
	}); err != nil {
		return nil, err
	}

	if ack.Bytes != info.Size() {
		return nil, fmt.Errorf(`remote: upload of %s incomplete: sent %d bytes, server stored %d`, name, info.Size(), ack.Bytes)
	}

	x.Logger.Info().
		Str(`file`, name).
		Str(`remote_name`, ack.Name).
		Int64(`bytes`, ack.Bytes).
		Log(`sent dump`)

	return &ack, nil
}

// Receive downloads a fresh dump from the server to name, truncating it on each attempt, returning the number
// of bytes written.
func (x *Client) Receive(ctx context.Context, name string) (int64, error) {
	if err := x.validate(); err != nil {
		return 0, err
	}

	var n int64
	if err := x.retry(ctx, `receive`, func(ctx context.Context) error {
		file, err := os.Create(name)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer file.Close()

		req, err := x.newRequest(ctx, http.MethodGet, PathExport, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set(`Accept`, ContentTypeSQL)

		if err := x.do(req, func(body io.Reader) (err error) {
			n, err = io.Copy(file, body)
			return err
		}); err != nil {
			return err
		}

		if err := file.Close(); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}); err != nil {
		return 0, err
	}

	x.Logger.Info().
		Str(`file`, name).
		Int64(`bytes`, n).
		Log(`received dump`)

	return n, nil
}

func (x *Client) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var b backoff.BackOff
	if x.BackOff != nil {
		b = x.BackOff()
	} else {
		b = backoff.NewExponentialBackOff()
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(x.maxRetries())), ctx)

	var attempt int
	return backoff.RetryNotify(
		func() error {
			attempt++
			err := x.attempt(ctx, fn)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if v := (*StatusError)(nil); errors.As(err, &v) && !v.Temporary() {
				return backoff.Permanent(err)
			}
			return err
		},
		b,
		func(err error, d time.Duration) {
			x.Logger.Warning().
				Err(err).
				Str(`op`, op).
				Int(`attempt`, attempt).
				Dur(`retry_in`, d).
				Log(`remote request failed, retrying`)
		},
	)
}

func (x *Client) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, x.timeout())
	defer cancel()
	return fn(ctx)
}

func (x *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(x.BaseURL, `/`)+path, body)
	if err != nil {
		return nil, err
	}
	if x.Token != `` {
		req.Header.Set(`Authorization`, `Bearer `+x.Token)
	}
	return req, nil
}

func (x *Client) do(req *http.Request, fn func(body io.Reader) error) error {
	client := x.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &StatusError{
			Status:     res.Status,
			StatusCode: res.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}

	return fn(res.Body)
}

func (x *Client) validate() error {
	if x == nil {
		return errors.New(`remote: nil client`)
	}
	if x.BaseURL == `` {
		return errors.New(`remote: no base url`)
	}
	return nil
}

func (x *Client) timeout() time.Duration {
	if x.Timeout <= 0 {
		return DefaultTimeout
	}
	return x.Timeout
}

func (x *Client) maxRetries() int {
	if x.MaxRetries == 0 {
		return DefaultMaxRetries
	}
	return max(x.MaxRetries, 0)
}
