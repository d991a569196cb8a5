package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/quarry-dev/quarry/internal/config"
)

// FetchDataset downloads the raw dataset to dest, retrying transient
// failures with exponential backoff. The download lands in a temp file
// first so a partial fetch never masquerades as the target.
func FetchDataset(ctx context.Context, cfg config.Pull, dest string) error {
	operation := func() error {
		reqCtx := ctx
		if cfg.TimeoutSec > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSec)*time.Second)
			defer cancel()
		}
		return fetchOnce(reqCtx, cfg.URL, dest)
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(cfg.MaxRetries))
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func fetchOnce(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("fetch %s: status %s", url, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return backoff.Permanent(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
