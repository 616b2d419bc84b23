// Package fetchx provides the default implementation of cache.Fetcher and
// txn.Fetcher: retrieving content over HTTP(S).
//
// No retry/resty/getter library appears anywhere in the retrieval pack
// (see DESIGN.md), so this wraps the standard library's net/http directly
// rather than a corpus-grounded third party dependency.
package fetchx

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/pkg/errors"
)

// HTTPFetcher retrieves URLs with a shared, reusable *http.Client.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher using http.DefaultClient. No client
// timeout is set, so a hung connection ends only when the caller's ctx is
// cancelled.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: http.DefaultClient}
}

func (f *HTTPFetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// Fetch implements cache.Fetcher: returns the response body for url.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "building request for %s", url)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}
	return resp.Body, nil
}

// FetchTo implements txn.Fetcher: downloads url to destPath.
func (f *HTTPFetcher) FetchTo(ctx context.Context, url, destPath string) error {
	body, err := f.Fetch(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return errors.Wrapf(err, "creating %s", destPath)
	}
	defer out.Close()

	if _, err := io.Copy(out, body); err != nil {
		return errors.Wrapf(err, "writing %s", destPath)
	}
	return nil
}
