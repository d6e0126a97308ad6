package dictionary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	repoOwner = "scriptin"
	repoName  = "jmdict-simplified"
	userAgent = "jmdictdb-cli"

	// DefaultMaxRedirects bounds the redirect chain followed by Fetch.
	DefaultMaxRedirects = 10
)

// Fetcher downloads a remote artifact to a local file.
type Fetcher struct {
	Client       *http.Client
	MaxRedirects int
	// Retries is the number of extra attempts after a TransportFault.
	Retries int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	Logger  *slog.Logger
}

// NewFetcher returns a Fetcher with a client that never follows redirects on
// its own, so Fetch can validate each hop.
func NewFetcher() *Fetcher {
	return &Fetcher{
		Client:       &http.Client{CheckRedirect: noRedirects},
		MaxRedirects: DefaultMaxRedirects,
		Backoff:      time.Second,
	}
}

func noRedirects(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.Logger
}

// Fetch downloads sourceURL into dest. The body is written to dest+".part"
// and renamed over dest only once fully written, so dest never holds a
// partial download. Transport faults are retried up to f.Retries times.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL, dest string) error {
	delay := f.Backoff
	for attempt := 0; ; attempt++ {
		err := f.fetchOnce(ctx, sourceURL, dest)
		var fe *FetchError
		if err == nil || !errors.As(err, &fe) || fe.Kind != TransportFault || attempt >= f.Retries {
			return err
		}
		f.logger().Warn("download failed, retrying", "url", sourceURL, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, sourceURL, dest string) error {
	client := f.Client
	if client == nil {
		client = &http.Client{CheckRedirect: noRedirects}
	} else if client.CheckRedirect == nil {
		c := *client
		c.CheckRedirect = noRedirects
		client = &c
	}
	maxRedirects := f.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}

	current := sourceURL
	var chain []string
	for {
		resp, err := get(ctx, client, current)
		if err != nil {
			return &FetchError{Kind: TransportFault, URL: current, Chain: chain, Err: err}
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			drain(resp)
			if location == "" {
				return &FetchError{Kind: MissingRedirectTarget, URL: current, Status: resp.StatusCode, Chain: chain}
			}
			next, err := resolveLocation(current, location)
			if err != nil {
				return &FetchError{Kind: MissingRedirectTarget, URL: current, Status: resp.StatusCode, Chain: chain, Err: err}
			}
			chain = append(chain, next)
			if len(chain) > maxRedirects {
				return &FetchError{Kind: TooManyRedirects, URL: sourceURL, Chain: chain}
			}
			f.logger().Debug("following redirect", "from", current, "to", next, "status", resp.StatusCode)
			current = next
			continue
		}

		if resp.StatusCode != http.StatusOK {
			drain(resp)
			return &FetchError{Kind: BadStatus, URL: current, Status: resp.StatusCode, Chain: chain}
		}

		err = writeAtomic(dest, resp.Body)
		resp.Body.Close()
		if err != nil {
			return &FetchError{Kind: TransportFault, URL: current, Chain: chain, Err: err}
		}
		f.logger().Info("download complete", "url", current, "dest", dest, "redirects", len(chain))
		return nil
	}
}

func get(ctx context.Context, client *http.Client, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return client.Do(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()
}

func resolveLocation(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	l, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("bad Location header %q: %w", location, err)
	}
	return b.ResolveReference(l).String(), nil
}

// writeAtomic copies r into dest via a sibling temp file.
func writeAtomic(dest string, r io.Reader) error {
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	_, err = io.Copy(out, r)
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dest)
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}

// LatestReleaseURL asks the GitHub API for the newest jmdict-simplified
// release and returns the download URL of the first asset whose name
// contains pattern and ends in a supported archive suffix.
func LatestReleaseURL(ctx context.Context, client *http.Client, pattern string) (string, error) {
	apiURL := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", repoOwner, repoName)
	return latestReleaseURL(ctx, client, apiURL, pattern)
}

func latestReleaseURL(ctx context.Context, client *http.Client, apiURL, pattern string) (string, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := get(ctx, client, apiURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("github api returned status: %s", resp.Status)
	}

	var release struct {
		TagName string `json:"tag_name"`
		Assets  []struct {
			Name               string `json:"name"`
			BrowserDownloadURL string `json:"browser_download_url"`
		} `json:"assets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", fmt.Errorf("decode release: %w", err)
	}

	for _, asset := range release.Assets {
		if strings.Contains(asset.Name, pattern) && ExtractorFor(asset.Name) != nil {
			return asset.BrowserDownloadURL, nil
		}
	}
	return "", fmt.Errorf("no asset matching %q in release %s", pattern, release.TagName)
}
