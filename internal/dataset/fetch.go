package dataset

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Fetcher downloads training data from a shared link or reads it from disk.
type Fetcher struct {
	rest *resty.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(60 * time.Second)
	}
	r.SetHeader("Accept", "text/csv, application/octet-stream, */*")
	return &Fetcher{rest: r}
}

// DirectLink turns a Dropbox share link (dl=0, preview page) into a direct
// download link (dl=1). Other links are returned unchanged.
func DirectLink(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.RawQuery == "" {
		return link
	}
	q := u.Query()
	if q.Get("dl") != "0" {
		return link
	}
	q.Set("dl", "1")
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch returns the raw bytes behind link. http(s) links are downloaded;
// file:// links and plain paths are read locally.
func (f *Fetcher) Fetch(ctx context.Context, link string) ([]byte, error) {
	if link == "" {
		return nil, fmt.Errorf("dataset link is empty")
	}

	if path, ok := localPath(link); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read dataset: %w", err)
		}
		log.Info().Str("path", path).Int("bytes", len(data)).Msg("dataset loaded from disk")
		return data, nil
	}

	direct := DirectLink(link)
	start := time.Now()
	resp, err := f.rest.R().
		SetContext(ctx).
		Get(direct)
	if err != nil {
		return nil, fmt.Errorf("download dataset: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("download dataset: status %d", resp.StatusCode())
	}

	log.Info().
		Str("url", redact(direct)).
		Int("bytes", len(resp.Body())).
		Dur("took", time.Since(start)).
		Msg("dataset downloaded")
	return resp.Body(), nil
}

func localPath(link string) (string, bool) {
	if strings.HasPrefix(link, "file://") {
		return strings.TrimPrefix(link, "file://"), true
	}
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return "", false
	}
	return link, true
}

// redact drops the query string, which carries share-link keys.
func redact(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	u.RawQuery = ""
	return u.String()
}
