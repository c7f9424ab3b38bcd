package basemap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"sync"

	"github.com/woozymasta/basemaphist/internal/metrics"

	"github.com/cenkalti/backoff/v3"
	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"
	"golang.org/x/time/rate"
)

type job struct {
	URL   string
	Coord maptile.Tile
}

type result struct {
	Img   image.Image
	Err   error
	Coord maptile.Tile
}

// tileFetcher downloads and decodes tiles.
type tileFetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	redact    func(string) string
	userAgent string
	retries   int
}

// fetchBatch downloads tiles with a pool of workers. Missing tiles (404)
// come back with a nil image. The first failure cancels the remaining work.
func (f *tileFetcher) fetchBatch(ctx context.Context, concurrency int, jobs []job, handle func(result)) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan job, len(jobs))
	results := make(chan result, len(jobs))

	for _, j := range jobs {
		queue <- j
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				if ctx.Err() != nil {
					results <- result{Coord: j.Coord, Err: ctx.Err()}
					continue
				}

				img, err := f.fetch(ctx, j.URL)
				if err != nil {
					cancel()
					err = fmt.Errorf("tile %d/%d/%d: %w", j.Coord.Z, j.Coord.X, j.Coord.Y, err)
				}
				results <- result{Coord: j.Coord, Img: img, Err: err}
			}
		}()
	}
	wg.Wait()
	close(results)

	var firstErr error
	for res := range results {
		if res.Err != nil {
			if firstErr == nil || errors.Is(firstErr, context.Canceled) {
				firstErr = res.Err
			}
			continue
		}
		handle(res)
	}

	return firstErr
}

// fetch downloads one tile, retrying transient failures.
func (f *tileFetcher) fetch(ctx context.Context, url string) (image.Image, error) {
	var img image.Image

	op := func() error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		var err error
		img, err = f.get(ctx, url)
		if err != nil {
			log.Trace().
				Err(err).
				Str("url", f.redact(url)).
				Msg("Tile request failed")
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(f.policy(), ctx)); err != nil {
		f.metrics.Tile(metrics.TileError, 0)
		return nil, err
	}

	return img, nil
}

// policy returns the retry schedule. Zero retries means a single attempt:
// WithMaxRetries treats 0 as unlimited.
func (f *tileFetcher) policy() backoff.BackOff {
	if f.retries <= 0 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(f.retries))
}

func (f *tileFetcher) get(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		log.Trace().Str("url", f.redact(url)).Msg("Tile not found")
		f.metrics.Tile(metrics.TileMissing, 0)
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("status code %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("status code %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode tile: %w", err))
	}

	f.metrics.Tile(metrics.TileOK, len(body))
	return img, nil
}
