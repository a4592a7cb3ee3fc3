/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Seednode/mapquiz/quiz"
)

const maxDatasetSize int64 = 64 << 20

var errAtlasLoading = errors.New("map data is still loading")

// Atlas is the country dataset, loaded once in the background and shared
// read-only by every game.
type Atlas struct {
	ready    chan struct{}
	resolver *quiz.Resolver
	raw      []byte
	err      error
}

func newAtlas() *Atlas {
	return &Atlas{
		ready: make(chan struct{}),
	}
}

// Resolver returns the loaded index, errAtlasLoading while loading is still
// in progress, or the load failure.
func (a *Atlas) Resolver() (*quiz.Resolver, error) {
	select {
	case <-a.ready:
	default:
		return nil, errAtlasLoading
	}

	return a.resolver, a.err
}

// wait blocks until loading has finished or ctx is done.
func (a *Atlas) wait(ctx context.Context) error {
	select {
	case <-a.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Raw returns the dataset exactly as it was fetched, once loading succeeded.
func (a *Atlas) Raw() ([]byte, bool) {
	select {
	case <-a.ready:
	default:
		return nil, false
	}

	return a.raw, a.err == nil
}

func (a *Atlas) load(ctx context.Context, cfg *Config) {
	defer close(a.ready)

	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, cfg.datasetTimeout)
	defer cancel()

	data, err := fetchDataset(ctx, cfg.dataset)
	if err != nil {
		a.fail(cfg, err)

		return
	}

	features, err := quiz.ParseFeatures(data)
	if err != nil {
		a.fail(cfg, err)

		return
	}

	resolver := quiz.NewResolver()

	err = resolver.Load(features, quiz.DefaultAliases, quiz.DefaultExcluded)
	switch {
	case errors.Is(err, quiz.ErrNoEntities):
		a.fail(cfg, err)

		return
	case err != nil:
		logf(cfg, "ATLAS: Loaded with problems: %v", err)
	}

	a.resolver = resolver
	a.raw = data

	logf(cfg, "ATLAS: Loaded %d countries (%s) from %s in %s",
		resolver.Len(),
		humanReadableSize(int64(len(data))),
		cfg.dataset,
		time.Since(startTime).Round(time.Microsecond),
	)
}

func (a *Atlas) fail(cfg *Config, err error) {
	a.err = fmt.Errorf("error loading map data: %w", err)

	fmt.Printf("%s | ERROR: %v\n", time.Now().Format(logDate), a.err)
	logf(cfg, "ATLAS: Games cannot be started until the server is restarted")
}

func fetchDataset(ctx context.Context, source string) ([]byte, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		return os.ReadFile(source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status fetching %s: %s", source, resp.Status)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxDatasetSize))
}
