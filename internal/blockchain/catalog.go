package blockchain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Catalog resolves an adapter's wallet lists. A remote catalog, when
// configured, is fetched once and cached for the process lifetime; the
// bundled lists serve as fallback.
type Catalog struct {
	URL     string
	Bundled WalletLists

	once   sync.Once
	cached WalletLists
}

// Load returns the wallet lists, fetching the remote catalog on first use.
func (c *Catalog) Load(ctx context.Context) (WalletLists, error) {
	c.once.Do(func() {
		c.cached = c.Bundled
		if c.URL == "" {
			return
		}
		lists, err := fetchCatalog(ctx, c.URL)
		if err != nil {
			slog.Warn("wallet catalog fetch failed, using bundled lists", "url", c.URL, "error", err)
			return
		}
		c.cached = lists
	})
	return c.cached, nil
}

func fetchCatalog(ctx context.Context, url string) (WalletLists, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return WalletLists{}, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return WalletLists{}, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return WalletLists{}, fmt.Errorf("catalog returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return WalletLists{}, fmt.Errorf("read catalog: %w", err)
	}

	var lists WalletLists
	if err := json.Unmarshal(data, &lists); err != nil {
		return WalletLists{}, fmt.Errorf("parse catalog: %w", err)
	}
	return lists, nil
}
