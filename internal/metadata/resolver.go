// Package metadata resolves display titles for governor proposals.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	cacheSize = 512
	// Titles are immutable once a proposal exists; misses are retried sooner.
	cacheTTL = 30 * time.Minute
)

// ErrNotFound is returned when the app API has no such proposal.
var ErrNotFound = errors.New("metadata: proposal not found")

// Resolver fetches proposal titles from the app chain REST API
// (/cosmos/gov/v1/proposals/{id}) and caches them.
type Resolver struct {
	appURL string
	cache  *expirable.LRU[uint64, string]
	misses *expirable.LRU[uint64, struct{}]
	client *http.Client
	log    logrus.FieldLogger
}

// NewResolver returns nil when no app API is configured. A nil Resolver
// falls back to the description.
func NewResolver(appURL string, log logrus.FieldLogger) *Resolver {
	if appURL == "" {
		return nil
	}
	return &Resolver{
		appURL: strings.TrimSuffix(appURL, "/"),
		cache:  expirable.NewLRU[uint64, string](cacheSize, nil, cacheTTL),
		misses: expirable.NewLRU[uint64, struct{}](cacheSize, nil, time.Minute),
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// FallbackTitle is the title used until, or instead of, a remote lookup.
func FallbackTitle(description string) string {
	return firstLine(description)
}

// Title returns a display title for proposal id. Lookup failures fall back to
// the first line of description.
func (r *Resolver) Title(ctx context.Context, id uint64, description string) string {
	fallback := FallbackTitle(description)
	if r == nil {
		return fallback
	}
	if t, ok := r.cache.Get(id); ok {
		return t
	}
	if r.misses.Contains(id) {
		return fallback
	}

	t, err := r.fetch(ctx, id)
	if err != nil {
		r.misses.Add(id, struct{}{})
		r.log.WithField("proposal", id).WithError(err).Debug("title lookup failed")
		return fallback
	}
	if t == "" {
		t = fallback
	}
	r.cache.Add(id, t)
	return t
}

type proposalResp struct {
	Proposal struct {
		Title    string `json:"title"`
		Metadata string `json:"metadata"`
		Summary  string `json:"summary"`
	} `json:"proposal"`
}

func (r *Resolver) fetch(ctx context.Context, id uint64) (string, error) {
	url := fmt.Sprintf("%s/cosmos/gov/v1/proposals/%d", r.appURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", errors.Wrapf(ErrNotFound, "proposal %d", id)
	case resp.StatusCode != http.StatusOK:
		return "", errors.Errorf("GET %s: %s", url, resp.Status)
	}

	var payload proposalResp
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errors.Wrap(err, "decode proposal")
	}
	if t := strings.TrimSpace(payload.Proposal.Title); t != "" {
		return t, nil
	}
	return firstLine(payload.Proposal.Summary), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return strings.TrimLeft(s, "# ")
}
