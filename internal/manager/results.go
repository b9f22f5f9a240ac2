package manager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"predictd/pkg/types"
)

// resultStore keeps terminal request snapshots queryable after the queue
// has pruned them: a TTL cache for the fast path and, when a directory is
// configured, one JSON file per request so restarts can still answer.
type resultStore struct {
	cache *ttlcache.Cache[string, types.RequestStatus]
	dir   string
	ttl   time.Duration
	log   zerolog.Logger
}

func newResultStore(dir string, ttl time.Duration, log zerolog.Logger) (*resultStore, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create result dir: %w", err)
		}
	}
	cache := ttlcache.New[string, types.RequestStatus](
		ttlcache.WithTTL[string, types.RequestStatus](ttl),
	)
	go cache.Start()
	return &resultStore{cache: cache, dir: dir, ttl: ttl, log: log}, nil
}

func (s *resultStore) stop() { s.cache.Stop() }

func (s *resultStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// put records a terminal snapshot, stamping its expiry.
func (s *resultStore) put(st types.RequestStatus) {
	st.ExpiresAt = time.Now().Add(s.ttl).Format(time.RFC3339Nano)
	s.cache.Set(st.RequestID, st, ttlcache.DefaultTTL)
	if s.dir == "" {
		return
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		s.log.Error().Err(err).Str("request_id", st.RequestID).Msg("encode result snapshot")
		return
	}
	if err := os.WriteFile(s.path(st.RequestID), b, 0o644); err != nil {
		s.log.Error().Err(err).Str("request_id", st.RequestID).Msg("write result snapshot")
	}
}

// get answers from the cache first, then from disk. Expired files are
// removed on the spot.
func (s *resultStore) get(id string) (types.RequestStatus, bool) {
	if item := s.cache.Get(id); item != nil {
		return item.Value(), true
	}
	if s.dir == "" {
		return types.RequestStatus{}, false
	}
	b, err := os.ReadFile(s.path(id))
	if err != nil {
		return types.RequestStatus{}, false
	}
	var st types.RequestStatus
	if err := json.Unmarshal(b, &st); err != nil {
		s.log.Warn().Err(err).Str("request_id", id).Msg("corrupt result snapshot")
		return types.RequestStatus{}, false
	}
	if expired(st.ExpiresAt) {
		_ = os.Remove(s.path(id))
		return types.RequestStatus{}, false
	}
	s.cache.Set(id, st, ttlcache.DefaultTTL)
	return st, true
}

// sweep removes expired snapshot files and returns how many went away.
func (s *resultStore) sweep() int {
	if s.dir == "" {
		return 0
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn().Err(err).Str("dir", s.dir).Msg("result sweep readdir failed")
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		p := filepath.Join(s.dir, e.Name())
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var st types.RequestStatus
		if err := json.Unmarshal(b, &st); err != nil || expired(st.ExpiresAt) {
			if os.Remove(p) == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("pruned expired result snapshots")
	}
	return removed
}

func expired(stamp string) bool {
	if stamp == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return true
	}
	return time.Now().After(t)
}
