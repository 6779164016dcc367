package jwks

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-bearer-go/keystore"
)

// SharedSource serves documents from a keystore.Store, falling back to an
// upstream Source on a miss and writing the upstream result back. Store
// failures are logged and otherwise ignored: the upstream stays
// authoritative.
type SharedSource struct {
	upstream Source
	store    keystore.Store
	key      string
	ttl      time.Duration
	log      *slog.Logger
}

// NewSharedSource returns a SharedSource storing the document under key for
// ttl. A nil logger discards.
func NewSharedSource(upstream Source, store keystore.Store, key string, ttl time.Duration, log *slog.Logger) *SharedSource {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SharedSource{upstream: upstream, store: store, key: key, ttl: ttl, log: log}
}

// FetchKeySet implements Source. A fresh fetch skips the store read and
// always overwrites the shared copy.
func (s *SharedSource) FetchKeySet(ctx context.Context, fresh bool) ([]byte, error) {
	if !fresh {
		item, err := s.store.Get(ctx, s.key)
		switch {
		case err != nil:
			s.log.WarnContext(ctx, "jwks.shared.get.fail", slog.String("key", s.key), slog.String("err", err.Error()))
		case item != nil:
			if _, perr := Parse(item.Data); perr == nil {
				s.log.DebugContext(ctx, "jwks.shared.hit", slog.String("key", s.key))
				return item.Data, nil
			}
			s.log.WarnContext(ctx, "jwks.shared.corrupt", slog.String("key", s.key))
		}
	}

	data, err := s.upstream.FetchKeySet(ctx, fresh)
	if err != nil {
		return nil, err
	}
	if _, perr := Parse(data); perr != nil {
		// Never poison the shared tier.
		return data, nil
	}
	if err := s.store.Set(ctx, s.key, data, s.ttl); err != nil {
		s.log.WarnContext(ctx, "jwks.shared.set.fail", slog.String("key", s.key), slog.String("err", err.Error()))
	}
	return data, nil
}
