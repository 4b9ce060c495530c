package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

const defaultCachePrefix = "resized:probe"

// Cached stores probe results in Redis keyed by the file's path, size and
// modification time. Redis failures fall through to the wrapped prober.
type Cached struct {
	next   Prober
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *log.Logger
}

func NewCached(next Prober, client redis.UniversalClient, ttl time.Duration, prefix string, logger *log.Logger) (*Cached, error) {
	if next == nil {
		return nil, errors.New("wrapped prober is required")
	}
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultCachePrefix
	}
	return &Cached{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: prefix,
		logger: logger,
	}, nil
}

func (c *Cached) Describe(ctx context.Context, path string) (ImageProperties, error) {
	key, err := c.key(path)
	if err != nil {
		return c.next.Describe(ctx, path)
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var props ImageProperties
		if jsonErr := json.Unmarshal(raw, &props); jsonErr == nil && props.Width > 0 && props.Height > 0 {
			return props, nil
		}
		c.logf("probe cache entry unreadable key=%s", key)
	case !errors.Is(err, redis.Nil):
		c.logf("probe cache read failed key=%s err=%v", key, err)
	}

	props, err := c.next.Describe(ctx, path)
	if err != nil {
		return ImageProperties{}, err
	}

	body, err := json.Marshal(props)
	if err != nil {
		return props, nil
	}
	if err := c.client.Set(ctx, key, body, c.ttl).Err(); err != nil {
		c.logf("probe cache write failed key=%s err=%v", key, err)
	}
	return props, nil
}

func (c *Cached) key(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	h := xxhash.New()
	_, _ = h.WriteString(path)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.FormatInt(info.Size(), 10))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.FormatInt(info.ModTime().UnixNano(), 10))
	return c.prefix + ":" + strconv.FormatUint(h.Sum64(), 16), nil
}

func (c *Cached) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
