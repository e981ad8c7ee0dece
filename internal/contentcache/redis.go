package contentcache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

// redisStore keeps each snapshot under entry:<cache>:<key> and maintains a
// member set per named cache plus a master set of cache names so
// CacheNames/DeleteCache stay cheap without SCAN.
type redisStore struct {
	client valkey.Client
}

const (
	redisEntryPrefix = "entry:"
	redisIndexPrefix = "idx:"
	redisCachesKey   = "caches"
)

func NewRedis(cfg RedisConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("contentcache: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("contentcache: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("contentcache: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("contentcache: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("contentcache: redis ping: %w", err)
	}

	return &redisStore{client: client}, nil
}

func entryKey(cache, key string) string { return redisEntryPrefix + cache + ":" + key }
func indexKey(cache string) string      { return redisIndexPrefix + cache }

func (s *redisStore) Match(ctx context.Context, cache, key string) (Entry, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(entryKey(cache, key)).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("contentcache: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("contentcache: redis get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("contentcache: redis unmarshal: %w", err)
	}
	return entry, true, nil
}

func (s *redisStore) Put(ctx context.Context, cache, key string, entry Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("contentcache: redis marshal: %w", err)
	}
	if err := s.client.Do(ctx, s.client.B().Set().Key(entryKey(cache, key)).Value(string(payload)).Build()).Error(); err != nil {
		return fmt.Errorf("contentcache: redis set: %w", err)
	}
	if err := s.client.Do(ctx, s.client.B().Sadd().Key(indexKey(cache)).Member(key).Build()).Error(); err != nil {
		return fmt.Errorf("contentcache: redis index add: %w", err)
	}
	if err := s.client.Do(ctx, s.client.B().Sadd().Key(redisCachesKey).Member(cache).Build()).Error(); err != nil {
		return fmt.Errorf("contentcache: redis caches add: %w", err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, cache, key string) (bool, error) {
	resp := s.client.Do(ctx, s.client.B().Del().Key(entryKey(cache, key)).Build())
	removed, err := resp.ToInt64()
	if err != nil {
		return false, fmt.Errorf("contentcache: redis del: %w", err)
	}
	if err := s.client.Do(ctx, s.client.B().Srem().Key(indexKey(cache)).Member(key).Build()).Error(); err != nil {
		return false, fmt.Errorf("contentcache: redis index remove: %w", err)
	}
	return removed > 0, nil
}

func (s *redisStore) CacheNames(ctx context.Context) ([]string, error) {
	resp := s.client.Do(ctx, s.client.B().Smembers().Key(redisCachesKey).Build())
	names, err := resp.AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("contentcache: redis caches list: %w", err)
	}
	return names, nil
}

func (s *redisStore) DeleteCache(ctx context.Context, name string) (bool, error) {
	resp := s.client.Do(ctx, s.client.B().Smembers().Key(indexKey(name)).Build())
	keys, err := resp.AsStrSlice()
	if err != nil {
		return false, fmt.Errorf("contentcache: redis index list: %w", err)
	}
	for _, key := range keys {
		if err := s.client.Do(ctx, s.client.B().Del().Key(entryKey(name, key)).Build()).Error(); err != nil {
			return false, fmt.Errorf("contentcache: redis del entry: %w", err)
		}
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(indexKey(name)).Build()).Error(); err != nil {
		return false, fmt.Errorf("contentcache: redis del index: %w", err)
	}
	removedResp := s.client.Do(ctx, s.client.B().Srem().Key(redisCachesKey).Member(name).Build())
	removed, err := removedResp.ToInt64()
	if err != nil {
		return false, fmt.Errorf("contentcache: redis caches remove: %w", err)
	}
	return removed > 0, nil
}

func (s *redisStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	names, err := s.CacheNames(ctx)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, name := range names {
		resp := s.client.Do(ctx, s.client.B().Smembers().Key(indexKey(name)).Build())
		keys, err := resp.AsStrSlice()
		if err != nil {
			return purged, fmt.Errorf("contentcache: redis index list: %w", err)
		}
		for _, key := range keys {
			entry, ok, err := s.Match(ctx, name, key)
			if err != nil {
				return purged, err
			}
			if !ok {
				continue
			}
			if entry.StoredAt.Before(cutoff) {
				if _, err := s.Delete(ctx, name, key); err != nil {
					return purged, err
				}
				purged++
			}
		}
	}
	return purged, nil
}

func (s *redisStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
