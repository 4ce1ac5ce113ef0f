// Package mirror publishes a written index into Redis so a host API can
// serve it without reading the data directory.
package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/any-listen/any-listen-extension-store/core/index"
	"github.com/any-listen/any-listen-extension-store/core/infra/logging"
)

// Every key shares the {extstore} hash tag so the publish transaction stays
// in one cluster slot.
const (
	ListKey    = "{extstore}:list"
	IDsKey     = "{extstore}:ids"
	LangsKey   = "{extstore}:langs"
	GenKey     = "{extstore}:generation"
	extPrefix  = "{extstore}:ext:"
	i18nPrefix = "{extstore}:i18n:"
)

// ExtKey is the key holding the registry record of id.
func ExtKey(id string) string { return extPrefix + id }

// I18nKey is the key holding the message table of lang.
func I18nKey(lang string) string { return i18nPrefix + lang }

// Mirror writes index snapshots to Redis.
type Mirror struct {
	client redis.UniversalClient
}

// New returns a Mirror over client. Standalone, sentinel and cluster clients
// are all supported.
func New(client redis.UniversalClient) *Mirror {
	return &Mirror{client: client}
}

// Publish replaces the mirrored index with snap in one transaction and
// returns the new generation. Records and message tables no longer present
// in snap are deleted.
func (m *Mirror) Publish(ctx context.Context, snap *index.Snapshot) (int64, error) {
	if m == nil || m.client == nil {
		return 0, errors.New("mirror unavailable")
	}
	prevIDs, err := m.client.SMembers(ctx, IDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("read mirrored ids: %w", err)
	}
	prevLangs, err := m.client.SMembers(ctx, LangsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("read mirrored langs: %w", err)
	}

	list, err := index.Marshal(map[string]any{"all": snap.List})
	if err != nil {
		return 0, fmt.Errorf("encode list: %w", err)
	}
	records := make(map[string][]byte, len(snap.Registry))
	for id, rec := range snap.Registry {
		data, err := index.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("encode record %s: %w", id, err)
		}
		records[id] = data
	}
	tables := make(map[string][]byte, len(snap.Messages))
	for lang, msgs := range snap.Messages {
		data, err := index.Marshal(msgs)
		if err != nil {
			return 0, fmt.Errorf("encode messages %s: %w", lang, err)
		}
		tables[lang] = data
	}

	var gen *redis.IntCmd
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, ListKey, list, 0)
		pipe.Del(ctx, IDsKey, LangsKey)
		for id, data := range records {
			pipe.Set(ctx, ExtKey(id), data, 0)
			pipe.SAdd(ctx, IDsKey, id)
		}
		for lang, data := range tables {
			pipe.Set(ctx, I18nKey(lang), data, 0)
			pipe.SAdd(ctx, LangsKey, lang)
		}
		for _, id := range prevIDs {
			if _, ok := records[id]; !ok {
				pipe.Del(ctx, ExtKey(id))
			}
		}
		for _, lang := range prevLangs {
			if _, ok := tables[lang]; !ok {
				pipe.Del(ctx, I18nKey(lang))
			}
		}
		gen = pipe.Incr(ctx, GenKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("publish index: %w", err)
	}
	logging.Info("mirror", "index mirrored", "records", len(records), "langs", len(tables), "generation", gen.Val())
	return gen.Val(), nil
}
