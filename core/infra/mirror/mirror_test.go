package mirror

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/any-listen/any-listen-extension-store/core/extension"
	"github.com/any-listen/any-listen-extension-store/core/i18n"
	"github.com/any-listen/any-listen-extension-store/core/index"
)

func snapshot(ids ...string) *index.Snapshot {
	snap := index.Empty()
	for _, id := range ids {
		rec := &extension.Record{ID: id, Name: "Ext " + id, Version: "1.0.0"}
		snap.List = append(snap.List, rec.Entry())
		snap.Registry[id] = rec
	}
	return snap
}

func newMirror(t *testing.T) (*Mirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

func TestPublish(t *testing.T) {
	m, mr := newMirror(t)
	ctx := context.Background()

	snap := snapshot("alpha", "beta")
	snap.Messages = i18n.Messages{"zh-cn": {"alpha.description": "甲"}}
	gen, err := m.Publish(ctx, snap)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if gen != 1 {
		t.Fatalf("expected generation 1, got %d", gen)
	}

	raw, err := mr.Get(ListKey)
	if err != nil {
		t.Fatalf("get list: %v", err)
	}
	var doc struct {
		All []extension.ListEntry `json:"all"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(doc.All) != 2 || doc.All[0].ID != "alpha" {
		t.Fatalf("unexpected list: %#v", doc.All)
	}
	if !mr.Exists(ExtKey("beta")) || !mr.Exists(I18nKey("zh-cn")) {
		t.Fatalf("expected record and message keys")
	}
	ids, err := mr.Members(IDsKey)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "beta" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if stored, err := mr.Get(GenKey); err != nil || stored != "1" {
		t.Fatalf("unexpected stored generation %q err=%v", stored, err)
	}
}

func TestPublishRemovesStaleKeys(t *testing.T) {
	m, mr := newMirror(t)
	ctx := context.Background()

	first := snapshot("alpha", "beta")
	first.Messages = i18n.Messages{"ja-jp": {"beta.description": "ベータ"}}
	if _, err := m.Publish(ctx, first); err != nil {
		t.Fatalf("publish: %v", err)
	}
	gen, err := m.Publish(ctx, snapshot("alpha"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if mr.Exists(ExtKey("beta")) {
		t.Fatalf("expected removed record to be deleted")
	}
	if mr.Exists(I18nKey("ja-jp")) {
		t.Fatalf("expected removed message table to be deleted")
	}
	members, err := mr.Members(IDsKey)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 || members[0] != "alpha" {
		t.Fatalf("unexpected ids: %v", members)
	}
	if gen != 2 {
		t.Fatalf("expected generation 2, got %d", gen)
	}
}

func TestKeysShareHashSlot(t *testing.T) {
	keys := []string{ListKey, IDsKey, LangsKey, GenKey, ExtKey("alpha"), I18nKey("zh-cn")}
	for _, key := range keys {
		if !strings.HasPrefix(key, "{extstore}:") {
			t.Fatalf("key %q is outside the {extstore} hash tag", key)
		}
	}
}

func TestPublishUnavailable(t *testing.T) {
	var m *Mirror
	if _, err := m.Publish(context.Background(), snapshot("alpha")); err == nil {
		t.Fatalf("expected error for nil mirror")
	}
}
