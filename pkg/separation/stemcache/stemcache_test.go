package stemcache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/haivivi/stemsplit/pkg/audio/pcm"
	"github.com/haivivi/stemsplit/pkg/separation"
	"github.com/haivivi/stemsplit/pkg/separation/inference/mock"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(Options{InMemory: true, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func ramp(channels, frames, rate int) *pcm.Buffer {
	b := pcm.NewBuffer(channels, frames, rate)
	for ch := range channels {
		for i := range b.Channel(ch) {
			b.Channel(ch)[i] = float32(i%100)/100 - float32(ch)*0.1
		}
	}
	return b
}

func newModelSeparator(t *testing.T) (*separation.ModelSeparator, *mock.Model) {
	t.Helper()
	m := mock.PerStem(2, 256, "vocals", "accompaniment")
	b := mock.NewBackend()
	b.Register("m.onnx", m)
	s := separation.New(b, "m.onnx", separation.Profile{Overlap: 0.25}, separation.WithLogger(quietLogger()))
	t.Cleanup(func() { s.Close() })
	return s, m
}

func TestKey(t *testing.T) {
	a := ramp(2, 1000, 44100)
	if !bytes.Equal(Key("m", a), Key("m", a.Clone())) {
		t.Error("equal inputs produce different keys")
	}
	if !bytes.HasPrefix(Key("m", a), []byte("stems:m:")) {
		t.Errorf("Key = %q", Key("m", a))
	}

	b := a.Clone()
	b.Channel(1)[999] += 1e-6
	for name, other := range map[string][]byte{
		"model":   Key("n", a),
		"sample":  Key("m", b),
		"rate":    Key("m", a.WithSampleRate(48000)),
		"frames":  Key("m", a.Fit(999)),
		"channel": Key("m", a.Remix(1)),
	} {
		if bytes.Equal(Key("m", a), other) {
			t.Errorf("%s change did not change the key", name)
		}
	}
}

func TestPutGet(t *testing.T) {
	c := openCache(t)
	ctx := context.Background()
	key := []byte("stems:test:1")

	if _, err := c.Get(ctx, key); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get on empty cache error = %v, want ErrMiss", err)
	}

	want := separation.StemSet{"a": ramp(2, 64, 8000), "b": ramp(2, 64, 8000)}
	if err := c.Put(ctx, key, want); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	got, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !slices.Equal(got.Names(), want.Names()) {
		t.Fatalf("names = %v, want %v", got.Names(), want.Names())
	}
	for name, b := range want {
		g := got[name]
		if g.SampleRate() != 8000 || g.Channels() != 2 {
			t.Errorf("%s shape = (%d Hz, %d ch)", name, g.SampleRate(), g.Channels())
		}
		for ch := range b.Channels() {
			if !slices.Equal(g.Channel(ch), b.Channel(ch)) {
				t.Errorf("%s channel %d differs", name, ch)
			}
		}
	}

	if err := c.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, key); !errors.Is(err, ErrMiss) {
		t.Errorf("Get after Delete error = %v, want ErrMiss", err)
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Errorf("Delete of missing key error = %v", err)
	}
}

func TestGetCorrupt(t *testing.T) {
	c := openCache(t)
	key := []byte("stems:test:bad")
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, []byte{0xc1, 0x00})
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), key); err == nil || errors.Is(err, ErrMiss) {
		t.Errorf("Get of corrupt record error = %v, want decode error", err)
	}
}

func TestPurge(t *testing.T) {
	c := openCache(t)
	ctx := context.Background()
	stems := separation.StemSet{"a": ramp(1, 8, 8000)}
	for _, k := range []string{"stems:x:1", "stems:x:2", "stems:xy:1", "stems:y:1"} {
		if err := c.Put(ctx, []byte(k), stems); err != nil {
			t.Fatal(err)
		}
	}

	n, err := c.Purge(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Purge(x) = %d, want 2", n)
	}
	if _, err := c.Get(ctx, []byte("stems:xy:1")); err != nil {
		t.Errorf("Purge(x) removed stems:xy:1: %v", err)
	}

	n, err = c.Purge(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Purge(all) = %d, want 2", n)
	}
}

func TestTTL(t *testing.T) {
	c, err := Open(Options{InMemory: true, TTL: time.Hour, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	key := []byte("stems:ttl:1")
	if err := c.Put(context.Background(), key, separation.StemSet{"a": ramp(1, 4, 8000)}); err != nil {
		t.Fatal(err)
	}
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		if item.ExpiresAt() == 0 {
			t.Error("record has no expiry")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpenRequiresDir(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Error("expected error without Dir")
	}
}

func TestWrapHitSkipsInference(t *testing.T) {
	sep, m := newModelSeparator(t)
	s := Wrap(sep, openCache(t), "test")
	ctx := context.Background()
	in := ramp(2, 2000, 44100)

	first, err := s.Process(ctx, in)
	if err != nil {
		t.Fatalf("first Process error: %v", err)
	}
	calls := m.Calls()
	if calls == 0 {
		t.Fatal("first Process ran no inference")
	}

	second, err := s.Process(ctx, in)
	if err != nil {
		t.Fatalf("second Process error: %v", err)
	}
	if m.Calls() != calls {
		t.Errorf("cache hit ran %d more inference calls", m.Calls()-calls)
	}
	for name, b := range first {
		for ch := range b.Channels() {
			if !slices.Equal(second[name].Channel(ch), b.Channel(ch)) {
				t.Fatalf("cached %s differs", name)
			}
		}
	}

	other := ramp(2, 2001, 44100)
	if _, err := s.Process(ctx, other); err != nil {
		t.Fatal(err)
	}
	if m.Calls() == calls {
		t.Error("different input served from cache")
	}
}

func TestWrapNotReady(t *testing.T) {
	sep := separation.New(mock.NewBackend(), "missing.onnx", separation.Profile{}, separation.WithLogger(quietLogger()))
	s := Wrap(sep, openCache(t), "missing")
	if s.Ready() {
		t.Fatal("Ready() = true")
	}
	if _, err := s.Process(context.Background(), ramp(1, 10, 8000)); !errors.Is(err, separation.ErrNotReady) {
		t.Errorf("Process error = %v, want ErrNotReady", err)
	}
}

func TestWrapStaleRecord(t *testing.T) {
	sep, m := newModelSeparator(t)
	c := openCache(t)
	s := Wrap(sep, c, "test")
	ctx := context.Background()
	in := ramp(2, 500, 44100)

	// A record with the wrong stem names is ignored and replaced.
	if err := c.Put(ctx, Key("test", in), separation.StemSet{"drums": ramp(2, 500, 44100)}); err != nil {
		t.Fatal(err)
	}
	stems, err := s.Process(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if m.Calls() == 0 {
		t.Error("stale record served without inference")
	}
	if !slices.Equal(stems.Names(), []string{"accompaniment", "vocals"}) {
		t.Errorf("names = %v", stems.Names())
	}
	cached, err := c.Get(ctx, Key("test", in))
	if err != nil || !slices.Equal(cached.Names(), stems.Names()) {
		t.Errorf("stale record not replaced: %v, %v", cached.Names(), err)
	}
}

func TestWrapInferFailureNotCached(t *testing.T) {
	sep, m := newModelSeparator(t)
	m.InferErr = mock.ErrInjected
	c := openCache(t)
	s := Wrap(sep, c, "test")
	in := ramp(2, 500, 44100)

	if _, err := s.Process(context.Background(), in); !errors.Is(err, mock.ErrInjected) {
		t.Fatalf("Process error = %v, want ErrInjected", err)
	}
	if _, err := c.Get(context.Background(), Key("test", in)); !errors.Is(err, ErrMiss) {
		t.Errorf("failed result was cached: %v", err)
	}
}
