// Package stemcache memoises separation results in BadgerDB.
//
// Separation is deterministic for a given model and input, so a result can
// be reused whenever the same audio goes through the same model again.
// Records are msgpack-encoded and keyed by the model name plus a SHA-256
// of the input's rate, channel count and samples:
//
//	stems:{model}:{sha256 hex}
//
// Wrap turns any separation.Separator into one that consults the cache
// first.
package stemcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/stemsplit/pkg/audio/pcm"
	"github.com/haivivi/stemsplit/pkg/separation"
)

// ErrMiss is returned by Get when no record exists for a key.
var ErrMiss = errors.New("stemcache: miss")

const keyPrefix = "stems:"

// Options configures Open.
type Options struct {
	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	// TTL expires records after the given duration. Zero keeps them until
	// purged.
	TTL time.Duration

	// Logger receives cache and badger messages. Default is slog.Default().
	Logger *slog.Logger
}

// Cache stores StemSets by input fingerprint.
type Cache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// Open opens or creates the cache.
func Open(opts Options) (*Cache, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("stemcache: Options.Dir is required for on-disk mode")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{logger})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("stemcache: open %s: %w", opts.Dir, err)
	}
	return &Cache{db: db, ttl: opts.TTL, logger: logger}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Key returns the cache key for running in through model.
func Key(model string, in *pcm.Buffer) []byte {
	h := sha256.New()
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(in.SampleRate()))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(in.Channels()))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(in.Frames()))
	h.Write(hdr[:])

	buf := make([]byte, 4*in.Frames())
	for ch := range in.Channels() {
		for i, v := range in.Channel(ch) {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
		}
		h.Write(buf)
	}
	return []byte(keyPrefix + model + ":" + hex.EncodeToString(h.Sum(nil)))
}

// record is the stored form of a StemSet.
type record struct {
	Rate  int          `msgpack:"rate"`
	Stems []stemRecord `msgpack:"stems"`
}

type stemRecord struct {
	Name     string      `msgpack:"name"`
	Channels [][]float32 `msgpack:"channels"`
}

// Get returns the StemSet stored under key, or ErrMiss.
func (c *Cache) Get(_ context.Context, key []byte) (separation.StemSet, error) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("stemcache: get: %w", err)
	}

	var rec record
	if err := msgpack.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("stemcache: decode record: %w", err)
	}
	stems := make(separation.StemSet, len(rec.Stems))
	for _, s := range rec.Stems {
		buf, err := pcm.FromChannels(rec.Rate, s.Channels...)
		if err != nil {
			return nil, fmt.Errorf("stemcache: stem %q: %w", s.Name, err)
		}
		stems[s.Name] = buf
	}
	return stems, nil
}

// Put stores stems under key.
func (c *Cache) Put(_ context.Context, key []byte, stems separation.StemSet) error {
	rec := record{Stems: make([]stemRecord, 0, len(stems))}
	for _, name := range stems.Names() {
		b := stems[name]
		rec.Rate = b.SampleRate()
		chans := make([][]float32, b.Channels())
		for ch := range chans {
			chans[ch] = b.Channel(ch)
		}
		rec.Stems = append(rec.Stems, stemRecord{Name: name, Channels: chans})
	}
	val, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("stemcache: encode record: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, val)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("stemcache: put: %w", err)
	}
	return nil
}

// Delete removes the record under key. Missing keys are not an error.
func (c *Cache) Delete(_ context.Context, key []byte) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("stemcache: delete: %w", err)
	}
	return nil
}

// Purge removes every record of model, or every record when model is
// empty. It returns the number of records removed.
func (c *Cache) Purge(_ context.Context, model string) (int, error) {
	prefix := []byte(keyPrefix)
	if model != "" {
		prefix = []byte(keyPrefix + model + ":")
	}

	var keys [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("stemcache: purge: %w", err)
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("stemcache: purge: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("stemcache: purge: %w", err)
	}
	c.logger.Info("stemcache: purged", "model", model, "records", len(keys))
	return len(keys), nil
}

// badgerLogger routes badger messages to slog. Badger's info and debug
// output is demoted to debug.
type badgerLogger struct{ l *slog.Logger }

func (b badgerLogger) Errorf(f string, v ...any) {
	b.l.Error(fmt.Sprintf("badger: "+f, v...))
}

func (b badgerLogger) Warningf(f string, v ...any) {
	b.l.Warn(fmt.Sprintf("badger: "+f, v...))
}

func (b badgerLogger) Infof(f string, v ...any) {
	b.l.Debug(fmt.Sprintf("badger: "+f, v...))
}

func (b badgerLogger) Debugf(f string, v ...any) {
	b.l.Debug(fmt.Sprintf("badger: "+f, v...))
}
