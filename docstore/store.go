// Package docstore is the document storage backend. Every collection is held
// in memory and persisted as a single zstd-compressed CBOR snapshot that is
// rewritten in the background whenever something changed.
package docstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const DefaultFlushInterval = 5 * time.Second

type likeKey struct {
	actorId  string
	statusId string
}

type timelineKey struct {
	actorId  string
	statusId string
	timeline domain.Timeline
}

// Store implements storage.Storage. A Store opened with an empty path never
// touches the disk.
type Store struct {
	mu    sync.RWMutex
	dirty bool

	accounts   map[uuid.UUID]domain.Account
	emails     map[string]uuid.UUID
	actors     map[string]domain.Actor
	usernames  map[string]string
	statuses   map[string]domain.Status
	follows    map[uuid.UUID]domain.Follow
	likes      map[likeKey]time.Time
	medias     map[uuid.UUID]domain.Media
	timelines  map[timelineKey]time.Time
	deliveries map[uuid.UUID]domain.DeliveryJob

	path    string
	log     *log.Logger
	flushMu sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

var _ storage.Storage = (*Store)(nil)

func newStore(path string, logger *log.Logger) *Store {
	return &Store{
		accounts:   make(map[uuid.UUID]domain.Account),
		emails:     make(map[string]uuid.UUID),
		actors:     make(map[string]domain.Actor),
		usernames:  make(map[string]string),
		statuses:   make(map[string]domain.Status),
		follows:    make(map[uuid.UUID]domain.Follow),
		likes:      make(map[likeKey]time.Time),
		medias:     make(map[uuid.UUID]domain.Media),
		timelines:  make(map[timelineKey]time.Time),
		deliveries: make(map[uuid.UUID]domain.DeliveryJob),
		path:       path,
		log:        logger,
		done:       make(chan struct{}),
	}
}

// Open loads the snapshot at path, if there is one, and starts the
// background flusher.
func Open(path string, logger *log.Logger) (*Store, error) {
	return OpenWithInterval(path, logger, DefaultFlushInterval)
}

func OpenWithInterval(path string, logger *log.Logger, interval time.Duration) (*Store, error) {
	s := newStore(path, logger)
	if path == "" {
		return s, nil
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", path, err)
	}

	s.wg.Add(1)
	go s.flushLoop(interval)

	logger.Info("Document store ready", "path", path, "statuses", len(s.statuses))
	return s, nil
}

// Close stops the flusher and writes a final snapshot.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.Flush()
	})
	return err
}

func (s *Store) flushLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				s.log.Error("Snapshot failed", "path", s.path, "err", err)
			}
		}
	}
}

// Flush writes the snapshot if anything changed since the last one.
func (s *Store) Flush() error {
	if s.path == "" {
		return nil
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snap := s.snapshotLocked()
	s.dirty = false
	s.mu.Unlock()

	if err := writeSnapshot(s.path, snap); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	s.log.Debug("Snapshot written", "path", s.path)
	return nil
}

func writeSnapshot(path string, snap *snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	if err := cbor.NewEncoder(enc).Encode(snap); err != nil {
		enc.Close()
		f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	var snap snapshot
	if err := cbor.NewDecoder(dec).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	s.restore(&snap)
	return nil
}

// millis drops the precision the snapshot cannot keep, so values read back
// from memory and from disk are identical.
func millis(t time.Time) time.Time {
	return storage.FromMillis(storage.ToMillis(t))
}
