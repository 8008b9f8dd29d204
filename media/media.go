// Package media stores uploaded images under content addressed names.
package media

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubengine/domain"
	"github.com/deemkeen/pubengine/storage"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	_ "golang.org/x/image/webp"
)

var (
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrTooLarge         = errors.New("media too large")
)

var allowed = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type Store struct {
	dir      string
	baseUrl  string
	maxBytes int64
	store    storage.Storage
	log      *log.Logger
}

// NewStore keeps files in dir and serves them below baseUrl + "/media/".
func NewStore(dir, baseUrl string, maxBytes int64, store storage.Storage, logger *log.Logger) *Store {
	return &Store{dir: dir, baseUrl: strings.TrimSuffix(baseUrl, "/"), maxBytes: maxBytes, store: store, log: logger}
}

// Save validates r as an image, writes it once per content hash and records
// it for actorId.
func (s *Store) Save(ctx context.Context, actorId string, r io.Reader, description string) (*domain.Media, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}

	mime := mimetype.Detect(data)
	ext, ok := allowed[mime.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mime.String())
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
	}

	sum := blake3.Sum256(data)
	name := hex.EncodeToString(sum[:]) + ext
	if err := s.write(name, data); err != nil {
		return nil, err
	}

	media := &domain.Media{
		Id:      uuid.New(),
		ActorId: actorId,
		Original: domain.MediaFile{
			Path:     name,
			Bytes:    int64(len(data)),
			MimeType: mime.String(),
			Width:    cfg.Width,
			Height:   cfg.Height,
		},
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateMedia(ctx, media); err != nil {
		return nil, fmt.Errorf("record media: %w", err)
	}

	s.log.Info("Stored media", "id", media.Id, "file", name, "mime", mime.String(), "bytes", len(data))
	return media, nil
}

func (s *Store) write(name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write media: %w", err)
	}
	return os.Rename(tmp, path)
}

// Path returns the file for a stored name, rejecting anything that is not
// a plain file name.
func (s *Store) Path(name string) (string, bool) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", false
	}
	return filepath.Join(s.dir, name), true
}

func (s *Store) Url(media *domain.Media) string {
	return s.baseUrl + "/media/" + media.Original.Path
}

// Attachment renders media the way a status carries it.
func (s *Store) Attachment(media *domain.Media) domain.Attachment {
	return domain.Attachment{
		Url:       s.Url(media),
		MediaType: media.Original.MimeType,
		Name:      media.Description,
		Width:     media.Original.Width,
		Height:    media.Original.Height,
	}
}

// Attachments loads ids belonging to actorId. Unknown or foreign ids are an
// error.
func (s *Store) Attachments(ctx context.Context, actorId string, ids []string) ([]domain.Attachment, error) {
	attachments := make([]domain.Attachment, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("media %q: %w", raw, storage.ErrNotFound)
		}
		media, err := s.store.GetMedia(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("media %s: %w", id, err)
		}
		if media.ActorId != actorId {
			return nil, fmt.Errorf("media %s: %w", id, storage.ErrNotFound)
		}
		attachments = append(attachments, s.Attachment(media))
	}
	return attachments, nil
}
