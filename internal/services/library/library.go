package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/eric2788/shortrec/internal/modules/config"
	"github.com/eric2788/shortrec/internal/services/path"
	"github.com/eric2788/shortrec/pkg/db"
	"github.com/eric2788/shortrec/pkg/pool"
	"github.com/eric2788/shortrec/pkg/signeddownload"
	"github.com/eric2788/shortrec/utils"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
)

const (
	libraryBucket = "library"
	defaultTTL    = 10 * time.Minute

	copyBufferSize   = 64 * 1024
	writerBufferSize = 256 * 1024
)

var logger = logrus.WithField("service", "library")

var ErrEntryNotFound = fmt.Errorf("library entry not found")
var ErrAlreadyPersisting = fmt.Errorf("file is already being persisted")

type Entry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SourcePath string    `json:"source_path"`
	Path       string    `json:"-"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
}

// Service is the media library recordings are persisted into.
type Service struct {
	cfg   *config.Config
	paths *path.Service

	client   *db.Client
	bucket   *db.Bucket
	cache    *ttlcache.Cache[string, *Entry]
	inflight *xsync.Map[string, time.Time]
	signer   *signeddownload.Client
	copyPool *pool.BytesPool
}

func newService(cfg *config.Config, paths *path.Service) *Service {
	return &Service{
		cfg:   cfg,
		paths: paths,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, *Entry](defaultTTL),
			ttlcache.WithCapacity[string, *Entry](100),
		),
		inflight: xsync.NewMap[string, time.Time](),
		signer:   signeddownload.NewClient([]byte(cfg.JwtSecret)),
		copyPool: pool.NewBytesPool(copyBufferSize),
	}
}

// Open creates the library directory and opens its index.
func Open(cfg *config.Config, paths *path.Service) (*Service, error) {
	s := newService(cfg, paths)
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func NewService(lc fx.Lifecycle, cfg *config.Config, paths *path.Service) *Service {
	s := newService(cfg, paths)
	lc.Append(fx.StartStopHook(s.open, s.Close))
	return s
}

func (s *Service) open() error {
	if err := s.paths.EnsureDirs(); err != nil {
		return err
	}
	client, err := db.Open(filepath.Join(s.cfg.DatabaseDir, "library.db"))
	if err != nil {
		return err
	}
	bucket, err := client.Bucket(libraryBucket)
	if err != nil {
		_ = client.Close()
		return err
	}
	s.client = client
	s.bucket = bucket
	go s.cache.Start()
	return nil
}

func (s *Service) Close() error {
	s.cache.Stop()
	s.cache.DeleteAll()
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Persist copies the finished recording at src into the library and indexes it.
// src itself is left in place.
func (s *Service) Persist(ctx context.Context, src string) (*Entry, error) {
	if _, loaded := s.inflight.LoadOrStore(src, time.Now()); loaded {
		return nil, ErrAlreadyPersisting
	}
	defer s.inflight.Delete(src)

	info, err := os.Stat(src)
	if err != nil {
		return nil, errors.Wrap(err, "stat recording")
	}

	now := time.Now()
	entry := &Entry{
		ID:         utils.RandomHexStringMust(8),
		Name:       fmt.Sprintf("%d-%s", now.UnixMilli(), filepath.Base(src)),
		SourcePath: src,
		Size:       info.Size(),
		CreatedAt:  now,
	}
	dst, err := s.paths.LibraryPath(entry.Name)
	if err != nil {
		return nil, err
	}
	entry.Path = dst

	f, err := os.Open(src)
	if err != nil {
		return nil, errors.Wrap(err, "open recording")
	}
	written, err := pool.NewFileStreamWriter(ctx, s.copyPool).WriteToFile(f, dst, writerBufferSize)
	if err != nil {
		return nil, errors.Wrapf(err, "copy recording to %s", dst)
	}
	entry.Size = written

	if err := s.bucket.PutObject(entry.ID, entry); err != nil {
		_ = os.Remove(dst)
		return nil, errors.Wrap(err, "index recording")
	}
	s.cache.Set(entry.ID, entry, ttlcache.DefaultTTL)

	logger.WithField("file", src).Infof("persisted as %s (%d bytes)", entry.Name, entry.Size)
	return entry, nil
}

// Persisting reports the recordings currently being copied and since when.
func (s *Service) Persisting() map[string]time.Time {
	out := make(map[string]time.Time)
	s.inflight.Range(func(key string, value time.Time) bool {
		out[key] = value
		return true
	})
	return out
}

func (s *Service) Get(id string) (*Entry, error) {
	if item := s.cache.Get(id); item != nil {
		return item.Value(), nil
	}
	var entry Entry
	found, err := s.bucket.GetObject(id, &entry)
	if err != nil {
		return nil, err
	} else if !found {
		return nil, ErrEntryNotFound
	}
	s.cache.Set(id, &entry, ttlcache.DefaultTTL)
	return &entry, nil
}

// List returns every entry, newest first.
func (s *Service) List() ([]*Entry, error) {
	entries := make([]*Entry, 0)
	err := db.ForEachObject(s.bucket, func(_ string, e *Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b *Entry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return entries, nil
}

func (s *Service) Delete(id string) error {
	entry, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", entry.Path)
	}
	if err := s.bucket.Delete([]byte(id)); err != nil {
		return err
	}
	s.cache.Delete(id)
	logger.Infof("deleted %s", entry.Name)
	return nil
}

func (s *Service) Count() (int, error) {
	return s.bucket.Count()
}

func (s *Service) OpenFile(entry *Entry) (*os.File, error) {
	return os.Open(entry.Path)
}

func (s *Service) DownloadToken(id string, expireAfter time.Duration) (string, error) {
	if _, err := s.Get(id); err != nil {
		return "", err
	}
	return s.signer.GenerateDownloadToken(id, expireAfter)
}

func (s *Service) ResolveToken(token string) (*Entry, error) {
	claims, err := s.signer.ParseDownloadToken(token)
	if err != nil {
		return nil, err
	}
	return s.Get(claims.EntryID)
}
