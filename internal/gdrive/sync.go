// Package gdrive mirrors the daily transcript log into a Google Drive folder.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Source yields the transcript file for the current day.
type Source interface {
	CurrentPath() string
	Open(path string) (io.ReadCloser, error)
}

// files is the part of the Drive API the syncer uses.
type files interface {
	Create(name, folderID string, media io.Reader) (string, error)
	Update(fileID string, media io.Reader) error
}

type driveFiles struct {
	service *drive.Service
}

func (d driveFiles) Create(name, folderID string, media io.Reader) (string, error) {
	doc, err := d.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.document",
		Parents:  []string{folderID},
	}).Media(media).Do()
	if err != nil {
		return "", err
	}
	return doc.Id, nil
}

func (d driveFiles) Update(fileID string, media io.Reader) error {
	_, err := d.service.Files.Update(fileID, &drive.File{}).Media(media).Do()
	return err
}

type Syncer struct {
	files    files
	folderID string
	source   Source
	logger   *slog.Logger

	mu      sync.Mutex
	fileIDs map[string]string
}

func NewSyncer(ctx context.Context, credPath, folderID string, source Source, logger *slog.Logger) (*Syncer, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return newSyncer(driveFiles{service: svc}, folderID, source, logger), nil
}

func newSyncer(f files, folderID string, source Source, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		files:    f,
		folderID: folderID,
		source:   source,
		logger:   logger,
		fileIDs:  make(map[string]string),
	}
}

// Sync uploads the file at localPath as the document for date. The first
// upload for a date creates the document; later ones replace its content.
func (s *Syncer) Sync(localPath, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.source.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if fileID, ok := s.fileIDs[date]; ok {
		if err := s.files.Update(fileID, f); err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		return nil
	}

	id, err := s.files.Create("ghost-puppet-"+date, s.folderID, f)
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}
	s.fileIDs[date] = id
	return nil
}

// SyncCurrent uploads today's transcript. A day without a transcript yet is
// not an error.
func (s *Syncer) SyncCurrent() error {
	path := s.source.CurrentPath()
	date := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	err := s.Sync(path, date)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Run syncs every interval until ctx is done, then makes a final sync.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.SyncCurrent(); err != nil {
				s.logger.Warn("final drive sync failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := s.SyncCurrent(); err != nil {
				s.logger.Warn("drive sync failed", "error", err)
			}
		}
	}
}
