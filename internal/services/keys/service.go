// Package keys archives the controller's cryptographic key directory.
package keys

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/dustin/go-humanize"
	"github.com/fgeck/clc-backup/internal/models"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// ErrNoKeyDirectory is returned when the key directory does not exist.
var ErrNoKeyDirectory = errors.New("key directory does not exist")

// Service defines the interface for key archiving.
type Service interface {
	Archive(ctx context.Context, cfg models.KeyArchiveConfig, outputPath string) (*models.KeyArchiveResult, error)
}

// Impl implements the keys Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new keys service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// ParseRecipients parses age X25519 recipients (age1...).
func ParseRecipients(values []string) ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		r, err := age.ParseX25519Recipient(v)
		if err != nil {
			return nil, fmt.Errorf("invalid age recipient %q: %w", v, err)
		}
		recipients = append(recipients, r)
	}
	return recipients, nil
}

// ArchiveFilename returns the archive name for the given timestamp.
func ArchiveFilename(cfg models.KeyArchiveConfig, ts time.Time) string {
	name := fmt.Sprintf("keys-%s.tar.gz", ts.Format("2006-01-02-1504"))
	if len(cfg.AgeRecipients) > 0 {
		name += ".age"
	}
	return name
}

// Archive writes a gzip-compressed tar of cfg.Directory to outputPath,
// encrypted to cfg.AgeRecipients when any are configured.
func (s *Impl) Archive(ctx context.Context, cfg models.KeyArchiveConfig, outputPath string) (*models.KeyArchiveResult, error) {
	info, err := os.Stat(cfg.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoKeyDirectory
		}
		return nil, fmt.Errorf("failed to stat key directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("key path %s is not a directory", cfg.Directory)
	}

	recipients, err := ParseRecipients(cfg.AgeRecipients)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("directory", cfg.Directory).
		Str("output", outputPath).
		Bool("encrypted", len(recipients) > 0).
		Msg("archiving key directory")

	start := time.Now()
	files, err := s.writeArchive(ctx, cfg.Directory, outputPath, recipients)
	if err != nil {
		_ = os.Remove(outputPath)
		return nil, err
	}

	result := &models.KeyArchiveResult{
		OutputPath: outputPath,
		Files:      files,
		Encrypted:  len(recipients) > 0,
		Duration:   time.Since(start),
	}
	if fi, err := os.Stat(outputPath); err == nil {
		result.SizeBytes = fi.Size()
	}

	s.logger.Info().
		Int("files", result.Files).
		Str("size", humanize.Bytes(uint64(result.SizeBytes))). //nolint:gosec // file sizes are non-negative
		Msg("key directory archived")

	return result, nil
}

func (s *Impl) writeArchive(ctx context.Context, dir, outputPath string, recipients []age.Recipient) (int, error) {
	file, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // outputPath is controlled by caller
	if err != nil {
		return 0, fmt.Errorf("failed to create key archive: %w", err)
	}
	defer func() { _ = file.Close() }()

	var w io.WriteCloser = nopCloser{file}
	if len(recipients) > 0 {
		w, err = age.Encrypt(file, recipients...)
		if err != nil {
			return 0, fmt.Errorf("failed age encryption: %w", err)
		}
	}

	gzipWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzipWriter)

	files, err := tarDir(ctx, tarWriter, dir)
	if err != nil {
		return 0, err
	}

	// Close in reverse order so every layer flushes into the next.
	if err := tarWriter.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish tar archive: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish encryption: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("failed to close key archive: %w", err)
	}
	return files, nil
}

// tarDir adds every entry below dir to tw under a "keys/" prefix and
// returns the number of regular files written.
func tarDir(ctx context.Context, tw *tar.Writer, dir string) (int, error) {
	files := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		// handle symlinks
		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("failed to get symlink target of %s: %w", path, err)
			}
		}

		header, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		header.Name = filepath.ToSlash(filepath.Join("keys", rel))
		if info.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path) //nolint:gosec // path comes from walking the key directory
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()

		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", path, err)
		}
		files++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to archive %s: %w", dir, err)
	}
	return files, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
