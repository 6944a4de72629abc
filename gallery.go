package main

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

type Gallery struct {
	db            Store
	files         *FileStore
	metrics       *Metrics
	freeTierLimit int
	now           func() time.Time
}

func NewGallery(db Store, files *FileStore, metrics *Metrics, freeTierLimit int) *Gallery {
	return &Gallery{
		db:            db,
		files:         files,
		metrics:       metrics,
		freeTierLimit: freeTierLimit,
		now:           time.Now,
	}
}

func (g *Gallery) List(ctx context.Context, user User) ([]Image, error) {
	return g.db.GetAllUserImages(ctx, user.ID)
}

// Get returns an image owned by the user. Foreign and unknown ids both yield
// ErrNotFound.
func (g *Gallery) Get(ctx context.Context, user User, id string) (Image, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Image{}, ErrNotFound
	}

	return g.db.GetUserImage(ctx, id, user.ID)
}

// Upload writes every file, checks the free tier quota for the whole batch and
// then records one image per file. A rejected batch leaves no files behind.
// Records saved before a failing insert are kept.
func (g *Gallery) Upload(ctx context.Context, user User, req UploadRequest) ([]Image, error) {
	if len(req.Files) == 0 {
		return nil, ErrNoFiles
	}

	stored, err := g.saveAll(req.Files)
	if err != nil {
		return nil, err
	}

	count, err := g.db.CountUserImages(ctx, user.ID)
	if err != nil {
		g.files.RemoveAll(stored)
		return nil, err
	}

	if !user.IsPremium && count+len(stored) > g.freeTierLimit {
		g.files.RemoveAll(stored)
		g.metrics.QuotaRejections.Inc()
		slog.Info("Upload rejected by quota",
			"user_id", user.ID,
			"existing", count,
			"requested", len(stored),
			"limit", g.freeTierLimit,
		)
		return nil, ErrQuotaExceeded
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = DefaultDescription
	}

	images := make([]Image, 0, len(stored))
	for _, f := range stored {
		now := g.now().UTC()
		img := Image{
			ID:               uuid.NewString(),
			UserID:           user.ID,
			FilePath:         f.URLPath,
			Description:      description,
			MimeType:         f.MimeType,
			OriginalFilename: f.OriginalFilename,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if err := g.db.CreateImage(ctx, img); err != nil {
			return images, err
		}

		g.metrics.ImagesUploaded.Inc()
		images = append(images, img)
	}

	return images, nil
}

// Edit overwrites the description when one is given and swaps the backing
// file when a replacement is uploaded.
func (g *Gallery) Edit(ctx context.Context, user User, req EditRequest) (Image, error) {
	img, err := g.Get(ctx, user, req.ImageID)
	if err != nil {
		return Image{}, err
	}

	if description := strings.TrimSpace(req.Description); description != "" {
		img.Description = description
	}

	if req.File != nil {
		stored, err := g.save(req.File)
		if err != nil {
			return Image{}, err
		}

		if err := g.files.Remove(img.FilePath); err != nil {
			slog.Error("Failed to remove the replaced file", "path", img.FilePath, "error", err)
		}

		img.FilePath = stored.URLPath
		img.MimeType = stored.MimeType
		img.OriginalFilename = stored.OriginalFilename
	}

	img.UpdatedAt = g.now().UTC()
	if err := g.db.UpdateImage(ctx, img); err != nil {
		return Image{}, err
	}

	return img, nil
}

// Delete removes the backing file and then the record. The two steps are not
// atomic.
func (g *Gallery) Delete(ctx context.Context, user User, id string) error {
	img, err := g.Get(ctx, user, id)
	if err != nil {
		return err
	}

	if err := g.files.Remove(img.FilePath); err != nil {
		return err
	}

	if err := g.db.DeleteImageByID(ctx, img.ID); err != nil {
		return err
	}

	g.metrics.ImagesDeleted.Inc()

	return nil
}

// UpdateProfilePicture stores a new picture and points the user at it. The
// previous picture stays on disk.
func (g *Gallery) UpdateProfilePicture(ctx context.Context, user User, fh *multipart.FileHeader) (User, error) {
	if fh == nil {
		return User{}, ErrNoFiles
	}

	stored, err := g.save(fh)
	if err != nil {
		return User{}, err
	}

	if err := g.db.UpdateUserProfilePic(ctx, user.ID, stored.Name); err != nil {
		g.files.RemoveAll([]StoredFile{stored})
		return User{}, err
	}

	user.ProfilePic = stored.Name

	return user, nil
}

func (g *Gallery) saveAll(files []*multipart.FileHeader) ([]StoredFile, error) {
	stored := make([]StoredFile, 0, len(files))
	for _, fh := range files {
		f, err := g.save(fh)
		if err != nil {
			g.files.RemoveAll(stored)
			return nil, err
		}

		stored = append(stored, f)
	}

	return stored, nil
}

func (g *Gallery) save(fh *multipart.FileHeader) (StoredFile, error) {
	f, err := g.files.Save(fh)
	if err != nil {
		g.metrics.RejectedUploads.WithLabelValues(rejectReason(err)).Inc()
		return StoredFile{}, fmt.Errorf("save %q: %w", fh.Filename, err)
	}

	return f, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedFileType):
		return "unsupported_type"
	case errors.Is(err, ErrFileTooLarge):
		return "too_large"
	default:
		return "filesystem"
	}
}
