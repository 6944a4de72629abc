package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"mime"
	"mime/multipart"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memStore is an in-memory Store with hooks for injecting failures.
type memStore struct {
	mu     sync.Mutex
	users  map[string]User
	images map[string]Image

	// createImageFailAt makes the n-th CreateImage call (1-based) fail.
	createImageFailAt int
	createImageCalls  int
	countErr          error
	updatePicErr      error
	deleteErr         error
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[string]User),
		images: make(map[string]Image),
	}
}

var _ Store = (*memStore)(nil)

func (m *memStore) CreateUser(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == user.Username || u.Email == user.Email {
			return ErrDuplicateUser
		}
	}
	m.users[user.ID] = user

	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}

	return u, nil
}

func (m *memStore) GetUserByIdentifier(_ context.Context, identifier string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == identifier || u.Email == identifier {
			return u, nil
		}
	}

	return User{}, ErrNotFound
}

func (m *memStore) FindUserConflict(_ context.Context, username, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}

	return User{}, ErrNotFound
}

func (m *memStore) UpdateUserProfilePic(_ context.Context, id, profilePic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updatePicErr != nil {
		return m.updatePicErr
	}

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.ProfilePic = profilePic
	m.users[id] = u

	return nil
}

func (m *memStore) CreateImage(_ context.Context, img Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createImageCalls++
	if m.createImageFailAt > 0 && m.createImageCalls == m.createImageFailAt {
		return storeError("create image", context.DeadlineExceeded)
	}
	m.images[img.ID] = img

	return nil
}

func (m *memStore) CountUserImages(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.countErr != nil {
		return 0, m.countErr
	}

	n := 0
	for _, img := range m.images {
		if img.UserID == userID {
			n++
		}
	}

	return n, nil
}

func (m *memStore) GetAllUserImages(_ context.Context, userID string) ([]Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []Image
	for _, img := range m.images {
		if img.UserID == userID {
			items = append(items, img)
		}
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})

	return items, nil
}

func (m *memStore) GetUserImage(_ context.Context, id, userID string) (Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	img, ok := m.images[id]
	if !ok || img.UserID != userID {
		return Image{}, ErrNotFound
	}

	return img, nil
}

func (m *memStore) UpdateImage(_ context.Context, img Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.images[img.ID]; !ok {
		return ErrNotFound
	}
	m.images[img.ID] = img

	return nil
}

func (m *memStore) DeleteImageByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}

	if _, ok := m.images[id]; !ok {
		return ErrNotFound
	}
	delete(m.images, id)

	return nil
}

func (m *memStore) Close() error {
	return nil
}

func (m *memStore) imageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.images)
}

// addUser stores a user whose password is "secret-pw".
func (m *memStore) addUser(t *testing.T, username string, premium bool) User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret-pw"), bcrypt.MinCost)
	require.NoError(t, err)

	user := User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		ProfilePic:   DefaultProfilePic,
		IsPremium:    premium,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, m.CreateUser(context.Background(), user))

	return user
}

// addImages stores n images for the user without touching the disk.
func (m *memStore) addImages(t *testing.T, user User, n int) {
	t.Helper()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < n; i++ {
		created := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, m.CreateImage(context.Background(), Image{
			ID:          uuid.NewString(),
			UserID:      user.ID,
			FilePath:    UploadsURLPrefix + uuid.NewString() + ".png",
			Description: "seeded",
			MimeType:    "image/png",
			CreatedAt:   created,
			UpdatedAt:   created,
		}))
	}
	m.createImageCalls = 0
}

func newTestGallery(t *testing.T, limit int) (*Gallery, *memStore, *FileStore) {
	t.Helper()

	files, err := NewFileStore(t.TempDir(), 1<<20)
	require.NoError(t, err)

	db := newMemStore()

	return NewGallery(db, files, NewMetrics(), limit), db, files
}

// exists reports whether the file behind a stored URL path is on disk.
func (s *FileStore) exists(urlPath string) bool {
	p, err := s.diskPath(urlPath)
	if err != nil {
		return false
	}

	_, err = os.Stat(p)
	return err == nil
}

type testFile struct {
	name string
	data []byte
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage()))

	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(), nil))

	return buf.Bytes()
}

func gifBytes(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, testImage(), nil))

	return buf.Bytes()
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: 200, A: 255})
		}
	}

	return img
}

// multipartBody encodes files under field plus any plain form values.
func multipartBody(t *testing.T, field string, files []testFile, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}

	for _, f := range files {
		part, err := mw.CreateFormFile(field, f.name)
		require.NoError(t, err)

		_, err = part.Write(f.data)
		require.NoError(t, err)
	}

	require.NoError(t, mw.Close())

	return body, mw.FormDataContentType()
}

// fileHeaders builds the headers a server would see after parsing files.
func fileHeaders(t *testing.T, files ...testFile) []*multipart.FileHeader {
	t.Helper()

	body, contentType := multipartBody(t, "photos", files, nil)

	_, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)

	form, err := multipart.NewReader(body, params["boundary"]).ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })

	return form.File["photos"]
}
