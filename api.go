package main

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

const (
	multipartMemory = 32 << 20
	formOverhead    = 1 << 20
	requestIDHeader = "X-Request-ID"

	msgUnexpected = "Something went wrong. Please try again."
)

type APIServer struct {
	cfg      *Config
	auth     *AuthService
	gallery  *Gallery
	renderer Renderer
	metrics  *Metrics
	validate *validator.Validate
}

func NewAPIServer(cfg *Config, auth *AuthService, gallery *Gallery, renderer Renderer, metrics *Metrics) *APIServer {
	return &APIServer{
		cfg:      cfg,
		auth:     auth,
		gallery:  gallery,
		renderer: renderer,
		metrics:  metrics,
		validate: newValidator(),
	}
}

type APIFunc func(w http.ResponseWriter, r *http.Request) error

// makeHandler turns handler errors into a flash message and a redirect. No
// error reaches the client as a raw response.
func makeHandler(f APIFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := f(w, r)
		if err == nil {
			return
		}

		var redirectErr *RedirectError
		if errors.As(err, &redirectErr) {
			slog.Warn("Redirecting after a failed request",
				"path", r.URL.Path,
				"to", redirectErr.To,
				"error", err,
			)

			setFlash(w, FlashError, redirectErr.Message)
			http.Redirect(w, r, redirectErr.To, http.StatusSeeOther)

			return
		}

		slog.Error("Unhandled error in handler", "path", r.URL.Path, "error", err)

		if r.URL.Path == "/" {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		setFlash(w, FlashError, msgUnexpected)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (s *APIServer) Routes() http.Handler {
	r := http.NewServeMux()

	s.handle(r, "GET /{$}", makeHandler(s.HandleIndex))
	s.handle(r, "GET /signup", makeHandler(s.HandleIndex))
	s.handle(r, "POST /signup", makeHandler(s.HandleSignup))
	s.handle(r, "POST /login", makeHandler(s.HandleLogin))

	s.handle(r, "GET /gallery", makeHandler(s.authMiddleware(s.HandleGallery)))
	s.handle(r, "GET /upload", makeHandler(s.authMiddleware(s.HandleUploadForm)))
	s.handle(r, "POST /upload", makeHandler(s.authMiddleware(s.HandleUpload)))
	s.handle(r, "GET /profile", makeHandler(s.authMiddleware(s.HandleProfile)))
	s.handle(r, "POST /update-profile", makeHandler(s.authMiddleware(s.HandleUpdateProfile)))
	s.handle(r, "POST /edit-image/{id}", makeHandler(s.authMiddleware(s.HandleEditImage)))
	s.handle(r, "GET /view-image/{id}", makeHandler(s.authMiddleware(s.HandleViewImage)))
	s.handle(r, "POST /delete-image/{id}", makeHandler(s.authMiddleware(s.HandleDeleteImage)))
	s.handle(r, "GET /premium", makeHandler(s.authMiddleware(s.HandlePremium)))
	s.handle(r, "POST /logout", makeHandler(s.authMiddleware(s.HandleLogout)))

	images := http.Dir(filepath.Join(s.cfg.PublicDir, "images"))
	s.handle(r, "GET /images/", http.StripPrefix("/images/", noDirListing(http.FileServer(images))))
	r.Handle("GET /metrics", s.metrics.Handler())

	return s.requestMiddleware(r)
}

// Run serves until ctx is cancelled and then shuts the server down.
func (s *APIServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr(),
		Handler:           s.Routes(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting the server", "listen_addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down the server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func (s *APIServer) HandleIndex(w http.ResponseWriter, r *http.Request) error {
	return s.render(w, r, "index", PageData{})
}

func (s *APIServer) HandleSignup(w http.ResponseWriter, r *http.Request) error {
	req := SignupRequest{
		Username: r.PostFormValue("username"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	if err := s.validate.Struct(req); err != nil {
		return redirectTo("/", validationMessage(err), err)
	}

	if _, err := s.auth.Register(r.Context(), req); err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken):
			return redirectTo("/", "This email is already registered. Please log in.", err)
		case errors.Is(err, ErrUsernameTaken):
			return redirectTo("/", "This username is already taken. Please choose another.", err)
		case errors.Is(err, ErrDuplicateUser):
			return redirectTo("/", "An account with this email or username already exists.", err)
		default:
			return redirectTo("/", "An unexpected error occurred during registration.", err)
		}
	}

	setFlash(w, FlashSuccess, "Registration successful! You can now log in.")
	http.Redirect(w, r, "/", http.StatusSeeOther)

	return nil
}

func (s *APIServer) HandleLogin(w http.ResponseWriter, r *http.Request) error {
	req := LoginRequest{
		Identifier: r.PostFormValue("loginIdentifier"),
		Password:   r.PostFormValue("password"),
	}
	if err := s.validate.Struct(req); err != nil {
		return redirectTo("/", validationMessage(err), err)
	}

	user, token, err := s.auth.Authenticate(r.Context(), req)
	switch {
	case errors.Is(err, ErrNotFound):
		return redirectTo("/", "No account found with this email/username.", err)
	case errors.Is(err, ErrBadCredentials):
		return redirectTo("/", "Incorrect password. Please try again.", err)
	case err != nil:
		return redirectTo("/", "An unexpected error occurred during login.", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.auth.TokenTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	slog.Info("User logged in", "user_id", user.ID)

	setFlash(w, FlashSuccess, "Login successful!")
	http.Redirect(w, r, "/gallery", http.StatusSeeOther)

	return nil
}

func (s *APIServer) HandleLogout(user User, w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	slog.Info("User logged out", "user_id", user.ID)

	setFlash(w, FlashSuccess, "You have been logged out successfully.")
	http.Redirect(w, r, "/", http.StatusSeeOther)

	return nil
}

func (s *APIServer) HandleGallery(user User, w http.ResponseWriter, r *http.Request) error {
	images, err := s.gallery.List(r.Context(), user)
	if err != nil {
		return redirectTo("/", "Could not load photos. Please try again.", err)
	}

	return s.render(w, r, "gallery", PageData{ActivePage: "gallery", Images: images})
}

func (s *APIServer) HandleUploadForm(user User, w http.ResponseWriter, r *http.Request) error {
	return s.render(w, r, "upload", PageData{ActivePage: "upload"})
}

func (s *APIServer) HandleUpload(user User, w http.ResponseWriter, r *http.Request) error {
	limit := int64(s.cfg.MaxUploadFiles)*s.cfg.MaxImageSize + formOverhead
	if err := parseUploadForm(w, r, limit); err != nil {
		return s.uploadFormError("/upload", err)
	}

	req := UploadRequest{Description: r.FormValue("description")}
	if r.MultipartForm != nil {
		req.Files = r.MultipartForm.File["photos"]
	}
	if err := s.validate.Struct(req); err != nil {
		return redirectTo("/upload", validationMessage(err), err)
	}
	if len(req.Files) > s.cfg.MaxUploadFiles {
		return redirectTo("/upload", fmt.Sprintf("You can upload at most %d files at once.", s.cfg.MaxUploadFiles), nil)
	}

	images, err := s.gallery.Upload(r.Context(), user, req)
	if err != nil {
		if msg, ok := fileErrorMessage(err, s.cfg.MaxImageSize); ok {
			return redirectTo("/upload", msg, err)
		}

		switch {
		case errors.Is(err, ErrNoFiles):
			return redirectTo("/gallery", "No files selected!", err)
		case errors.Is(err, ErrQuotaExceeded):
			return redirectTo("/premium", "Free limit reached ! Buy premium to upload more.", err)
		default:
			return redirectTo("/gallery", "Something went wrong while uploading images!", err)
		}
	}

	slog.Info("Uploaded images", "user_id", user.ID, "count", len(images))

	setFlash(w, FlashSuccess, fmt.Sprintf("%d image(s) uploaded successfully!", len(images)))
	http.Redirect(w, r, "/gallery", http.StatusSeeOther)

	return nil
}

func (s *APIServer) HandleProfile(user User, w http.ResponseWriter, r *http.Request) error {
	return s.render(w, r, "profile", PageData{ActivePage: "profile"})
}

func (s *APIServer) HandleUpdateProfile(user User, w http.ResponseWriter, r *http.Request) error {
	if err := parseUploadForm(w, r, s.cfg.MaxImageSize+formOverhead); err != nil {
		return s.uploadFormError("/profile", err)
	}

	_, err := s.gallery.UpdateProfilePicture(r.Context(), user, firstFile(r, "profilepic"))
	if err != nil {
		if msg, ok := fileErrorMessage(err, s.cfg.MaxImageSize); ok {
			return redirectTo("/profile", msg, err)
		}

		switch {
		case errors.Is(err, ErrNoFiles):
			return redirectTo("/profile", "Please choose a picture to upload.", err)
		default:
			return redirectTo("/profile", "Oops!! Server error.", err)
		}
	}

	setFlash(w, FlashSuccess, "Profile Picture updated successfully!")
	http.Redirect(w, r, "/gallery", http.StatusSeeOther)

	return nil
}

func (s *APIServer) HandleEditImage(user User, w http.ResponseWriter, r *http.Request) error {
	id := r.PathValue("id")
	back := "/view-image/" + id

	if err := parseUploadForm(w, r, s.cfg.MaxImageSize+formOverhead); err != nil {
		return s.uploadFormError(back, err)
	}

	description := r.FormValue("newDescription")
	if description == "" {
		description = r.FormValue("description")
	}

	req := EditRequest{
		ImageID:     id,
		Description: description,
		File:        firstFile(r, "imageFile"),
	}
	if err := s.validate.Struct(req); err != nil {
		return redirectTo(back, validationMessage(err), err)
	}

	if _, err := s.gallery.Edit(r.Context(), user, req); err != nil {
		if msg, ok := fileErrorMessage(err, s.cfg.MaxImageSize); ok {
			return redirectTo(back, msg, err)
		}

		switch {
		case errors.Is(err, ErrNotFound):
			return redirectTo("/gallery", "Image not found or permission denied.", err)
		default:
			return redirectTo("/gallery", "Something went wrong while editing the image!", err)
		}
	}

	setFlash(w, FlashSuccess, "Image updated successfully!")
	http.Redirect(w, r, "/gallery", http.StatusSeeOther)

	return nil
}

func (s *APIServer) HandleViewImage(user User, w http.ResponseWriter, r *http.Request) error {
	img, err := s.gallery.Get(r.Context(), user, r.PathValue("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		return redirectTo("/gallery", "Image not found or permission denied.", err)
	case err != nil:
		return redirectTo("/gallery", "Something went wrong while fetching the image!", err)
	}

	return s.render(w, r, "view", PageData{ActivePage: "gallery", Image: &img})
}

func (s *APIServer) HandleDeleteImage(user User, w http.ResponseWriter, r *http.Request) error {
	err := s.gallery.Delete(r.Context(), user, r.PathValue("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		return redirectTo("/gallery", "Image not found or permission denied.", err)
	case err != nil:
		return redirectTo("/gallery", "Something went wrong while deleting the image!", err)
	}

	setFlash(w, FlashSuccess, "Image deleted successfully!")
	http.Redirect(w, r, "/gallery", http.StatusSeeOther)

	return nil
}

func (s *APIServer) HandlePremium(user User, w http.ResponseWriter, r *http.Request) error {
	return s.render(w, r, "premium", PageData{ActivePage: "premium"})
}

func (s *APIServer) render(w http.ResponseWriter, r *http.Request, page string, data PageData) error {
	data.Flash = popFlash(w, r)
	data.FreeLimit = s.cfg.FreeTierLimit
	if user, ok := UserFromContext(r.Context()); ok {
		data.User = &user
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	return s.renderer.Render(w, page, data)
}

func (s *APIServer) uploadFormError(back string, err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return redirectTo(back, "The upload is too large.", err)
	}

	return redirectTo(back, "Could not read the upload. Please try again.", err)
}

type userContextKey struct{}

func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey{}).(User)
	return user, ok
}

type APIAuthFunc func(user User, w http.ResponseWriter, r *http.Request) error

// authMiddleware resolves the token cookie to a user before calling f. f never
// runs for anonymous, expired or orphaned sessions.
func (s *APIServer) authMiddleware(f APIAuthFunc) APIFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		cookie, err := r.Cookie(TokenCookieName)
		if err != nil || cookie.Value == "" {
			return redirectTo("/", "You must be logged in to access this page.", err)
		}

		user, err := s.auth.VerifyToken(r.Context(), cookie.Value)
		switch {
		case errors.Is(err, ErrNotFound):
			return redirectTo("/", "User not found.", err)
		case err != nil:
			return redirectTo("/", "Session expired. Please log in again.", err)
		}

		ctx := context.WithValue(r.Context(), userContextKey{}, user)

		return f(user, w, r.WithContext(ctx))
	}
}

// handle registers h and records per-route request metrics.
func (s *APIServer) handle(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h.ServeHTTP(rec, r)

		s.metrics.RequestCounter.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
		s.metrics.RequestDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
	}))
}

// requestMiddleware tags every request with an id, logs it and converts
// panics into a redirect.
func (s *APIServer) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				slog.Error("Recovered from panic", "request_id", requestID, "panic", p)
				if !rec.wroteHeader {
					setFlash(rec, FlashError, msgUnexpected)
					http.Redirect(rec, r, "/", http.StatusSeeOther)
				}
			}

			slog.Info("Request",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"latency", time.Since(start),
				"client_ip", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	if !rec.wroteHeader {
		rec.status = code
		rec.wroteHeader = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	rec.wroteHeader = true
	return rec.ResponseWriter.Write(b)
}

// parseUploadForm bounds the body and parses a multipart form. Plain
// url-encoded forms are accepted too and simply carry no files.
func parseUploadForm(w http.ResponseWriter, r *http.Request, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	err := r.ParseMultipartForm(multipartMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		return r.ParseForm()
	}
	if err != nil {
		return err
	}

	return nil
}

func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func firstFile(r *http.Request, field string) *multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}

	if files := r.MultipartForm.File[field]; len(files) > 0 {
		return files[0]
	}

	return nil
}

func fileErrorMessage(err error, maxSize int64) (string, bool) {
	switch {
	case errors.Is(err, ErrUnsupportedFileType):
		return "Only image files are allowed! (jpeg, jpg, png, gif, webp)", true
	case errors.Is(err, ErrFileTooLarge):
		return fmt.Sprintf("Each image must be %s or smaller.", humanSize(maxSize)), true
	}

	return "", false
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%d MB", n>>20)
	case n >= 1<<10:
		return fmt.Sprintf("%d KB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
