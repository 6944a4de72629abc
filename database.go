package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "embed"

	"github.com/lib/pq"
	"golang.org/x/exp/slog"
)

//go:embed schema.sql
var schema string

// Store is the persistence boundary for users and their images. Lookups that
// find nothing return ErrNotFound, unique violations return ErrDuplicateUser
// and every other backend failure wraps ErrUnexpectedStore.
type Store interface {
	CreateUser(ctx context.Context, user User) error
	GetUserByID(ctx context.Context, id string) (User, error)
	// GetUserByIdentifier matches the identifier against username or email.
	GetUserByIdentifier(ctx context.Context, identifier string) (User, error)
	// FindUserConflict returns any user holding the username or the email.
	FindUserConflict(ctx context.Context, username, email string) (User, error)
	UpdateUserProfilePic(ctx context.Context, id, profilePic string) error

	CreateImage(ctx context.Context, image Image) error
	CountUserImages(ctx context.Context, userID string) (int, error)
	// GetAllUserImages returns the user's images, newest first.
	GetAllUserImages(ctx context.Context, userID string) ([]Image, error)
	// GetUserImage only finds images owned by userID.
	GetUserImage(ctx context.Context, id, userID string) (Image, error)
	UpdateImage(ctx context.Context, image Image) error
	DeleteImageByID(ctx context.Context, id string) error

	Close() error
}

// OpenStore connects the backend selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case DriverMongo:
		return NewMongoDatabase(ctx, cfg)
	default:
		return NewPostgreSQLDatabase(ctx, cfg)
	}
}

const uniqueViolation = "23505"

const (
	createUserQuery = `
	INSERT INTO users (id, username, email, password_hash, profile_pic, is_premium, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	userColumns = `id, username, email, password_hash, profile_pic, is_premium, created_at`

	getUserByIDQuery = `
	SELECT ` + userColumns + `
	FROM users
	WHERE id = $1
	`
	getUserByIdentifierQuery = `
	SELECT ` + userColumns + `
	FROM users
	WHERE username = $1 OR email = $1
	LIMIT 1
	`
	findUserConflictQuery = `
	SELECT ` + userColumns + `
	FROM users
	WHERE username = $1 OR email = $2
	LIMIT 1
	`
	updateUserProfilePicQuery = `
	UPDATE users
	SET profile_pic = $2
	WHERE id = $1
	`

	createImageQuery = `
	INSERT INTO images (id, user_id, file_path, description, mime_type, original_filename, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	imageColumns = `id, user_id, file_path, description, mime_type, original_filename, created_at, updated_at`

	countUserImagesQuery = `
	SELECT COUNT(*)
	FROM images
	WHERE user_id = $1
	`
	getAllUserImagesQuery = `
	SELECT ` + imageColumns + `
	FROM images
	WHERE user_id = $1
	ORDER BY created_at DESC, id DESC
	`
	getUserImageQuery = `
	SELECT ` + imageColumns + `
	FROM images
	WHERE id = $1 AND user_id = $2
	`
	updateImageQuery = `
	UPDATE images
	SET file_path = $2, description = $3, mime_type = $4, original_filename = $5, updated_at = $6
	WHERE id = $1
	`
	deleteImageByIDQuery = `
	DELETE FROM images
	WHERE id = $1
	`
)

type PostgreSQLDatabase struct {
	db *sql.DB
}

func NewPostgreSQLDatabase(ctx context.Context, cfg DatabaseConfig) (*PostgreSQLDatabase, error) {
	connStr := fmt.Sprintf("host=%s user=%s password=%s port=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.Port, cfg.Name, cfg.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	pg := &PostgreSQLDatabase{db: db}
	if err := pg.db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Debug("Database pinged", "host", cfg.Host, "dbname", cfg.Name)

	if _, err := pg.db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create database schema: %w", err)
	}

	slog.Info("Successfully created the database schema")

	return pg, nil
}

func (pg *PostgreSQLDatabase) Close() error {
	return pg.db.Close()
}

func (pg *PostgreSQLDatabase) CreateUser(ctx context.Context, user User) error {
	_, err := pg.db.ExecContext(ctx, createUserQuery,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.ProfilePic,
		user.IsPremium,
		user.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateUser
		}

		return storeError("create user", err)
	}

	return nil
}

func (pg *PostgreSQLDatabase) GetUserByID(ctx context.Context, id string) (User, error) {
	row := pg.db.QueryRowContext(ctx, getUserByIDQuery, id)
	return scanUser(row, "get user")
}

func (pg *PostgreSQLDatabase) GetUserByIdentifier(ctx context.Context, identifier string) (User, error) {
	row := pg.db.QueryRowContext(ctx, getUserByIdentifierQuery, identifier)
	return scanUser(row, "get user by identifier")
}

func (pg *PostgreSQLDatabase) FindUserConflict(ctx context.Context, username, email string) (User, error) {
	row := pg.db.QueryRowContext(ctx, findUserConflictQuery, username, email)
	return scanUser(row, "find user conflict")
}

func (pg *PostgreSQLDatabase) UpdateUserProfilePic(ctx context.Context, id, profilePic string) error {
	res, err := pg.db.ExecContext(ctx, updateUserProfilePicQuery, id, profilePic)
	if err != nil {
		return storeError("update profile picture", err)
	}

	return expectAffected(res, "update profile picture")
}

func (pg *PostgreSQLDatabase) CreateImage(ctx context.Context, image Image) error {
	_, err := pg.db.ExecContext(ctx, createImageQuery,
		image.ID,
		image.UserID,
		image.FilePath,
		image.Description,
		image.MimeType,
		image.OriginalFilename,
		image.CreatedAt,
		image.UpdatedAt,
	)
	if err != nil {
		return storeError("create image", err)
	}

	return nil
}

func (pg *PostgreSQLDatabase) CountUserImages(ctx context.Context, userID string) (int, error) {
	var count int
	if err := pg.db.QueryRowContext(ctx, countUserImagesQuery, userID).Scan(&count); err != nil {
		return 0, storeError("count images", err)
	}

	return count, nil
}

func (pg *PostgreSQLDatabase) GetAllUserImages(ctx context.Context, userID string) ([]Image, error) {
	rows, err := pg.db.QueryContext(ctx, getAllUserImagesQuery, userID)
	if err != nil {
		return nil, storeError("list images", err)
	}
	defer rows.Close()
	var items []Image

	for rows.Next() {
		var i Image
		if err := rows.Scan(
			&i.ID,
			&i.UserID,
			&i.FilePath,
			&i.Description,
			&i.MimeType,
			&i.OriginalFilename,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, storeError("scan image", err)
		}

		items = append(items, i)
	}

	if err := rows.Close(); err != nil {
		return nil, storeError("list images", err)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("list images", err)
	}

	return items, nil
}

func (pg *PostgreSQLDatabase) GetUserImage(ctx context.Context, id, userID string) (Image, error) {
	row := pg.db.QueryRowContext(ctx, getUserImageQuery, id, userID)
	var i Image
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.FilePath,
		&i.Description,
		&i.MimeType,
		&i.OriginalFilename,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Image{}, ErrNotFound
	}
	if err != nil {
		return Image{}, storeError("get image", err)
	}

	return i, nil
}

func (pg *PostgreSQLDatabase) UpdateImage(ctx context.Context, image Image) error {
	res, err := pg.db.ExecContext(ctx, updateImageQuery,
		image.ID,
		image.FilePath,
		image.Description,
		image.MimeType,
		image.OriginalFilename,
		image.UpdatedAt,
	)
	if err != nil {
		return storeError("update image", err)
	}

	return expectAffected(res, "update image")
}

func (pg *PostgreSQLDatabase) DeleteImageByID(ctx context.Context, id string) error {
	res, err := pg.db.ExecContext(ctx, deleteImageByIDQuery, id)
	if err != nil {
		return storeError("delete image", err)
	}

	return expectAffected(res, "delete image")
}

func scanUser(row *sql.Row, op string) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.ProfilePic,
		&u.IsPremium,
		&u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, storeError(op, err)
	}

	return u, nil
}

func expectAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeError(op, err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}
