package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is the work factor for password hashing.
const bcryptCost = 12

// uniqueViolation is the PostgreSQL error code for unique constraint breaks.
const uniqueViolation = "23505"

// User is a registered account.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Developer    bool
	CreatedAt    time.Time
}

// CheckPassword reports whether the plaintext password matches the stored
// bcrypt hash.
func (u User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// CreateUser registers a new account with a bcrypt-hashed password.
// Returns ErrUsernameTaken if the username is already registered.
func (s *Store) CreateUser(ctx context.Context, username, password string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("hashing password: %w", err)
	}

	var u User
	err = s.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, is_developer)
		 VALUES ($1, $2, false)
		 RETURNING id, username, password_hash, is_developer, created_at`,
		username, string(hash),
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Developer, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("inserting user %q: %w", username, err)
	}

	s.logger.Debug("user created", "username", u.Username, "id", u.ID)
	return u, nil
}

// GetUser fetches an account by username.
// Returns ErrUserNotFound if no such account exists.
func (s *Store) GetUser(ctx context.Context, username string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, is_developer, created_at
		 FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Developer, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("querying user %q: %w", username, err)
	}
	return u, nil
}

// EnsureDeveloper returns the developer account for username, creating it
// with the given password if it does not exist yet. Called at startup and on
// the developer login shortcut path.
func (s *Store) EnsureDeveloper(ctx context.Context, username, password string) (User, error) {
	u, err := s.GetUser(ctx, username)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("hashing password: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, is_developer)
		 VALUES ($1, $2, true)
		 ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		 RETURNING id, username, password_hash, is_developer, created_at`,
		username, string(hash),
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Developer, &u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("ensuring developer account: %w", err)
	}

	s.logger.Info("developer account ready", "username", u.Username)
	return u, nil
}
