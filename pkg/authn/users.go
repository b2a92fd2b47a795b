package authn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/beaconhq/beacon/pkg/authz"
)

var (
	// ErrUserExists indicates a registration attempt with a taken email.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound indicates no user with the given email or id.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is one registered account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	passwordHash []byte
}

// UserStore is SQLite-backed user persistence.
type UserStore struct {
	db *sql.DB
}

// NewUserStore opens (and if necessary initializes) the user database at
// path. Use ":memory:" for an ephemeral store in tests.
func NewUserStore(path string) (*UserStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open user database: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL UNIQUE,
		pass_hash  BLOB NOT NULL,
		roles      TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize user schema: %w", err)
	}

	return &UserStore{db: db}, nil
}

// DB exposes the underlying handle for health checks.
func (s *UserStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *UserStore) Close() error { return s.db.Close() }

// Create inserts a new user with a bcrypt-hashed password. Every account
// gets the USER role; additional roles may be granted afterwards.
func (s *UserStore) Create(ctx context.Context, name, email, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:           uuid.New(),
		Name:         name,
		Email:        strings.ToLower(email),
		Roles:        []string{authz.RoleUser},
		CreatedAt:    time.Now().UTC(),
		passwordHash: hash,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, pass_hash, roles, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID.String(), user.Name, user.Email, user.passwordHash, strings.Join(user.Roles, ","), user.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// ByEmail fetches a user by email.
func (s *UserStore) ByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, pass_hash, roles, created_at FROM users WHERE email = ?`,
		strings.ToLower(email)))
}

// ByID fetches a user by id.
func (s *UserStore) ByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, name, email, pass_hash, roles, created_at FROM users WHERE id = ?`,
		id.String()))
}

// RolesFor returns the role names for email, for use as the token
// manager's roles callback during refresh.
func (s *UserStore) RolesFor(ctx context.Context, email string) ([]string, error) {
	user, err := s.ByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return user.Roles, nil
}

// UpdatePassword replaces the stored bcrypt hash for id.
func (s *UserStore) UpdatePassword(ctx context.Context, id uuid.UUID, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE users SET pass_hash = ? WHERE id = ?`, hash, id.String())
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GrantRole appends a role to the user's role set if absent.
func (s *UserStore) GrantRole(ctx context.Context, id uuid.UUID, role string) error {
	user, err := s.ByID(ctx, id)
	if err != nil {
		return err
	}
	for _, have := range user.Roles {
		if have == role {
			return nil
		}
	}
	roles := append(user.Roles, role)
	_, err = s.db.ExecContext(ctx, `UPDATE users SET roles = ? WHERE id = ?`,
		strings.Join(roles, ","), id.String())
	if err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}
	return nil
}

// VerifyPassword checks a candidate password against the stored hash.
func (u *User) VerifyPassword(password string) bool {
	return bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) == nil
}

func (s *UserStore) scanOne(row *sql.Row) (*User, error) {
	var (
		user  User
		id    string
		roles string
	)
	err := row.Scan(&id, &user.Name, &user.Email, &user.passwordHash, &roles, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	user.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt user id %q: %w", id, err)
	}
	if roles != "" {
		user.Roles = strings.Split(roles, ",")
	} else {
		user.Roles = []string{}
	}
	return &user, nil
}
