package auth

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/jdtask/backend/internal/models"
)

// ErrDuplicateUsername is returned when registering a username that already
// exists.
var ErrDuplicateUsername = errors.New("username already registered")

// ErrInvalidCredentials is returned for a wrong username/password pair.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserStore is the persistence the auth service needs.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

type Service interface {
	Register(ctx context.Context, username, password, nickname string) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, *models.User, error)
	ValidateToken(token string) (uuid.UUID, string, error)
}

type service struct {
	users  UserStore
	secret []byte
}

func NewService(users UserStore) Service {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "devsecret-change-me"
	}
	return &service{users: users, secret: []byte(secret)}
}

var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Register creates a common-role user. Admin accounts are seeded out of
// band, never via this endpoint.
func (s *service) Register(ctx context.Context, username, password, nickname string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: string(hash),
		Nickname:     nickname,
		Role:         models.RoleCommon,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateUsername
		}
		return nil, err
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !u.IsActive {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.issueToken(u.ID, u.Role)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

func (s *service) issueToken(userID uuid.UUID, role string) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(token string) (uuid.UUID, string, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, "", err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, "", errors.New("invalid token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, c.Role, nil
}
