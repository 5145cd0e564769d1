package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/inkgrade/inkgrade-backend/internal/config"
	"github.com/inkgrade/inkgrade-backend/internal/model"
	"github.com/inkgrade/inkgrade-backend/internal/repository"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrNotRefreshToken    = errors.New("token is not a refresh token")
)

// Role distinguishes student vs teacher principals.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// TokenKind distinguishes access tokens from refresh tokens. Refresh tokens
// are accepted only by the refresh endpoint, never by resource middleware.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenKind `json:"token_type"`
	Role      Role      `json:"role"`
	UserID    int       `json:"user_id"`
}

// TokenPair is what login and refresh hand back to clients.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // access token lifetime, seconds
}

// AuthService handles password verification and JWT issuance. Tokens are
// stateless: nothing is pinned server-side, revocation happens by expiry.
type AuthService struct {
	cfg         *config.Config
	studentRepo *repository.StudentRepository
	teacherRepo *repository.TeacherRepository
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, studentRepo *repository.StudentRepository, teacherRepo *repository.TeacherRepository) *AuthService {
	return &AuthService{
		cfg:         cfg,
		studentRepo: studentRepo,
		teacherRepo: teacherRepo,
	}
}

// StudentLogin authenticates a student by username and password.
// Lookup misses and password mismatches return the same error so callers
// cannot probe which usernames exist.
func (s *AuthService) StudentLogin(ctx context.Context, username, password string) (*model.StudentLoginResponse, error) {
	student, err := s.studentRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.CheckPassword(student.PasswordHash, password); err != nil {
		return nil, err
	}
	if !student.IsActive {
		return nil, ErrAccountDisabled
	}

	pair, err := s.GenerateTokenPair(student.ID, RoleStudent)
	if err != nil {
		return nil, fmt.Errorf("issue student tokens: %w", err)
	}

	return &model.StudentLoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		Student:      *student,
	}, nil
}

// TeacherLogin authenticates a teacher by email and password.
func (s *AuthService) TeacherLogin(ctx context.Context, email, password string) (*model.TeacherLoginResponse, error) {
	teacher, err := s.teacherRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.CheckPassword(teacher.PasswordHash, password); err != nil {
		return nil, err
	}
	if !teacher.IsActive {
		return nil, ErrAccountDisabled
	}

	pair, err := s.GenerateTokenPair(teacher.ID, RoleTeacher)
	if err != nil {
		return nil, fmt.Errorf("issue teacher tokens: %w", err)
	}

	return &model.TeacherLoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		Teacher:      *teacher,
	}, nil
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// StudentByID loads a student profile for the /me endpoint.
func (s *AuthService) StudentByID(ctx context.Context, id int) (*model.Student, error) {
	return s.studentRepo.GetByID(ctx, id)
}

// TeacherByID loads a teacher profile for the /me endpoint.
func (s *AuthService) TeacherByID(ctx context.Context, id int) (*model.Teacher, error) {
	return s.teacherRepo.GetByID(ctx, id)
}

// GenerateTokenPair issues an access+refresh pair for one principal.
func (s *AuthService) GenerateTokenPair(userID int, role Role) (*TokenPair, error) {
	access, err := s.signToken(userID, role, TokenKindAccess, s.cfg.JWTExpiry)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.signToken(userID, role, TokenKindRefresh, s.cfg.JWTRefreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.cfg.JWTExpiry.Seconds()),
	}, nil
}

// Refresh validates a refresh token and issues a fresh pair for the same
// principal. Access tokens are rejected here even when still valid.
func (s *AuthService) Refresh(refreshToken string) (*TokenPair, error) {
	claims, err := s.ValidateToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenKindRefresh {
		return nil, ErrNotRefreshToken
	}
	return s.GenerateTokenPair(claims.UserID, claims.Role)
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

func (s *AuthService) signToken(userID int, role Role, kind TokenKind, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: kind,
		Role:      role,
		UserID:    userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}
