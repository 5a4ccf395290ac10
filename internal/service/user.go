package service

import (
	"context"
	"log"
	"time"
	"unicode"

	"cloudshare-backend/internal/apperr"
	"cloudshare-backend/internal/auth"
	"cloudshare-backend/internal/models"
	"cloudshare-backend/internal/repository"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// UserService handles the account business logic
type UserService struct {
	store        repository.UserStore
	tokenService *auth.TokenService
}

// NewUserService creates a new user service
func NewUserService(store repository.UserStore, tokenService *auth.TokenService) *UserService {
	return &UserService{
		store:        store,
		tokenService: tokenService,
	}
}

// Register creates a new account
func (s *UserService) Register(ctx context.Context, email, password, name string) (*models.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.New(apperr.KindValidation, "email and password are required")
	}
	if !strongPassword(password) {
		return nil, apperr.New(apperr.KindValidation,
			"password must be at least 8 characters long and include an uppercase letter, a lowercase letter, a number and a special character")
	}

	// Never store plaintext passwords
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("Error generating bcrypt hash: %v", err)
		return nil, apperr.Wrap(apperr.KindStore, err, "internal error while processing password")
	}

	user := &models.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}

	// The unique email index decides races between concurrent registrations
	if err := s.store.CreateUser(ctx, user); err != nil {
		if apperr.Is(err, apperr.KindDuplicate) {
			return nil, apperr.New(apperr.KindDuplicate, "user already exists")
		}
		log.Printf("Error saving user: %v", err)
		return nil, err
	}

	return user, nil
}

// Login authenticates a user and returns a JWT
func (s *UserService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			// Generic answer to avoid user enumeration
			return "", nil, apperr.New(apperr.KindUnauthorized, "invalid credentials")
		}
		return "", nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, apperr.New(apperr.KindUnauthorized, "invalid credentials")
	}

	token, err := s.tokenService.NewToken(user.ID, user.Email)
	if err != nil {
		log.Printf("Error generating JWT: %v", err)
		return "", nil, apperr.Wrap(apperr.KindStore, err, "internal error while generating token")
	}

	return token, user, nil
}

// GetUserByID fetches a user by ID
func (s *UserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "user not found")
		}
		return nil, err
	}
	return user, nil
}

func strongPassword(password string) bool {
	if len(password) < minPasswordLength {
		return false
	}
	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	return lower && upper && digit && special
}
