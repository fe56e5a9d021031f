package credential

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/neuroscan/neuroscan/internal/platform/db"
	"github.com/neuroscan/neuroscan/internal/platform/events"
)

var (
	ErrMissingField  = errors.New("all registration fields are required")
	ErrSecretTooLong = errors.New("password exceeds 72 bytes")
	ErrEmailTaken    = errors.New("email already registered")
	ErrNotFound      = errors.New("credential not found")
	ErrInvalidSecret = errors.New("invalid password")
)

// maxSecretBytes is the bcrypt input limit.
const maxSecretBytes = 72

type RegisterInput struct {
	Name     string
	Email    string
	RegNo    string
	Password string
}

type Service struct {
	repo   Repository
	events events.Publisher
	cost   int
	// dummyHash is compared against when the email is unknown so that a
	// missing account and a wrong password take the same time.
	dummyHash []byte
}

// NewService builds the credential service. cost is the bcrypt work factor;
// values outside bcrypt's range fall back to bcrypt.DefaultCost.
func NewService(repo Repository, pub events.Publisher, cost int) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if pub == nil {
		pub = events.Nop{}
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("timing-equalizer"), cost)
	return &Service{repo: repo, events: pub, cost: cost, dummyHash: dummy}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, in RegisterInput) error {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	regNo := strings.TrimSpace(in.RegNo)
	if name == "" || email == "" || regNo == "" || strings.TrimSpace(in.Password) == "" {
		return ErrMissingField
	}
	if len(in.Password) > maxSecretBytes {
		return ErrSecretTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	c := &Credential{Name: name, Email: email, RegNo: regNo, PasswordHash: string(hash)}
	if err := s.repo.Create(ctx, c); err != nil {
		if db.IsUniqueViolation(err) {
			return ErrEmailTaken
		}
		return err
	}

	id := strconv.FormatInt(c.ID, 10)
	s.events.Publish(ctx, events.TypeCredentialRegistered, id, map[string]interface{}{
		"credential_id": c.ID,
	})
	return nil
}

// Authenticate verifies the secret for email and returns the display name
// stored at registration.
func (s *Service) Authenticate(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", ErrMissingField
	}

	c, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidSecret
	}
	return c.Name, nil
}
