package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDisabled           = errors.New("admin access disabled")
)

// Service checks operator credentials for the admin API. There is a single
// admin account whose password is stored as a bcrypt hash.
type Service struct {
	username     string
	passwordHash []byte
	log          *logrus.Entry
}

func NewService(username, passwordHash string) *Service {
	return &Service{
		username:     username,
		passwordHash: []byte(passwordHash),
		log:          logrus.WithField("component", "auth"),
	}
}

// Enabled reports whether an admin password has been configured.
func (s *Service) Enabled() bool {
	return s != nil && len(s.passwordHash) > 0
}

// Authenticate verifies username/password
func (s *Service) Authenticate(username, password string) error {
	if !s.Enabled() {
		return ErrDisabled
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1

	// Verify password even on a wrong username so timing does not leak it
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil || !userOK {
		return ErrInvalidCredentials
	}
	return nil
}

// Middleware guards next with HTTP basic auth. While admin access is
// disabled the routes answer 404.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Enabled() {
			http.NotFound(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			http.Error(w, "Authorization required", http.StatusUnauthorized)
			return
		}

		if err := s.Authenticate(username, password); err != nil {
			s.log.WithField("remote_addr", r.RemoteAddr).Warn("Admin authentication failed")
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HashPassword produces a value suitable for ADMIN_PASSWORD_HASH
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
