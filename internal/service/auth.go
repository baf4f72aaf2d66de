package service

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/roundtable/relay/internal/logger"
	"github.com/roundtable/relay/internal/model"
	"github.com/roundtable/relay/internal/protocol"
)

const (
	// ModeLogin and ModeSignup select validate_auth behavior.
	ModeLogin  = "login"
	ModeSignup = "signup"

	hashIterations = 100_000
	hashKeyLen     = 64
	saltLen        = 16
	maxPasswordLen = 14
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.]{2,14}$`)

// Auth validates credentials and authenticates identify requests.
type Auth struct {
	userStore model.UserStore
	tokens    model.TokenManager
	logger    *logger.Logger
}

func NewAuth(userStore model.UserStore, tokens model.TokenManager, logger *logger.Logger) *Auth {
	return &Auth{
		userStore: userStore,
		tokens:    tokens,
		logger:    logger,
	}
}

// HashPassword produces a salted PBKDF2-SHA512 hash in salt:hex form.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)
	hash := pbkdf2.Key([]byte(password), []byte(saltHex), hashIterations, hashKeyLen, sha512.New)
	return saltHex + ":" + hex.EncodeToString(hash), nil
}

// VerifyPassword checks a password against a stored salt:hex hash.
func VerifyPassword(password, passwordHash string) bool {
	saltHex, want, ok := strings.Cut(passwordHash, ":")
	if !ok {
		return false
	}
	got := hex.EncodeToString(pbkdf2.Key([]byte(password), []byte(saltHex), hashIterations, hashKeyLen, sha512.New))
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Validate answers a validate_auth request: username availability for
// signup, credential verification for login. Auth errors are surfaced
// verbatim in the reason and never retried server-side.
func (a *Auth) Validate(ctx context.Context, req protocol.ValidateAuth) protocol.AuthValidation {
	reply := protocol.AuthValidation{Type: protocol.TypeAuthValidation}

	if req.Username == "" {
		reply.Reason = "Username is required"
		return reply
	}
	if !usernamePattern.MatchString(req.Username) {
		reply.Reason = "Username must be 2-14 chars with only letters, numbers, dots, or underscores"
		return reply
	}
	if req.Password != "" && len(req.Password) > maxPasswordLen {
		reply.Reason = "Password must be 14 characters or less"
		return reply
	}

	existing, err := a.userStore.GetByUsername(ctx, req.Username)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		a.logger.Error("Auth service: failed to look up username",
			"username", req.Username,
			"error", err.Error())
		reply.Reason = "Database error"
		return reply
	}
	exists := err == nil

	switch req.Mode {
	case ModeSignup:
		if exists {
			a.logger.Info("Auth service: username already taken", "username", req.Username)
			reply.Reason = "Username already taken"
			return reply
		}
		reply.Valid = true
		reply.Mode = ModeSignup
		reply.Username = req.Username

	case ModeLogin:
		if !exists {
			reply.Reason = "Username or password incorrect"
			return reply
		}
		if req.Password == "" {
			reply.Reason = "Password is required"
			return reply
		}
		if !VerifyPassword(req.Password, existing.PasswordHash) {
			a.logger.Info("Auth service: invalid password", "username", req.Username)
			reply.Reason = "Username or password incorrect"
			return reply
		}
		reply.Valid = true
		reply.Mode = ModeLogin
		reply.Username = existing.Username
		reply.UserID = existing.UserID

	default:
		reply.Reason = fmt.Sprintf("Unknown auth mode %q", req.Mode)
	}

	return reply
}

// Authenticate vets an identify request and returns the user record to
// persist. A password marks first login or signup; without one the
// request must carry a session token for a known account, otherwise the
// session is stale client state and rejected.
func (a *Auth) Authenticate(ctx context.Context, req protocol.Identify) (model.User, bool, error) {
	username := strings.TrimSpace(req.Info.Username)
	if username == "" {
		username = req.Info.Name
	}
	if username == "" {
		username = req.UserID
	}

	existing, err := a.userStore.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return model.User{}, false, fmt.Errorf("failed to get user by username: %w", err)
	}
	exists := err == nil

	displayName := strings.TrimSpace(req.Info.Name)
	if displayName == "" {
		displayName = username
	}

	now := time.Now()
	user := model.User{
		UserID:         req.UserID,
		Username:       username,
		DisplayName:    displayName,
		PublicKey:      req.PublicKey,
		ProfilePicture: req.Info.ProfilePicture,
		LastSeen:       now,
		CreatedAt:      now,
	}

	if req.Password != "" {
		if exists {
			if existing.PasswordHash == "" {
				// Legacy account predating password hashes; the first
				// password-carrying identify claims it.
				hash, err := HashPassword(req.Password)
				if err != nil {
					return model.User{}, false, fmt.Errorf("failed to hash password: %w", err)
				}
				if err := a.userStore.SetPasswordHash(ctx, existing.UserID, hash); err != nil {
					return model.User{}, false, fmt.Errorf("failed to set password hash: %w", err)
				}
			} else if !VerifyPassword(req.Password, existing.PasswordHash) {
				a.logger.Info("Auth service: identify with wrong password", "username", username)
				return model.User{}, false, model.ErrInvalidCredentials
			}
			user.UserID = existing.UserID
			user.CreatedAt = existing.CreatedAt
			return user, false, nil
		}

		// Message ids embed user ids dash-separated, so the signup gate is
		// what keeps every stored id parseable.
		if user.UserID == "" {
			user.UserID = username
		}
		if !usernamePattern.MatchString(username) || !usernamePattern.MatchString(user.UserID) {
			a.logger.Info("Auth service: rejected signup with invalid username",
				"username", username,
				"user_id", user.UserID)
			return model.User{}, false, model.ErrInvalidUsername
		}

		hash, err := HashPassword(req.Password)
		if err != nil {
			return model.User{}, false, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = hash
		return user, true, nil
	}

	if !exists {
		a.logger.Info("Auth service: identify for unknown user without password", "username", username)
		return model.User{}, false, model.ErrInvalidSession
	}

	tokenUser, err := a.tokens.ParseSessionToken(req.AuthToken)
	if err != nil || tokenUser != existing.UserID {
		a.logger.Info("Auth service: identify with invalid session token", "username", username)
		return model.User{}, false, model.ErrInvalidSession
	}

	user.UserID = existing.UserID
	user.CreatedAt = existing.CreatedAt
	return user, false, nil
}

// IssueToken mints the session token carried in the registered reply.
func (a *Auth) IssueToken(userID string) (string, error) {
	return a.tokens.GenerateSessionToken(userID)
}
