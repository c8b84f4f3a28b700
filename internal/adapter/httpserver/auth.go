package httpserver

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/fairyhunter13/vinted-notifier/internal/config"
)

// Argon2Params defines parameters for Argon2id password hashing
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

var defaultArgon2Params = Argon2Params{
	Memory:      64 * 1024, // 64 MB
	Iterations:  3,
	Parallelism: 2,
	SaltLen:     16,
	KeyLen:      32,
}

// HashPassword creates an Argon2id hash of the password with the given salt.
func HashPassword(password string, salt []byte, params Argon2Params) string {
	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen)

	// Format: argon2id$iterations$memory$parallelism$salt$hash (base64 encoded)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		params.Iterations,
		params.Memory,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
}

// VerifyPassword verifies a password against its Argon2id hash
func VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	iters, err1 := parseUint32(parts[1])
	mem, err2 := parseUint32(parts[2])
	par64, err3 := parseUint32(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	// Clamp parallelism to uint8 range to avoid overflow
	var par uint8
	if par64 > math.MaxUint8 {
		par = math.MaxUint8
	} else {
		par = uint8(par64)
	}
	actualHash := argon2.IDKey([]byte(password), salt, iters, mem, par, defaultArgon2Params.KeyLen)
	return subtle.ConstantTimeCompare(actualHash, expectedHash) == 1
}

// BasicAuth guards the admin surface with HTTP basic credentials. The
// configured password is hashed once at construction; each request is
// verified against the hash so the plaintext never sits on the struct.
type BasicAuth struct {
	username     string
	passwordHash string
	enabled      bool
}

// NewBasicAuth builds the guard. When no credentials are configured the
// middleware passes every request through.
func NewBasicAuth(cfg config.Config) *BasicAuth {
	if !cfg.AdminEnabled() {
		return &BasicAuth{}
	}
	salt := sha256.Sum256([]byte(cfg.AdminUsername + ":" + cfg.AdminPassword))
	return &BasicAuth{
		username:     cfg.AdminUsername,
		passwordHash: HashPassword(cfg.AdminPassword, salt[:defaultArgon2Params.SaltLen], defaultArgon2Params),
		enabled:      true,
	}
}

// Middleware enforces the credentials on every request.
func (b *BasicAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.enabled {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(b.username)) == 1
		if !ok || !userMatch || !VerifyPassword(pass, b.passwordHash) {
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			writeJSON(w, http.StatusUnauthorized, statusResponse{Status: "error", Message: "authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// parseUint32 parses a decimal string into uint32; returns error on failure
func parseUint32(s string) (uint32, error) {
	x, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse")
	}
	if x > math.MaxUint32 {
		return 0, fmt.Errorf("parse")
	}
	return uint32(x), nil
}
