// Package telegram verifies the signed launch parameters a Telegram Mini App
// passes to its backend.
package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/velvet-oracle/ritual/src/domain/shared"
)

// HeaderInitData carries the raw initData query string.
const HeaderInitData = "X-Telegram-InitData"

var (
	ErrMissingInitData = errors.New("telegram init data missing")
	ErrInvalidHash     = errors.New("telegram init data signature mismatch")
	ErrExpired         = errors.New("telegram init data expired")
	ErrNoUser          = errors.New("telegram init data has no user")
)

// User is the signed user object.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// ExternalID returns the user id in the form stored on player records.
func (u User) ExternalID() shared.ExternalID {
	return shared.ExternalID(strconv.FormatInt(u.ID, 10))
}

// DisplayName joins first and last name.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// InitData is a verified launch payload.
type InitData struct {
	User     User
	AuthDate time.Time
	QueryID  string
}

// Verifier checks initData signatures for one bot.
type Verifier struct {
	secret []byte
	MaxAge time.Duration
	Clock  func() time.Time
}

// NewVerifier derives the WebApp secret from the bot token.
func NewVerifier(botToken string, maxAge time.Duration) *Verifier {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return &Verifier{
		secret: mac.Sum(nil),
		MaxAge: maxAge,
		Clock:  time.Now,
	}
}

// Verify validates raw initData and returns its decoded content.
func (v *Verifier) Verify(raw string) (*InitData, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrMissingInitData
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, err
	}
	hash := values.Get("hash")
	if hash == "" {
		return nil, ErrInvalidHash
	}
	expected, err := hex.DecodeString(hash)
	if err != nil {
		return nil, ErrInvalidHash
	}
	if !hmac.Equal(expected, v.sign(values)) {
		return nil, ErrInvalidHash
	}

	out := &InitData{QueryID: values.Get("query_id")}
	if s := values.Get("auth_date"); s != "" {
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, ErrInvalidHash
		}
		out.AuthDate = time.Unix(sec, 0).UTC()
	}
	if v.MaxAge > 0 && (out.AuthDate.IsZero() || v.Clock().Sub(out.AuthDate) > v.MaxAge) {
		return nil, ErrExpired
	}
	rawUser := values.Get("user")
	if rawUser == "" {
		return nil, ErrNoUser
	}
	if err := json.Unmarshal([]byte(rawUser), &out.User); err != nil || out.User.ID == 0 {
		return nil, ErrNoUser
	}
	return out, nil
}

// Sign returns the hex hash for the given fields. Exposed for tests and
// local tooling that needs to mint initData.
func (v *Verifier) Sign(values url.Values) string {
	return hex.EncodeToString(v.sign(values))
}

func (v *Verifier) sign(values url.Values) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strings.Join(lines, "\n")))
	return mac.Sum(nil)
}
