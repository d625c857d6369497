// Package session tracks one activation attempt across restarts: credentials,
// MFA artifacts, member info and the eSIM reservation, persisted to disk with
// a fixed TTL.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// TTL is how long a persisted session stays usable.
const TTL = 2 * time.Hour

// Wizard steps, deepest last.
const (
	StepLogin         = 1
	StepSendChallenge = 2
	StepEnterCode     = 3
	StepReserve       = 4
	StepDownloadToken = 5
	StepDone          = 6
)

// Session is the full activation state. Fields are additive: later steps only
// ever fill in more of them, so restoring a partial session is always safe.
type Session struct {
	CodeVerifier string `json:"codeVerifier,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	Cookie       string `json:"cookie,omitempty"`

	EmailCodeRef   string `json:"emailCodeRef,omitempty"`
	EmailSignature string `json:"emailSignature,omitempty"`

	MemberID    string `json:"memberId,omitempty"`
	MemberName  string `json:"memberName,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`

	ESimSSN            string `json:"esimSSN,omitempty"`
	ESimActivationCode string `json:"esimActivationCode,omitempty"`
	ESimDeliveryStatus string `json:"esimDeliveryStatus,omitempty"`
	LPAString          string `json:"lpaString,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// TargetStep derives the deepest wizard step whose prerequisite data is
// present. It is pure: the stored step number is never the source of truth,
// so re-deriving on every load is safe.
func (s *Session) TargetStep() int {
	if s.EmailSignature != "" {
		if s.ESimSSN != "" || s.ESimActivationCode != "" {
			if s.LPAString != "" {
				return StepDone
			}
			return StepDownloadToken
		}
		return StepReserve
	}
	if s.AccessToken != "" {
		return StepSendChallenge
	}
	return StepLogin
}

// Store persists sessions as JSON files on the local filesystem.
type Store struct {
	baseDir string
	now     func() time.Time
}

// NewStore creates a session store rooted at baseDir, defaulting to
// ~/.esimgate/sessions.
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".esimgate", "sessions")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	log.Debug().Str("baseDir", baseDir).Msg("session store initialized")

	return &Store{baseDir: baseDir, now: time.Now}, nil
}

func (st *Store) path(name string) string {
	return filepath.Join(st.baseDir, name+".json")
}

// Save persists s under name, stamping the current time. The write is atomic
// so a crash never leaves a truncated session behind.
func (st *Store) Save(name string, s *Session) error {
	s.Timestamp = st.now().UTC()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	sessionPath := st.path(name)
	tempPath := sessionPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

// Load restores the session stored under name. The boolean reports whether a
// usable session was restored; expired records are cleared on sight.
func (st *Store) Load(name string) (*Session, bool, error) {
	data, err := os.ReadFile(st.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Session{}, false, nil
		}
		return nil, false, fmt.Errorf("failed to read session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		log.Warn().Err(err).Str("name", name).Msg("discarding corrupt session")
		_ = st.Clear(name)
		return &Session{}, false, nil
	}

	if s.Timestamp.IsZero() || st.now().Sub(s.Timestamp) >= TTL {
		log.Info().Str("name", name).Time("saved", s.Timestamp).Msg("session expired, clearing")
		_ = st.Clear(name)
		return &Session{}, false, nil
	}

	return &s, true, nil
}

// Clear removes the persisted session under name.
func (st *Store) Clear(name string) error {
	if err := os.Remove(st.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}
