package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	icrypto "github.com/jmcleod/goaltracker/internal/crypto"
	"github.com/jmcleod/goaltracker/internal/util"
	"github.com/jmcleod/goaltracker/storage"
)

const (
	sessionKeyRecordID = "__session_key"
	sessionSealVersion = 1
	sessionKeyInfo     = "goaltracker session wrapping key v1"
	cleanupInterval    = 5 * time.Minute
)

// PersistentSessionStore stores sessions in the repository's session table,
// encrypted at rest using AES-256-GCM. Sessions survive server restarts.
//
// The session encryption key is itself sealed with a key derived from the
// operator's session secret before being stored, so a database compromise
// alone cannot recover session data. The unsealed key lives in a memguard
// enclave.
type PersistentSessionStore struct {
	records     storage.SessionRecords
	key         *memguard.Enclave
	idleTimeout time.Duration
	logger      *slog.Logger
	stopOnce    sync.Once
	stopCh      chan struct{}
	done        chan struct{}
}

var _ SessionStore = (*PersistentSessionStore)(nil)

// NewPersistentSessionStore creates a session store backed by records. The
// secret is never stored; changing it makes every existing session
// unreadable. idleTimeout of 0 disables idle timeout checking.
func NewPersistentSessionStore(ctx context.Context, records storage.SessionRecords, secret []byte, idleTimeout time.Duration, logger *slog.Logger) (*PersistentSessionStore, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	wrappingKey, err := util.DeriveKey(secret, nil, sessionKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving session wrapping key: %w", err)
	}
	defer util.WipeBytes(wrappingKey)

	key, err := loadOrCreateSessionKey(ctx, records, wrappingKey, logger)
	if err != nil {
		return nil, err
	}
	s := &PersistentSessionStore{
		records:     records,
		key:         memguard.NewEnclave(key),
		idleTimeout: idleTimeout,
		logger:      logger.With("component", "sessions"),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	go s.cleanupLoop()
	return s, nil
}

// Close stops the background cleanup goroutine.
func (s *PersistentSessionStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.done
	})
}

func (s *PersistentSessionStore) Get(ctx context.Context, token string) (Session, bool) {
	if token == "" || token == sessionKeyRecordID {
		return Session{}, false
	}
	env, err := s.records.Get(ctx, token)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("loading session", "error", err)
		}
		return Session{}, false
	}
	data, err := s.open(env, token)
	if err != nil {
		return Session{}, false
	}
	defer util.WipeBytes(data)
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, false
	}
	if session.expired(time.Now(), s.idleTimeout) {
		_ = s.Delete(ctx, token)
		return Session{}, false
	}
	return session, true
}

func (s *PersistentSessionStore) Put(ctx context.Context, token string, session Session) error {
	env, err := s.seal(token, session)
	if err != nil {
		return err
	}
	return s.records.Put(ctx, token, env, session.ExpiresAt)
}

func (s *PersistentSessionStore) Touch(ctx context.Context, token string, session Session) (bool, error) {
	if token == sessionKeyRecordID {
		return false, nil
	}
	env, err := s.seal(token, session)
	if err != nil {
		return false, err
	}
	err = s.records.Replace(ctx, token, env, session.ExpiresAt)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *PersistentSessionStore) seal(token string, session Session) (*storage.Envelope, error) {
	if token == sessionKeyRecordID {
		return nil, errors.New("reserved session token")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	defer util.WipeBytes(data)

	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening session key enclave: %w", err)
	}
	defer buf.Destroy()
	return storage.SealRecord(buf.Bytes(), data, icrypto.AADSession(token, sessionSealVersion))
}

func (s *PersistentSessionStore) Delete(ctx context.Context, token string) error {
	if token == sessionKeyRecordID {
		return nil
	}
	err := s.records.Delete(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (s *PersistentSessionStore) open(env *storage.Envelope, token string) ([]byte, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening session key enclave: %w", err)
	}
	defer buf.Destroy()
	return storage.OpenRecord(buf.Bytes(), env, icrypto.AADSession(token, sessionSealVersion))
}

// Sweep removes sessions whose absolute expiry has passed.
func (s *PersistentSessionStore) Sweep(ctx context.Context) (int, error) {
	return s.records.DeleteExpired(ctx, time.Now())
}

// cleanupLoop periodically removes expired sessions from storage.
func (s *PersistentSessionStore) cleanupLoop() {
	defer close(s.done)
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			n, err := s.Sweep(context.Background())
			if err != nil {
				s.logger.Error("sweeping expired sessions", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("swept expired sessions", "count", n)
			}
		}
	}
}

// loadOrCreateSessionKey loads the session encryption key from storage,
// unsealing it with the wrapping key. If no key exists, or the wrapping key
// has changed, a new 32-byte random key is generated, sealed and persisted.
// In the second case all existing sessions become unreadable.
func loadOrCreateSessionKey(ctx context.Context, records storage.SessionRecords, wrappingKey []byte, logger *slog.Logger) ([]byte, error) {
	aad := icrypto.AADSessionKey(sessionSealVersion)

	env, err := records.Get(ctx, sessionKeyRecordID)
	switch {
	case err == nil:
		key, openErr := storage.OpenRecord(wrappingKey, env, aad)
		if openErr == nil && len(key) == util.AESKeySize {
			return key, nil
		}
		util.WipeBytes(key)
		logger.Warn("session key could not be unsealed; existing sessions are invalidated")
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("loading session key: %w", err)
	}

	key, err := util.RandomBytes(util.AESKeySize)
	if err != nil {
		return nil, err
	}
	sealed, err := storage.SealRecord(wrappingKey, key, aad)
	if err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("sealing new session key: %w", err)
	}
	if err := records.Put(ctx, sessionKeyRecordID, sealed, time.Time{}); err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("persisting session key: %w", err)
	}
	return key, nil
}
