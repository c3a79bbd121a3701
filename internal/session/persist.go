package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soyeahso/turnstile/internal/coord"
	"github.com/soyeahso/turnstile/internal/domain"
)

// errLockLost means the lock expired and another request now holds it.
var errLockLost = errors.New("session lock lost")

// acquire takes the session lock for requestID. A lock already held by the
// same request id is re-entered and its TTL refreshed.
func (o *Orchestrator) acquire(ctx context.Context, sessionID, requestID string) (bool, error) {
	key := o.keys.SessionLock(sessionID)
	ok, err := o.store.SetNX(ctx, key, []byte(requestID), o.cfg.LockTTL())
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	if ok {
		return true, nil
	}
	ok, err = o.store.CompareAndExpire(ctx, key, []byte(requestID), o.cfg.LockTTL())
	if err != nil {
		return false, fmt.Errorf("re-enter lock: %w", err)
	}
	return ok, nil
}

// release drops the lock only if requestID still holds it.
func (o *Orchestrator) release(ctx context.Context, sessionID, requestID string) {
	ok, err := o.store.CompareAndDelete(ctx, o.keys.SessionLock(sessionID), []byte(requestID))
	if err != nil {
		o.log.Warn().Err(err).Str("session", sessionID).Str("request", requestID).Msg("lock release failed")
		return
	}
	if !ok {
		o.log.Debug().Str("session", sessionID).Str("request", requestID).Msg("lock already expired at release")
	}
}

// holder returns the request id currently holding the lock, if any.
func (o *Orchestrator) holder(ctx context.Context, sessionID string) string {
	b, err := o.store.Get(ctx, o.keys.SessionLock(sessionID))
	if err != nil {
		return ""
	}
	return string(b)
}

// loadState returns the persisted state or a fresh INIT record.
func (o *Orchestrator) loadState(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	b, err := o.store.Get(ctx, o.keys.SessionState(sessionID))
	if errors.Is(err, coord.ErrNotFound) {
		return domain.NewSessionState(sessionID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	var st domain.SessionState
	if err := json.Unmarshal(b, &st); err != nil {
		o.log.Warn().Err(err).Str("session", sessionID).Msg("discarding unreadable session state")
		return domain.NewSessionState(sessionID), nil
	}
	if !st.State.Valid() {
		st.State = domain.StateInit
	}
	st.SessionID = sessionID
	return &st, nil
}

// checkpoint persists st while st.RequestID still holds the session lock,
// refreshing the lock TTL in the same atomic step. A lock held by anyone
// else yields errLockLost and nothing is written.
func (o *Orchestrator) checkpoint(ctx context.Context, st *domain.SessionState) error {
	st.UpdatedAt = o.now().UTC()
	st.Version++
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	ok, err := o.store.SetIfHolder(ctx,
		o.keys.SessionLock(st.SessionID), []byte(st.RequestID), o.cfg.LockTTL(),
		o.keys.SessionState(st.SessionID), b, o.cfg.TTL())
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if !ok {
		return errLockLost
	}
	return nil
}

// peekIdempotent returns the stored response for a finished request.
func (o *Orchestrator) peekIdempotent(ctx context.Context, sessionID, requestID string) ([]byte, bool, error) {
	rec, err := o.store.Get(ctx, o.keys.Idempotency(sessionID, requestID))
	if errors.Is(err, coord.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read idempotency record: %w", err)
	}
	body, err := decodeRecord(rec)
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func (o *Orchestrator) writeIdempotent(ctx context.Context, sessionID, requestID string, body []byte) error {
	rec := encodeRecord(body, o.cfg.CompressAboveBytes)
	if err := o.store.Set(ctx, o.keys.Idempotency(sessionID, requestID), rec, o.cfg.IdempotencyTTL()); err != nil {
		return fmt.Errorf("write idempotency record: %w", err)
	}
	return nil
}
