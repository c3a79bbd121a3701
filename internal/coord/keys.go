package coord

import "time"

// DefaultPrefix namespaces every key turnstile writes.
const DefaultPrefix = "turnstile:"

// Keyspace builds the store keys for every record family.
type Keyspace struct {
	prefix string
}

// NewKeyspace returns a Keyspace using prefix. An empty prefix means
// DefaultPrefix.
func NewKeyspace(prefix string) Keyspace {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Keyspace{prefix: prefix}
}

// Prefix returns the configured key prefix.
func (k Keyspace) Prefix() string { return k.prefix }

func (k Keyspace) SessionState(sessionID string) string {
	return k.prefix + "session:" + sessionID + ":state"
}

func (k Keyspace) SessionLock(sessionID string) string {
	return k.prefix + "session:" + sessionID + ":lock"
}

func (k Keyspace) Idempotency(sessionID, requestID string) string {
	return k.prefix + "session:" + sessionID + ":idem:" + requestID
}

func (k Keyspace) History(sessionID string) string {
	return k.prefix + "session:" + sessionID + ":history"
}

func (k Keyspace) Summary(sessionID string) string {
	return k.prefix + "session:" + sessionID + ":summary"
}

func (k Keyspace) SummaryPending(sessionID string) string {
	return k.prefix + "session:" + sessionID + ":summary:pending"
}

func (k Keyspace) SummaryQueue() string {
	return k.prefix + "queue:summaries"
}

func (k Keyspace) SummaryAudit() string {
	return k.prefix + "audit:summaries"
}

func (k Keyspace) UserTokens(userID, day string) string {
	return k.prefix + "usage:user:" + userID + ":" + day + ":tokens"
}

func (k Keyspace) UserRequests(userID, day string) string {
	return k.prefix + "usage:user:" + userID + ":" + day + ":requests"
}

func (k Keyspace) SessionTokens(sessionID string) string {
	return k.prefix + "usage:session:" + sessionID + ":tokens"
}

func (k Keyspace) ModelTokens(model, day string) string {
	return k.prefix + "usage:model:" + model + ":" + day + ":tokens"
}

func (k Keyspace) UsageDetail(userID, day string) string {
	return k.prefix + "usage:detail:" + userID + ":" + day
}

func (k Keyspace) BillingQueue() string {
	return k.prefix + "billing:queue"
}

// Day formats t as the UTC yyyymmdd bucket used by daily counters.
func Day(t time.Time) string {
	return t.UTC().Format("20060102")
}

// UntilEndOfDay returns the time left in t's UTC day.
func UntilEndOfDay(t time.Time) time.Duration {
	u := t.UTC()
	end := time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
	return end.Sub(u)
}
