package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielbolivar/makers-challenge/common/retry"
	"github.com/danielbolivar/makers-challenge/internal/camaral/store"
)

const (
	// DefaultTimeout is the idle gap after which a conversation expires.
	DefaultTimeout = time.Hour

	// DefaultSummaryTimeout bounds the summarization call during rollover so
	// a slow provider cannot stall the user's new message indefinitely.
	DefaultSummaryTimeout = 30 * time.Second
)

// ConversationStore is the slice of the persistence layer the manager needs.
// Satisfied by *store.Store.
type ConversationStore interface {
	LastTurn(ctx context.Context, userID, channelID string) (string, time.Time, error)
	ConversationTurns(ctx context.Context, conversationID string) ([]store.Turn, error)
	LoadProfile(ctx context.Context, userID, channelID string) (store.Profile, error)
	UpsertProfile(ctx context.Context, userID, channelID, summary string) error
}

// Summarizer distills an expired conversation into an updated profile
// summary. It receives the previous summary and must return a complete
// replacement, never a delta. Summarizing the same inputs twice must yield
// the same output; rollover relies on that to be crash-safe.
type Summarizer interface {
	Summarize(ctx context.Context, currentSummary string, turns []store.Turn) (string, error)
}

// Session is what Begin hands the agent: the conversation to append to and
// the profile to personalize with.
type Session struct {
	ConversationID string
	State          State
	Profile        store.Profile
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClock injects the time source. Tests use this to control expiry.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithRetry overrides the backoff used for the profile write during rollover.
func WithRetry(cfg retry.Config) ManagerOption {
	return func(m *Manager) { m.retryCfg = cfg }
}

// Manager resolves which conversation an inbound message belongs to, and
// performs the summarize-then-rollover when the previous one has expired.
// Rollover for one (user, channel) pair is serialized with a keyed lock so
// two near-simultaneous messages cannot both summarize; distinct users never
// contend. A minted conversation ID is remembered per key until its first
// turn is persisted, so messages arriving in that window join the same new
// conversation instead of each rolling over again.
type Manager struct {
	store          ConversationStore
	summarizer     Summarizer
	timeout        time.Duration
	summaryTimeout time.Duration
	retryCfg       retry.Config
	now            func() time.Time
	logger         *slog.Logger

	mu      sync.Mutex
	locks   map[string]*userLock
	pending map[string]pendingConversation
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// pendingConversation is a conversation ID minted by Begin that has not
// received its first turn yet. It stays valid while the key's newest stored
// turn predates the mint.
type pendingConversation struct {
	conversationID string
	mintedAt       time.Time
}

// NewManager creates a conversation memory manager. Zero timeouts take the
// package defaults.
func NewManager(cs ConversationStore, summarizer Summarizer, timeout, summaryTimeout time.Duration, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if summaryTimeout <= 0 {
		summaryTimeout = DefaultSummaryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:          cs,
		summarizer:     summarizer,
		timeout:        timeout,
		summaryTimeout: summaryTimeout,
		retryCfg:       retry.DefaultConfig,
		now:            time.Now,
		logger:         logger,
		locks:          make(map[string]*userLock),
		pending:        make(map[string]pendingConversation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin resolves the session for an inbound message. For an active
// conversation it returns the existing conversation ID. For an expired one it
// first folds the old conversation into the profile, then mints a fresh ID.
// The new ID is not persisted here; the first appended turn establishes it.
// Until that turn lands, later calls for the same user and channel return the
// same ID.
func (m *Manager) Begin(ctx context.Context, userID, channelID string) (Session, error) {
	key := userID + "|" + channelID
	lock := m.acquire(key)
	defer m.release(key, lock)

	// Resolve under the lock. A concurrent message for the same user may
	// have already rolled the conversation over while we waited.
	lastConv, lastAt, err := m.store.LastTurn(ctx, userID, channelID)
	if err != nil {
		return Session{}, fmt.Errorf("memory: last turn: %w", err)
	}

	state := ResolveState(m.now(), lastAt, m.timeout)
	if state == StateActive {
		m.clearPending(key)
		profile, err := m.store.LoadProfile(ctx, userID, channelID)
		if err != nil {
			return Session{}, fmt.Errorf("memory: load profile: %w", err)
		}
		return Session{ConversationID: lastConv, State: state, Profile: profile}, nil
	}

	// An earlier Begin may already have rolled over and minted a conversation
	// whose first turn has not landed yet. Reuse its ID so one expiry yields
	// one summarization and one new conversation, not one per message.
	if id, ok := m.pendingID(key, lastAt); ok {
		profile, err := m.store.LoadProfile(ctx, userID, channelID)
		if err != nil {
			return Session{}, fmt.Errorf("memory: load profile: %w", err)
		}
		return Session{ConversationID: id, State: state, Profile: profile}, nil
	}

	if state == StateExpired {
		if err := m.rollover(ctx, userID, channelID, lastConv); err != nil {
			return Session{}, err
		}
	}

	profile, err := m.store.LoadProfile(ctx, userID, channelID)
	if err != nil {
		return Session{}, fmt.Errorf("memory: load profile: %w", err)
	}
	sess := Session{
		ConversationID: uuid.NewString(),
		State:          state,
		Profile:        profile,
	}
	m.setPending(key, sess.ConversationID)
	return sess, nil
}

// pendingID returns the minted-but-unpersisted conversation ID for key, if
// any. A stored turn at or after the mint means the pending entry has been
// superseded and is dropped.
func (m *Manager) pendingID(key string, lastAt time.Time) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[key]
	if !ok {
		return "", false
	}
	if !lastAt.Before(p.mintedAt) {
		delete(m.pending, key)
		return "", false
	}
	return p.conversationID, true
}

func (m *Manager) setPending(key, conversationID string) {
	m.mu.Lock()
	m.pending[key] = pendingConversation{conversationID: conversationID, mintedAt: m.now()}
	m.mu.Unlock()
}

func (m *Manager) clearPending(key string) {
	m.mu.Lock()
	delete(m.pending, key)
	m.mu.Unlock()
}

// rollover summarizes the expired conversation into the profile. A failed
// summarization keeps the existing profile, logs, and lets the new
// conversation start anyway; losing one summary beats blocking the user.
// A failed profile WRITE after a successful summarization is different: the
// write is retried and, if it still fails, the whole Begin fails so the
// expired transcript is not silently dropped.
func (m *Manager) rollover(ctx context.Context, userID, channelID, conversationID string) error {
	profile, err := m.store.LoadProfile(ctx, userID, channelID)
	if err != nil {
		return fmt.Errorf("memory: load profile: %w", err)
	}

	turns, err := m.store.ConversationTurns(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("memory: load expired conversation: %w", err)
	}
	if len(turns) == 0 {
		return nil
	}

	sumCtx, cancel := context.WithTimeout(ctx, m.summaryTimeout)
	defer cancel()

	summary, err := m.summarizer.Summarize(sumCtx, profile.Summary, turns)
	if err != nil {
		m.logger.WarnContext(ctx, "conversation summarization failed, keeping previous profile",
			slog.String("user_id", userID),
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()))
		return nil
	}
	if summary == "" || summary == profile.Summary {
		return nil
	}

	err = retry.Do(ctx, m.retryCfg, func() error {
		return m.store.UpsertProfile(ctx, userID, channelID, summary)
	})
	if err != nil {
		return fmt.Errorf("memory: persist profile: %w", err)
	}

	m.logger.InfoContext(ctx, "conversation folded into profile",
		slog.String("user_id", userID),
		slog.String("conversation_id", conversationID),
		slog.Int("turns", len(turns)))
	return nil
}

func (m *Manager) acquire(key string) *userLock {
	m.mu.Lock()
	e := m.locks[key]
	if e == nil {
		e = &userLock{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return e
}

func (m *Manager) release(key string, e *userLock) {
	e.mu.Unlock()

	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}
