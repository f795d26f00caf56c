package relay

import (
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/relay/internal/approval"
	"github.com/petrijr/relay/internal/dispatch"
	"github.com/petrijr/relay/internal/engine"
	"github.com/petrijr/relay/internal/persistence"
	"github.com/petrijr/relay/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Runner               = api.Runner
	WorkflowDefinition   = api.WorkflowDefinition
	StepDefinition       = api.StepDefinition
	StepFunc             = api.StepFunc
	RunContext           = api.RunContext
	RunResult            = api.RunResult
	RunStatus            = api.RunStatus
	RetryPolicy          = api.RetryPolicy
	LogRecord            = api.LogRecord
	Level                = api.Level
	Draft                = api.Draft
	DraftStatus          = api.DraftStatus
	DraftController      = api.DraftController
	DispatchResult       = api.DispatchResult
	Sender               = api.Sender
	SenderFunc           = api.SenderFunc
	Stores               = api.Stores
	RunLogStore          = api.RunLogStore
	StateStore           = api.StateStore
	DraftStore           = api.DraftStore
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	NoopObserver         = api.NoopObserver
	CompositeObserver    = api.CompositeObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export the error classification helpers and the scheduler exit
// code mapping.

var (
	Retryable    = api.Retryable
	NonRetryable = api.NonRetryable
	IsRetryable  = api.IsRetryable
	ExitCode     = api.ExitCode
)

// Re-export draft status values for convenience.

const (
	DraftPending    = api.DraftPending
	DraftApproved   = api.DraftApproved
	DraftRejected   = api.DraftRejected
	DraftSent       = api.DraftSent
	DraftSendFailed = api.DraftSendFailed
)

// Store constructors
// These wrap the internal/persistence package so external callers
// never need to import internal packages.

// NewMemoryStores returns a Stores bundle backed entirely by in-memory
// maps. Nothing is durable; intended for tests and local development.
func NewMemoryStores() Stores {
	return persistence.NewMemoryStores()
}

// NewFileStores returns a Stores bundle rooted at dir: JSONL run logs
// under logs/, one JSON state document per workflow under state/, and
// the draft collection in drafts.json. All writes go through the
// write-temp-then-rename protocol.
func NewFileStores(dir string) Stores {
	return persistence.NewFileStores(dir)
}

// NewSQLiteStores returns a Stores bundle persisting in a SQLite
// database. The caller is responsible for importing a driver, e.g.:
//
//	import _ "modernc.org/sqlite"
func NewSQLiteStores(db *sql.DB) (Stores, error) {
	return persistence.NewSQLiteStores(db)
}

// NewPostgresStateStore returns a StateStore persisting in PostgreSQL.
func NewPostgresStateStore(db *sql.DB) (StateStore, error) {
	return persistence.NewPostgresStateStore(db)
}

// NewPostgresDraftStore returns a DraftStore persisting in PostgreSQL.
func NewPostgresDraftStore(db *sql.DB) (DraftStore, error) {
	return persistence.NewPostgresDraftStore(db)
}

// NewRedisStateStore returns a StateStore persisting in Redis under
// the given key prefix (e.g. "relay:").
func NewRedisStateStore(client *redis.Client, prefix string) StateStore {
	return persistence.NewRedisStateStore(client, prefix)
}

// NewRedisDraftStore returns a DraftStore persisting in Redis under
// the given key prefix.
func NewRedisDraftStore(client *redis.Client, prefix string) DraftStore {
	return persistence.NewRedisDraftStore(client, prefix)
}

// Runner constructors

// NewRunner returns a Runner executing workflows against the given
// stores.
func NewRunner(stores Stores) Runner {
	return engine.New(engine.Config{Stores: stores})
}

// NewRunnerWithObserver returns a Runner with the given Observer.
func NewRunnerWithObserver(stores Stores, obs Observer) Runner {
	return engine.New(engine.Config{Stores: stores, Observer: obs})
}

// NewInMemoryRunner returns a Runner backed entirely by in-memory
// stores. Best for tests.
func NewInMemoryRunner() Runner {
	return NewRunner(NewMemoryStores())
}

// Controller constructor

// ControllerConfig describes how to construct a DraftController.
// Drafts and Sender are required.
type ControllerConfig struct {
	Drafts api.DraftStore
	Sender api.Sender

	// TestSender, when set, receives TestSend dispatches instead of
	// Sender. Typically a sender configured with a single recipient.
	TestSender api.Sender

	// DispatchRetry wraps the Sender call during Approve. A zero value
	// selects the default policy (3 attempts, 2s initial backoff,
	// doubling, capped at 30s).
	DispatchRetry RetryPolicy

	Logger *slog.Logger
}

// NewController returns a DraftController enforcing the draft state
// machine over the given store, with dispatch delegated to the Sender.
func NewController(cfg ControllerConfig) DraftController {
	return approval.New(approval.Config{
		Drafts:        cfg.Drafts,
		Sender:        cfg.Sender,
		TestSender:    cfg.TestSender,
		DispatchRetry: cfg.DispatchRetry,
		Logger:        cfg.Logger,
	})
}

// NewHTTPSender returns a Sender that dispatches a message to each
// recipient via a WhatsApp-gateway style HTTP API (form-encoded POST to
// {baseURL}/send/text with the token in a header).
func NewHTTPSender(baseURL, token string, recipients []string) Sender {
	return &dispatch.HTTPSender{
		BaseURL:    baseURL,
		Token:      token,
		Recipients: recipients,
	}
}
