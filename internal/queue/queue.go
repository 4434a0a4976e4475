package queue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrMarkerExists is returned when a write-once marker is already present.
	ErrMarkerExists = errors.New("marker already exists")
)

//go:embed manifest.schema.json
var manifestSchemaJSON string

const manifestSchemaURL = "https://rsi.schemas.local/queue/manifest.schema.json"

// Claimer arbitrates exclusive processing of queue items.
type Claimer interface {
	Claim(ctx context.Context, stage, itemID, owner string, ttl time.Duration) (bool, error)
	Ack(ctx context.Context, stage, itemID, owner, outcome string) error
	Release(ctx context.Context, stage, itemID, owner, reason string) error
	Note(ctx context.Context, stage, itemID, owner, event, detail string) error
}

// Queue provides typed access to the queue directories.
type Queue struct {
	layout   Layout
	claims   Claimer
	owner    string
	leaseTTL time.Duration
	schema   *jsonschema.Schema
	logger   *slog.Logger

	mu      sync.Mutex
	written map[string]struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithClaimer sets the lease arbiter. Without one every claim succeeds,
// which is only safe for a single process.
func WithClaimer(c Claimer, owner string, ttl time.Duration) Option {
	return func(q *Queue) {
		q.claims = c
		q.owner = owner
		q.leaseTTL = ttl
	}
}

// WithLogger sets the logger for skipped or malformed entries.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// New creates the queue directories under layout and returns a Queue.
func New(layout Layout, opts ...Option) (*Queue, error) {
	if err := layout.Ensure(); err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(manifestSchemaURL, strings.NewReader(manifestSchemaJSON)); err != nil {
		return nil, fmt.Errorf("queue: manifest schema load failed: %w", err)
	}
	schema, err := c.Compile(manifestSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("queue: manifest schema compile failed: %w", err)
	}

	q := &Queue{
		layout:   layout,
		claims:   noopClaimer{},
		owner:    "local",
		leaseTTL: 10 * time.Minute,
		schema:   schema,
		logger:   slog.Default(),
		written:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Layout returns the directory layout.
func (q *Queue) Layout() Layout {
	return q.layout
}

// Owner returns the lease owner name used by this queue.
func (q *Queue) Owner() string {
	return q.owner
}

// Claim takes the lease on itemID for stage.
func (q *Queue) Claim(ctx context.Context, stage, itemID string) (bool, error) {
	return q.claims.Claim(ctx, stage, itemID, q.owner, q.leaseTTL)
}

// Ack completes the lease with outcome.
func (q *Queue) Ack(ctx context.Context, stage, itemID, outcome string) error {
	return q.claims.Ack(ctx, stage, itemID, q.owner, outcome)
}

// Release returns the lease so the item is retried later.
func (q *Queue) Release(ctx context.Context, stage, itemID, reason string) error {
	return q.claims.Release(ctx, stage, itemID, q.owner, reason)
}

// Note records an event for itemID that did not go through a claim. Audit
// failures are logged, never returned.
func (q *Queue) Note(ctx context.Context, stage, itemID, event, detail string) {
	if err := q.claims.Note(ctx, stage, itemID, q.owner, event, detail); err != nil {
		q.logger.Warn("audit write failed", "stage", stage, "item", itemID, "event", event, "error", err)
	}
}

// Depths counts visible entries in each area. The deployed area counts
// deployment markers only. Unreadable areas count as zero and are logged.
func (q *Queue) Depths() map[string]int {
	deployed := "." + string(TerminalDeployed)
	out := make(map[string]int, 4)
	for name, dir := range q.layout.Areas() {
		entries, err := visibleEntries(dir)
		if err != nil {
			q.logger.Warn("queue area unreadable", "area", name, "error", err)
		}
		n := 0
		for _, e := range entries {
			if name == "deployed" && (e.IsDir() || !strings.HasSuffix(e.Name(), deployed)) {
				continue
			}
			n++
		}
		out[name] = n
	}
	return out
}

type noopClaimer struct{}

func (noopClaimer) Claim(context.Context, string, string, string, time.Duration) (bool, error) {
	return true, nil
}

func (noopClaimer) Ack(context.Context, string, string, string, string) error { return nil }

func (noopClaimer) Release(context.Context, string, string, string, string) error { return nil }

func (noopClaimer) Note(context.Context, string, string, string, string, string) error { return nil }
