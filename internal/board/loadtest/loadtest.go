// Package loadtest drives concurrent sessions against the synchronization
// engine and checks what the board looks like afterwards.
//
// Every simulated session owns a disjoint set of items and repeatedly submits
// updateItems for the whole set with freshly shuffled order values. Since
// intents are last-commit-wins and the sets do not overlap, the final board
// must hold the union of every session's last successful submission, with
// each item carrying exactly the order its owner sent last.
package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/steveyegge/launchboard/internal/board/db"
	"github.com/steveyegge/launchboard/internal/board/schema"
	boardsync "github.com/steveyegge/launchboard/internal/board/sync"
)

// Options configures a test board.
type Options struct {
	Sessions        int // Concurrent sessions
	ItemsPerSession int // Items owned by each session
	FolderPct       float64
	Seed            int64
}

// TestBoard represents a seeded board for load testing.
type TestBoard struct {
	Store  db.Store
	Engine *boardsync.Engine
	Hub    *CountingHub

	opts     Options
	sessions []*simSession
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalIntents int
	Errors       int
	Durations    []time.Duration
}

// CountingHub is a Broadcaster that records what would have been delivered.
type CountingHub struct {
	mu           sync.Mutex
	broadcasts   int
	errors       int
	lastRevision int64
}

// Broadcast implements the engine's Broadcaster.
func (h *CountingHub) Broadcast(env schema.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.broadcasts++
	switch env.Type {
	case schema.EventError:
		h.errors++
	case schema.EventUpdateState:
		var update schema.StateUpdate
		if err := json.Unmarshal(env.Data, &update); err == nil && update.Revision > h.lastRevision {
			h.lastRevision = update.Revision
		}
	}
}

// SendTo implements the engine's Broadcaster. Simulated sessions have no
// connection, so targeted events are only counted.
func (h *CountingHub) SendTo(_ string, env schema.Envelope) bool {
	h.Broadcast(env)
	return true
}

// Counts returns the number of broadcasts, error events among them, and the
// highest revision seen in an updateState.
func (h *CountingHub) Counts() (broadcasts, errors int, lastRevision int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcasts, h.errors, h.lastRevision
}

// simSession is one simulated client and the last batch it got accepted.
type simSession struct {
	id       string
	folderID *string
	itemIDs  []string
	rng      *rand.Rand

	mu       sync.Mutex
	accepted []schema.Item
	applied  int
}

// CreateTestBoard opens the store named by dsn and seeds one folder per
// session that should keep its items in a folder. The engine always runs with
// the preserve order policy so submitted orders can be checked verbatim.
func CreateTestBoard(ctx context.Context, dsn string, opts Options) (*TestBoard, error) {
	if opts.Sessions <= 0 || opts.ItemsPerSession <= 0 {
		return nil, fmt.Errorf("sessions and items per session must be positive")
	}

	store, err := db.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// Optimize connection pool for high concurrency testing
	if sqlStore, ok := store.(*db.SQLStore); ok {
		sqlStore.RawDB().SetMaxOpenConns(opts.Sessions + 10)
		sqlStore.RawDB().SetMaxIdleConns(opts.Sessions)
		sqlStore.RawDB().SetConnMaxLifetime(10 * time.Minute)
	}

	hub := &CountingHub{}
	cfg := boardsync.DefaultConfig()
	cfg.OrderPolicy = boardsync.OrderPreserve
	cfg.Logger = log.WithField("component", "loadtest")

	tb := &TestBoard{
		Store:  store,
		Engine: boardsync.New(store, hub, nil, cfg),
		Hub:    hub,
		opts:   opts,
	}

	// Use deterministic random for reproducibility
	rng := rand.New(rand.NewSource(opts.Seed))
	var folders []schema.Folder
	for i := 0; i < opts.Sessions; i++ {
		s := &simSession{
			id:  fmt.Sprintf("session-%03d", i),
			rng: rand.New(rand.NewSource(opts.Seed + int64(i) + 1)),
		}
		if rng.Float64() < opts.FolderPct {
			f := schema.Folder{ID: fmt.Sprintf("lt-f%03d", i), Name: fmt.Sprintf("Folder %d", i), Order: len(folders)}
			folders = append(folders, f)
			s.folderID = schema.FolderRef(f.ID)
		}
		for j := 0; j < opts.ItemsPerSession; j++ {
			s.itemIDs = append(s.itemIDs, fmt.Sprintf("lt-%03d-%04d", i, j))
		}
		tb.sessions = append(tb.sessions, s)
	}

	if len(folders) > 0 {
		if err := store.UpsertFolders(ctx, folders, db.UpsertOptions{}); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to seed folders: %w", err)
		}
	}
	return tb, nil
}

// Close closes the test store.
func (tb *TestBoard) Close() error {
	if tb.Store != nil {
		return tb.Store.Close()
	}
	return nil
}

// RunConcurrentSessions has every session submit updatesPerSession batches
// concurrently and returns the latency of each intent.
func (tb *TestBoard) RunConcurrentSessions(ctx context.Context, updatesPerSession int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, len(tb.sessions))
	errorsChan := make(chan error, len(tb.sessions)*updatesPerSession)

	for _, s := range tb.sessions {
		wg.Add(1)
		go func(s *simSession) {
			defer wg.Done()

			durations := make([]time.Duration, 0, updatesPerSession)
			for j := 0; j < updatesPerSession; j++ {
				if ctx.Err() != nil {
					break
				}
				batch := s.nextBatch(j)
				raw, err := json.Marshal(batch)
				if err != nil {
					errorsChan <- fmt.Errorf("%s: failed to encode batch: %w", s.id, err)
					continue
				}

				start := time.Now()
				err = tb.Engine.UpdateItems(ctx, s.id, raw)
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("%s update %d failed: %w", s.id, j, err)
					continue
				}
				s.accept(batch)
			}
			resultsChan <- durations
		}(s)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	errorCount := 0
	for err := range errorsChan {
		errorCount++
		log.WithError(err).Warn("intent failed")
	}

	var allDurations []time.Duration
	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}
	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no intents completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount
	return stats, nil
}

// Verify checks the store against what the sessions got accepted: every
// accepted item is present with its last submitted fields, no other items
// exist, and one broadcast went out per accepted batch.
func (tb *TestBoard) Verify(ctx context.Context) error {
	items, err := tb.Store.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}
	stored := make(map[string]schema.Item, len(items))
	for _, item := range items {
		stored[item.ID] = item
	}

	want, applied := 0, 0
	for _, s := range tb.sessions {
		s.mu.Lock()
		accepted, n := s.accepted, s.applied
		s.mu.Unlock()

		applied += n
		want += len(accepted)
		for _, item := range accepted {
			got, ok := stored[item.ID]
			if !ok {
				return fmt.Errorf("item %s missing from store", item.ID)
			}
			if got.Order != item.Order || got.Title != item.Title || got.Group() != item.Group() {
				return fmt.Errorf("item %s: stored %+v, last submitted %+v", item.ID, got, item)
			}
		}
	}
	if len(items) != want {
		return fmt.Errorf("store holds %d items, sessions submitted %d", len(items), want)
	}

	broadcasts, errs, _ := tb.Hub.Counts()
	if broadcasts-errs != applied {
		return fmt.Errorf("%d state broadcasts for %d accepted batches", broadcasts-errs, applied)
	}

	orders := make(map[string][]int)
	for _, item := range items {
		orders[item.Group()] = append(orders[item.Group()], item.Order)
	}
	for group := range orders {
		if !sort.IntsAreSorted(orders[group]) {
			return fmt.Errorf("group %q not listed in order", group)
		}
	}
	return nil
}

func (s *simSession) nextBatch(round int) []schema.Item {
	perm := s.rng.Perm(len(s.itemIDs))
	batch := make([]schema.Item, len(s.itemIDs))
	for i, id := range s.itemIDs {
		batch[i] = schema.Item{
			ID:       id,
			Title:    fmt.Sprintf("%s r%d", id, round),
			Icon:     "□",
			FolderID: s.folderID,
			Order:    perm[i],
		}
	}
	return batch
}

func (s *simSession) accept(batch []schema.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = batch
	s.applied++
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	// Sort durations for percentile calculation
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalIntents: len(durations),
		Durations:    sorted,
	}
}

// PrintStats formats latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Intents: %s\n", humanize.Comma(int64(s.TotalIntents)))
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

// GetStats returns statistics about the test board.
func (tb *TestBoard) GetStats() map[string]interface{} {
	folders := 0
	for _, s := range tb.sessions {
		if s.folderID != nil {
			folders++
		}
	}
	return map[string]interface{}{
		"sessions":          len(tb.sessions),
		"items_per_session": tb.opts.ItemsPerSession,
		"total_items":       len(tb.sessions) * tb.opts.ItemsPerSession,
		"folders":           folders,
	}
}
