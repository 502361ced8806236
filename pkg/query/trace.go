package query

import (
	"sort"
	"sync"
)

type TraceEventKind string

const (
	TraceEventSignalFetch  TraceEventKind = "signal_fetch"
	TraceEventCacheLookup  TraceEventKind = "cache_lookup"
	TraceEventSeedEntities TraceEventKind = "seed_entities"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	Signal     string
	ItemCount  int
	DurationMs int64
	Error      string

	CacheHit bool

	EntityIDs []string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom
// post-processing pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fans trace events out to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func recordSignalFetch(t Tracer, signal string, itemCount int, durationMs int64, err error) {
	if t == nil {
		return
	}
	event := TraceEvent{Kind: TraceEventSignalFetch, Signal: signal, ItemCount: itemCount, DurationMs: durationMs}
	if err != nil {
		event.Error = err.Error()
	}
	t.Record(event)
}

func recordCacheLookup(t Tracer, hit bool) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventCacheLookup, CacheHit: hit})
}

func recordSeedEntities(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventSeedEntities, EntityIDs: ids})
}

// QueryTrace collects what one or more query runs actually consulted: the
// signals fetched (and which of them failed), the entities that seeded graph
// expansion, and cache effectiveness.
//
// This backs debug output on the query path without threading counters
// through the ranker.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	fetchedSignals map[string]struct{}
	failedSignals  map[string]struct{}
	seedEntityIDs  map[string]struct{}
	cacheHits      int
	cacheMisses    int
}

type QueryTraceSnapshot struct {
	FetchedSignals []string
	FailedSignals  []string
	SeedEntityIDs  []string
	CacheHits      int
	CacheMisses    int
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		fetchedSignals: make(map[string]struct{}),
		failedSignals:  make(map[string]struct{}),
		seedEntityIDs:  make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventSignalFetch:
		if event.Signal == "" {
			return
		}
		t.fetchedSignals[event.Signal] = struct{}{}
		if event.Error != "" {
			t.failedSignals[event.Signal] = struct{}{}
		}
	case TraceEventCacheLookup:
		if event.CacheHit {
			t.cacheHits++
		} else {
			t.cacheMisses++
		}
	case TraceEventSeedEntities:
		for _, id := range event.EntityIDs {
			if id == "" {
				continue
			}
			t.seedEntityIDs[id] = struct{}{}
		}
	default:
		return
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		FetchedSignals: make([]string, 0, len(t.fetchedSignals)),
		FailedSignals:  make([]string, 0, len(t.failedSignals)),
		SeedEntityIDs:  make([]string, 0, len(t.seedEntityIDs)),
		CacheHits:      t.cacheHits,
		CacheMisses:    t.cacheMisses,
	}

	for signal := range t.fetchedSignals {
		s.FetchedSignals = append(s.FetchedSignals, signal)
	}
	for signal := range t.failedSignals {
		s.FailedSignals = append(s.FailedSignals, signal)
	}
	for id := range t.seedEntityIDs {
		s.SeedEntityIDs = append(s.SeedEntityIDs, id)
	}

	sort.Strings(s.FetchedSignals)
	sort.Strings(s.FailedSignals)
	sort.Strings(s.SeedEntityIDs)

	return s
}
