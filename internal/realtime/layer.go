package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Snapshot is what consumers receive: the current result set of a query.
// Pending is true while an optimistic write has not been confirmed.
type Snapshot struct {
	Query   Query
	Records []Record
	Pending bool
}

// Consumer receives snapshots. It is called synchronously and must not block.
type Consumer func(Snapshot)

// Source loads the authoritative result set of a query.
type Source interface {
	Fetch(ctx context.Context, q Query) ([]Record, error)
}

// Mutation is an optimistic write. Record is shown to subscribers at once;
// Commit performs the real write and may return the stored version.
type Mutation struct {
	Collection string
	Op         Op
	Record     Record
	Fields     map[string]string
	Commit     func(ctx context.Context) (Record, error)
}

// Options tune a Layer.
type Options struct {
	Logger         *zap.Logger
	RefreshTimeout time.Duration
	// OnSubscriptions observes the number of live subscriptions.
	OnSubscriptions func(active int)
}

// Layer keeps one shared subscription per distinct query, applies
// optimistic writes to them and refreshes them from the Source whenever the
// Feed reports a change. A refreshed snapshot replaces the cache wholesale.
type Layer struct {
	source Source
	feed   Feed
	logger *zap.Logger
	opts   Options

	group singleflight.Group
	seq   uint64

	mu     sync.Mutex
	subs   map[string]*subscription
	nextID uint64
	base   context.Context
}

type subscription struct {
	key   string
	query Query

	mu         sync.Mutex
	consumers  map[uint64]Consumer
	records    []Record
	ready      bool
	pending    int
	appliedGen uint64
}

func NewLayer(source Source, feed Feed, opts Options) *Layer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 10 * time.Second
	}
	if feed == nil {
		feed = NewLocalFeed()
	}
	return &Layer{
		source: source,
		feed:   feed,
		logger: opts.Logger.With(zap.String("component", "realtime")),
		opts:   opts,
		subs:   make(map[string]*subscription),
		base:   context.Background(),
	}
}

// Start attaches the layer to its feed. ctx bounds feed-triggered refreshes.
func (l *Layer) Start(ctx context.Context) error {
	l.mu.Lock()
	l.base = ctx
	l.mu.Unlock()
	return l.feed.Listen(ctx, l.onChange)
}

// Active returns the number of live subscriptions.
func (l *Layer) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Subscribe registers consumer for q. The first consumer of a query triggers
// the initial fetch; later ones receive the cached snapshot immediately. The
// returned function is idempotent; the last one to run tears the
// subscription down.
func (l *Layer) Subscribe(ctx context.Context, q Query, consumer Consumer) (func(), error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("query collection required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer required")
	}

	key := q.Key()
	l.mu.Lock()
	sub, exists := l.subs[key]
	if !exists {
		sub = &subscription{key: key, query: q, consumers: make(map[uint64]Consumer)}
		l.subs[key] = sub
	}
	l.nextID++
	id := l.nextID
	sub.mu.Lock()
	sub.consumers[id] = consumer
	ready := sub.ready
	snap := sub.snapshotLocked()
	sub.mu.Unlock()
	active := len(l.subs)
	l.mu.Unlock()

	if !exists {
		l.reportSubscriptions(active)
	}

	var once sync.Once
	unsubscribe := func() { once.Do(func() { l.remove(key, id) }) }

	if ready {
		consumer(snap)
		return unsubscribe, nil
	}
	if err := l.refresh(ctx, key, q, false); err != nil {
		unsubscribe()
		return nil, err
	}
	return unsubscribe, nil
}

func (l *Layer) remove(key string, id uint64) {
	l.mu.Lock()
	sub, ok := l.subs[key]
	if !ok {
		l.mu.Unlock()
		return
	}
	sub.mu.Lock()
	delete(sub.consumers, id)
	empty := len(sub.consumers) == 0
	sub.mu.Unlock()
	if empty {
		delete(l.subs, key)
	}
	active := len(l.subs)
	l.mu.Unlock()

	if empty {
		l.reportSubscriptions(active)
	}
}

// refresh fetches q and replaces the live subscription's records. With
// force set, an in-flight fetch is not reused because it may predate the
// change being reacted to.
func (l *Layer) refresh(ctx context.Context, key string, q Query, force bool) error {
	if force {
		l.group.Forget(key)
	}
	_, err, _ := l.group.Do(key, func() (interface{}, error) {
		gen := atomic.AddUint64(&l.seq, 1)
		records, err := l.source.Fetch(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", key, err)
		}
		l.applySnapshot(key, gen, records)
		return nil, nil
	})
	return err
}

func (l *Layer) applySnapshot(key string, gen uint64, records []Record) {
	l.mu.Lock()
	sub := l.subs[key]
	l.mu.Unlock()
	if sub == nil {
		return
	}

	sub.mu.Lock()
	if gen <= sub.appliedGen {
		sub.mu.Unlock()
		return
	}
	sub.appliedGen = gen
	sub.records = append([]Record(nil), records...)
	sub.ready = true
	snap := sub.snapshotLocked()
	consumers := sub.consumerListLocked()
	sub.mu.Unlock()

	deliver(consumers, snap)
}

type undo struct {
	sub  *subscription
	prev Record
	had  bool
}

// Mutate applies m optimistically to every subscription of its collection,
// commits it, and either confirms or rolls back. On success a Change is
// published so other instances refresh.
func (l *Layer) Mutate(ctx context.Context, m Mutation) (Record, error) {
	if m.Record == nil || m.Commit == nil {
		return nil, fmt.Errorf("mutation requires record and commit")
	}
	if m.Op == "" {
		m.Op = OpUpsert
	}

	subs := l.collectionSubs(m.Collection, nil)
	undos := make([]undo, 0, len(subs))
	for _, sub := range subs {
		sub.mu.Lock()
		prev, had, touched := sub.applyLocked(m.Op, m.Record)
		if !touched {
			sub.mu.Unlock()
			continue
		}
		sub.pending++
		undos = append(undos, undo{sub: sub, prev: prev, had: had})
		snap, consumers := sub.snapshotLocked(), sub.consumerListLocked()
		sub.mu.Unlock()
		deliver(consumers, snap)
	}

	committed, err := m.Commit(ctx)
	if err != nil {
		for _, u := range undos {
			u.sub.mu.Lock()
			if u.had {
				u.sub.putLocked(u.prev)
			} else {
				u.sub.removeLocked(m.Record.RecordID())
			}
			u.sub.pending--
			snap, consumers := u.sub.snapshotLocked(), u.sub.consumerListLocked()
			u.sub.mu.Unlock()
			deliver(consumers, snap)
		}
		return nil, err
	}

	if committed == nil {
		committed = m.Record
	}
	for _, u := range undos {
		u.sub.mu.Lock()
		u.sub.applyLocked(m.Op, committed)
		u.sub.pending--
		snap, consumers := u.sub.snapshotLocked(), u.sub.consumerListLocked()
		u.sub.mu.Unlock()
		deliver(consumers, snap)
	}

	change := Change{Collection: m.Collection, RecordID: committed.RecordID(), Op: m.Op, Fields: m.Fields}
	if err := l.feed.Publish(ctx, change); err != nil {
		l.logger.Warn("publish change failed", zap.String("collection", m.Collection), zap.Error(err))
	}
	return committed, nil
}

func (l *Layer) onChange(change Change) {
	l.mu.Lock()
	base := l.base
	l.mu.Unlock()

	for _, sub := range l.collectionSubs(change.Collection, change.Fields) {
		ctx, cancel := context.WithTimeout(base, l.opts.RefreshTimeout)
		if err := l.refresh(ctx, sub.key, sub.query, true); err != nil {
			l.logger.Warn("refresh after change failed", zap.String("query", sub.key), zap.Error(err))
		}
		cancel()
	}
}

func (l *Layer) collectionSubs(collection string, fields map[string]string) []*subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*subscription, 0)
	for _, sub := range l.subs {
		if sub.query.Collection != collection {
			continue
		}
		if fields != nil && !sub.query.mayMatch(fields) {
			continue
		}
		out = append(out, sub)
	}
	return out
}

func (l *Layer) reportSubscriptions(active int) {
	if l.opts.OnSubscriptions != nil {
		l.opts.OnSubscriptions(active)
	}
}

// applyLocked writes rec into the cache according to op and the query. It
// returns the record it displaced and whether the cache changed at all.
func (s *subscription) applyLocked(op Op, rec Record) (prev Record, had, touched bool) {
	prev, had = s.findLocked(rec.RecordID())
	if op == OpUpsert && s.query.Matches(rec) {
		s.putLocked(rec)
		return prev, had, true
	}
	if had {
		s.removeLocked(rec.RecordID())
	}
	return prev, had, had
}

func (s *subscription) findLocked(id string) (Record, bool) {
	for _, r := range s.records {
		if r.RecordID() == id {
			return r, true
		}
	}
	return nil, false
}

func (s *subscription) putLocked(rec Record) {
	for i, r := range s.records {
		if r.RecordID() == rec.RecordID() {
			s.records[i] = rec
			return
		}
	}
	s.records = append(s.records, rec)
}

func (s *subscription) removeLocked(id string) {
	for i, r := range s.records {
		if r.RecordID() == id {
			s.records = append(s.records[:i:i], s.records[i+1:]...)
			return
		}
	}
}

func (s *subscription) snapshotLocked() Snapshot {
	return Snapshot{Query: s.query, Records: append([]Record(nil), s.records...), Pending: s.pending > 0}
}

func (s *subscription) consumerListLocked() []Consumer {
	out := make([]Consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		out = append(out, c)
	}
	return out
}

func deliver(consumers []Consumer, snap Snapshot) {
	for _, c := range consumers {
		c(snap)
	}
}
