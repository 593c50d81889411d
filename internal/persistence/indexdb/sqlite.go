package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"frostanchor.ai/internal/persistence/snapshot"
	"frostanchor.ai/internal/sim/anchors"
	"frostanchor.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index of engine mutations, snapshots and
// censuses. Writes are queued and applied by one goroutine; the audit JSONL stays the
// source of truth, so a full queue drops rather than stalls the simulation.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropMutation atomic.Uint64
	dropSnapshot atomic.Uint64
	dropCensus   atomic.Uint64
	writeFail    atomic.Uint64
}

type reqKind int

const (
	reqMutation reqKind = iota + 1
	reqSnapshot
	reqCensus
	reqFlush
)

type req struct {
	kind reqKind

	mutation anchors.Mutation
	snapshot snapshotRow
	census   censusRow
	flushed  chan struct{}
}

type snapshotRow struct {
	Tick     uint64
	Path     string
	Seed     int64
	Sections int
	Markers  int
}

type censusRow struct {
	Tick          uint64
	Anchors       int
	Jobs          int
	PendingProbes int
	Observers     int
	Raw           string
}

// Stats is a point-in-time view of the writer queue.
type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropMutation  uint64 `json:"drop_mutation_total"`
	DropSnapshot  uint64 `json:"drop_snapshot_total"`
	DropCensus    uint64 `json:"drop_census_total"`
	WriteFail     uint64 `json:"write_fail_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Thaws after a conversion can touch a few hundred cells in one tick.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tunings (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS mutations (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			dim TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			from_block TEXT NOT NULL,
			to_block TEXT NOT NULL,
			anchor TEXT,
			reason TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mutations_anchor_tick ON mutations(anchor, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_mutations_pos_tick ON mutations(dim, x, z, y, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			sections INTEGER NOT NULL,
			markers INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS censuses (
			tick INTEGER PRIMARY KEY,
			anchors INTEGER NOT NULL,
			jobs INTEGER NOT NULL,
			pending_probes INTEGER NOT NULL,
			observers INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Record queues one mutation. It satisfies anchors.Sink.
func (s *SQLiteIndex) Record(m anchors.Mutation) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqMutation, mutation: m}:
	default:
		s.dropMutation.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:     snap.Header.Tick,
		Path:     path,
		Seed:     snap.Seed,
		Sections: len(snap.Sections),
		Markers:  len(snap.Markers),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func (s *SQLiteIndex) RecordCensus(c anchors.Census) {
	if s == nil || s.closed.Load() {
		return
	}
	raw, _ := json.Marshal(c)
	r := censusRow{
		Tick:          c.Tick,
		Anchors:       len(c.Anchors),
		Jobs:          len(c.Jobs),
		PendingProbes: c.PendingProbes,
		Observers:     c.Observers,
		Raw:           string(raw),
	}
	select {
	case s.ch <- req{kind: reqCensus, census: r}:
	default:
		s.dropCensus.Add(1)
	}
}

// Flush blocks until everything queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, flushed: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropMutation:  s.dropMutation.Load(),
		DropSnapshot:  s.dropSnapshot.Load(),
		DropCensus:    s.dropCensus.Load(),
		WriteFail:     s.writeFail.Load(),
	}
}

// UpsertTuning stores the tuning actually applied, keyed by its canonical digest.
func (s *SQLiteIndex) UpsertTuning(ctx context.Context, tune tuning.Tuning) (string, error) {
	if s == nil {
		return "", nil
	}
	digest, b, err := tuning.Digest(tune)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO tunings(digest,json,updated_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return digest, nil
}

// MutationRow is one indexed mutation.
type MutationRow struct {
	Tick   uint64 `json:"tick"`
	Seq    int    `json:"seq"`
	Dim    string `json:"dim"`
	Pos    [3]int `json:"pos"`
	From   string `json:"from"`
	To     string `json:"to"`
	Anchor string `json:"anchor,omitempty"`
	Reason string `json:"reason"`
}

// MutationsAt returns the history of one cell, oldest first.
func (s *SQLiteIndex) MutationsAt(ctx context.Context, dim string, pos [3]int) ([]MutationRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick,seq,dim,x,y,z,from_block,to_block,COALESCE(anchor,''),reason FROM mutations
		 WHERE dim=? AND x=? AND z=? AND y=? ORDER BY tick,seq`,
		dim, pos[0], pos[2], pos[1])
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MutationRow
	for rows.Next() {
		var r MutationRow
		var tick int64
		if err := rows.Scan(&tick, &r.Seq, &r.Dim, &r.Pos[0], &r.Pos[1], &r.Pos[2], &r.From, &r.To, &r.Anchor, &r.Reason); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByReason tallies indexed mutations per reason.
func (s *SQLiteIndex) CountByReason(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT reason, COUNT(*) FROM mutations GROUP BY reason`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		out[reason] = n
	}
	return out, rows.Err()
}

// LatestSnapshot returns the path of the newest indexed snapshot.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (string, uint64, error) {
	var path string
	var tick int64
	err := s.db.QueryRowContext(ctx, `SELECT path, tick FROM snapshots ORDER BY tick DESC LIMIT 1`).Scan(&path, &tick)
	if err != nil {
		return "", 0, err
	}
	return path, uint64(tick), nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertMutation, _ := s.db.Prepare(`INSERT OR REPLACE INTO mutations(tick,seq,dim,x,y,z,from_block,to_block,anchor,reason) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,seed,sections,markers) VALUES(?,?,?,?,?)`)
	insertCensus, _ := s.db.Prepare(`INSERT OR REPLACE INTO censuses(tick,anchors,jobs,pending_probes,observers,raw_json) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertMutation, insertSnapshot, insertCensus} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastTick uint64
		seq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeFail.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeFail.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeFail.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.flushed)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqMutation:
			m := r.mutation
			if m.Tick != lastTick {
				lastTick = m.Tick
				seq = 0
			}
			var anchor any
			if m.Anchor != "" {
				anchor = m.Anchor
			}
			exec(insertMutation, int64(m.Tick), seq, m.DimID, m.Pos[0], m.Pos[1], m.Pos[2], m.From, m.To, anchor, m.Reason)
			seq++

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.Seed, sn.Sections, sn.Markers)

		case reqCensus:
			c := r.census
			exec(insertCensus, int64(c.Tick), c.Anchors, c.Jobs, c.PendingProbes, c.Observers, c.Raw)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
