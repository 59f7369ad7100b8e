package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	_ "modernc.org/sqlite"
)

// Store presents a typed CRUD+transaction API over the entity set of the
// data model. Reads are lock-free after open; every write acquires the
// process-wide store mutex (mu), matching spec §4.1's single-writer
// discipline.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// TxStore mirrors Store's write API but operates on an already-held
// transaction/lock; it is handed to the callback of WithTransaction so
// nested calls never re-acquire mu (deadlock-free).
type TxStore struct {
	tx *sql.Tx
}

// Open creates a fresh in-memory relational store for one process
// Session. The DSN uses a uniquely named in-memory database per Store so
// connections of the same Store share state while separate Stores in
// one process do not, even though in practice the Store serializes all
// writes through mu and keeps a single *sql.DB.
func Open() (*Store, error) {
	db, err := sql.Open("sqlite", "file:aipack-"+uuid.NewString()+"?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // single physical in-memory connection
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE session (id INTEGER PRIMARY KEY, uid TEXT UNIQUE NOT NULL, started_at INTEGER NOT NULL);
CREATE TABLE run (
	id INTEGER PRIMARY KEY, uid TEXT UNIQUE NOT NULL, session_id INTEGER NOT NULL,
	parent_run_id INTEGER, agent_name TEXT, agent_path TEXT, model TEXT, concurrency INTEGER, label TEXT,
	start INTEGER, ba_start INTEGER, ba_end INTEGER, tasks_start INTEGER, tasks_end INTEGER,
	aa_start INTEGER, aa_end INTEGER, end INTEGER, end_state TEXT NOT NULL DEFAULT '',
	total_cost_usd REAL NOT NULL DEFAULT 0, total_task_ms INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE task (
	id INTEGER PRIMARY KEY, uid TEXT UNIQUE NOT NULL, run_id INTEGER NOT NULL, idx INTEGER NOT NULL, label TEXT,
	input_short TEXT, input_uid TEXT, output_short TEXT, output_uid TEXT,
	input_tokens INTEGER NOT NULL DEFAULT 0, output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0, model_ov TEXT,
	data_start INTEGER, data_end INTEGER, ai_start INTEGER, ai_end INTEGER,
	output_start INTEGER, output_end INTEGER, end INTEGER, end_state TEXT NOT NULL DEFAULT '',
	UNIQUE(run_id, idx)
);
CREATE TABLE inout_blob (id INTEGER PRIMARY KEY, task_uid TEXT NOT NULL, kind TEXT NOT NULL, typ TEXT NOT NULL, content TEXT NOT NULL);
CREATE TABLE log (id INTEGER PRIMARY KEY, run_id INTEGER NOT NULL, task_id INTEGER, kind TEXT NOT NULL, step TEXT, stage TEXT, message TEXT, at INTEGER NOT NULL);
CREATE TABLE err (id INTEGER PRIMARY KEY, run_id INTEGER NOT NULL, task_id INTEGER, stage TEXT, typ TEXT, content TEXT, at INTEGER NOT NULL);
CREATE TABLE pin (id INTEGER PRIMARY KEY, run_id INTEGER NOT NULL, task_id INTEGER NOT NULL DEFAULT 0, iden TEXT NOT NULL, priority REAL, content TEXT, UNIQUE(run_id, task_id, iden));
CREATE TABLE work (id INTEGER PRIMARY KEY, uid TEXT UNIQUE NOT NULL, kind TEXT NOT NULL, start INTEGER, end INTEGER, end_state TEXT NOT NULL DEFAULT '', data TEXT, message TEXT, needs_user_confirm INTEGER NOT NULL DEFAULT 0);
`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// ErrStoreFailure wraps database/IO errors so callers can distinguish
// store failures (fatal to the current Run, per spec §7) from recovered
// script/validation errors.
var ErrStoreFailure = errors.New("store failure")

func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreFailure, err)
}

// WithTransaction acquires the store mutex, emits BEGIN, and runs work
// against a TxStore that mirrors the non-transactional API without
// re-acquiring the lock. A failure from work rolls back and propagates;
// success commits.
func (s *Store) WithTransaction(ctx context.Context, work func(tx *TxStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr(err)
	}
	txs := &TxStore{tx: tx}
	if err := work(txs); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

func nowMicros() int64 { return time.Now().UnixMicro() }

func usToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMicro(v.Int64)
	return &t
}

func timeToUs(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

// --- Session ---

// CreateSession inserts a new Session row for the current process.
func (s *Store) CreateSession(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{UID: uuid.NewString(), StartedAt: time.Now()}
	res, err := s.db.ExecContext(ctx, `INSERT INTO session(uid, started_at) VALUES(?, ?)`, sess.UID, sess.StartedAt.UnixMicro())
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	sess.ID, _ = res.LastInsertId()
	return sess, nil
}

// --- Run ---

// CreateRun allocates a new Run row with Start set to now.
func (s *Store) CreateRun(ctx context.Context, r *Run) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.UID = uuid.NewString()
	now := time.Now()
	r.Start = &now
	r.EndState = EndNone
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run(uid, session_id, parent_run_id, agent_name, agent_path, model, concurrency, label, start, end_state)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.UID, r.SessionID, r.ParentRunID, r.AgentName, r.AgentPath, r.Model, r.Concurrency, r.Label, r.Start.UnixMicro(), string(EndNone))
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	r.ID, _ = res.LastInsertId()
	return r, nil
}

// RunPhasePatch lists the phase timestamps/end-state/cost fields that
// UpdateRun writes for a Run. Only non-nil pointer fields are applied.
type RunPhasePatch struct {
	BaStart, BaEnd                     *time.Time
	TasksStart, TasksEnd               *time.Time
	AaStart, AaEnd                     *time.Time
	End                                *time.Time
	EndState                           *EndState
	Model                              *string
	Concurrency                        *int
	Label                              *string
	AddCostUSD                         *float64
	AddTaskMs                          *int64
}

func (s *Store) UpdateRun(ctx context.Context, runID int64, p RunPhasePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRun(ctx, s.db, runID, p)
}

func (tx *TxStore) UpdateRun(ctx context.Context, runID int64, p RunPhasePatch) error {
	return updateRun(ctx, tx.tx, runID, p)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func updateRun(ctx context.Context, db execer, runID int64, p RunPhasePatch) error {
	sets := []string{}
	args := []any{}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.BaStart != nil {
		add("ba_start", p.BaStart.UnixMicro())
	}
	if p.BaEnd != nil {
		add("ba_end", p.BaEnd.UnixMicro())
	}
	if p.TasksStart != nil {
		add("tasks_start", p.TasksStart.UnixMicro())
	}
	if p.TasksEnd != nil {
		add("tasks_end", p.TasksEnd.UnixMicro())
	}
	if p.AaStart != nil {
		add("aa_start", p.AaStart.UnixMicro())
	}
	if p.AaEnd != nil {
		add("aa_end", p.AaEnd.UnixMicro())
	}
	if p.End != nil {
		add("end", p.End.UnixMicro())
	}
	if p.EndState != nil {
		add("end_state", string(*p.EndState))
	}
	if p.Model != nil {
		add("model", *p.Model)
	}
	if p.Concurrency != nil {
		add("concurrency", *p.Concurrency)
	}
	if p.Label != nil {
		add("label", *p.Label)
	}
	if p.AddCostUSD != nil {
		sets = append(sets, "total_cost_usd = total_cost_usd + ?")
		args = append(args, *p.AddCostUSD)
	}
	if p.AddTaskMs != nil {
		sets = append(sets, "total_task_ms = total_task_ms + ?")
		args = append(args, *p.AddTaskMs)
	}
	if len(sets) == 0 {
		return nil
	}
	query := "UPDATE run SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"
	args = append(args, runID)
	_, err := db.ExecContext(ctx, query, args...)
	return wrapStoreErr(err)
}

// GetRun fetches a Run by id.
func (s *Store) GetRun(ctx context.Context, runID int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, uid, session_id, parent_run_id, agent_name, agent_path, model, concurrency, label,
		start, ba_start, ba_end, tasks_start, tasks_end, aa_start, aa_end, end, end_state, total_cost_usd, total_task_ms FROM run WHERE id = ?`, runID)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*Run, error) {
	var r Run
	var parentRunID sql.NullInt64
	var start, baStart, baEnd, tasksStart, tasksEnd, aaStart, aaEnd, end sql.NullInt64
	var endState string
	if err := row.Scan(&r.ID, &r.UID, &r.SessionID, &parentRunID, &r.AgentName, &r.AgentPath, &r.Model, &r.Concurrency, &r.Label,
		&start, &baStart, &baEnd, &tasksStart, &tasksEnd, &aaStart, &aaEnd, &end, &endState, &r.TotalCostUSD, &r.TotalTaskMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapStoreErr(err)
	}
	if parentRunID.Valid {
		v := parentRunID.Int64
		r.ParentRunID = &v
	}
	r.Start = usToTime(start)
	r.BaStart = usToTime(baStart)
	r.BaEnd = usToTime(baEnd)
	r.TasksStart = usToTime(tasksStart)
	r.TasksEnd = usToTime(tasksEnd)
	r.AaStart = usToTime(aaStart)
	r.AaEnd = usToTime(aaEnd)
	r.End = usToTime(end)
	r.EndState = EndState(endState)
	return &r, nil
}

// --- Task ---

// BatchCreateTasks inserts all tasks for a Run's Data phase in one
// transaction (spec §4.1 "Batch insert"), applying the short/long
// content policy to each input.
func (s *Store) BatchCreateTasks(ctx context.Context, runID int64, inputs []TaskInput) ([]*Task, error) {
	var tasks []*Task
	err := s.WithTransaction(ctx, func(tx *TxStore) error {
		for _, in := range inputs {
			t := &Task{RunID: runID, Idx: in.Idx, Label: in.Label, UID: uuid.NewString()}
			short, blobUID, err := tx.materialize(ctx, t.UID, BlobIn, in.Input)
			if err != nil {
				return err
			}
			t.InputShort = short
			t.InputUID = blobUID
			if _, err := tx.tx.ExecContext(ctx, `INSERT INTO task(uid, run_id, idx, label, input_short, input_uid, end_state) VALUES(?,?,?,?,?,?,?)`,
				t.UID, t.RunID, t.Idx, t.Label, t.InputShort, t.InputUID, string(EndNone)); err != nil {
				return wrapStoreErr(err)
			}
			id, err := s.lastInsertIDInTx(ctx, tx)
			if err != nil {
				return err
			}
			t.ID = id
			tasks = append(tasks, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) lastInsertIDInTx(ctx context.Context, tx *TxStore) (int64, error) {
	row := tx.tx.QueryRowContext(ctx, `SELECT last_insert_rowid()`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, wrapStoreErr(err)
	}
	return id, nil
}

// materialize applies the short/long content policy: JSON always
// offloads to a blob; text offloads only when it exceeds ShortPreviewLen
// runes or ShortPreviewLen display columns. Returns the inline short preview and, if offloaded, the task
// UID to look the blob up by (blobs are keyed by (task_uid, kind, typ)).
func (tx *TxStore) materialize(ctx context.Context, taskUID string, dir BlobDirection, c TypedContent) (short string, blobTaskUID string, err error) {
	if c.Kind == ContentJSON {
		if _, err := tx.tx.ExecContext(ctx, `INSERT INTO inout_blob(task_uid, kind, typ, content) VALUES(?,?,?,?)`, taskUID, string(dir), string(c.Kind), c.Content); err != nil {
			return "", "", wrapStoreErr(err)
		}
		return truncateRunes(c.Content, ShortPreviewLen), taskUID, nil
	}
	if runewidth.StringWidth(c.Content) <= ShortPreviewLen && len([]rune(c.Content)) <= ShortPreviewLen {
		return c.Content, "", nil
	}
	if _, err := tx.tx.ExecContext(ctx, `INSERT INTO inout_blob(task_uid, kind, typ, content) VALUES(?,?,?,?)`, taskUID, string(dir), string(c.Kind), c.Content); err != nil {
		return "", "", wrapStoreErr(err)
	}
	return truncateRunes(c.Content, ShortPreviewLen), taskUID, nil
}

// truncateRunes returns s unchanged when it has at most n runes;
// otherwise it returns a prefix ending in "..." whose total display width,
// ellipsis included, is at most n columns. Uses go-runewidth so
// multi-byte runes are never split mid-codepoint (spec Invariant 5).
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return runewidth.Truncate(string(runes), n, "...")
}

// UpdateTaskOutput writes the Output-stage result using the short/long
// content policy and marks end_state (spec §4.10.1 step 4 Output stage).
func (s *Store) UpdateTaskOutput(ctx context.Context, taskID int64, taskUID string, out *TypedContent, endState EndState) error {
	return s.WithTransaction(ctx, func(tx *TxStore) error {
		var short, blobUID string
		var err error
		if out != nil {
			short, blobUID, err = tx.materialize(ctx, taskUID, BlobOut, *out)
			if err != nil {
				return err
			}
		}
		now := time.Now()
		_, err = tx.tx.ExecContext(ctx, `UPDATE task SET output_short=?, output_uid=?, output_end=?, end=?, end_state=? WHERE id=?`,
			short, blobUID, now.UnixMicro(), now.UnixMicro(), string(endState), taskID)
		return wrapStoreErr(err)
	})
}

// TaskPhasePatch updates one or more task phase timestamps/usage fields.
type TaskPhasePatch struct {
	DataStart, DataEnd, AiStart, AiEnd, OutputStart *time.Time
	EndState                                        *EndState
	InputTokens, OutputTokens                       *int
	AddCostUSD                                      *float64
	ModelOv                                         *string
}

func (s *Store) UpdateTask(ctx context.Context, taskID int64, p TaskPhasePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sets := []string{}
	args := []any{}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.DataStart != nil {
		add("data_start", p.DataStart.UnixMicro())
	}
	if p.DataEnd != nil {
		add("data_end", p.DataEnd.UnixMicro())
	}
	if p.AiStart != nil {
		add("ai_start", p.AiStart.UnixMicro())
	}
	if p.AiEnd != nil {
		add("ai_end", p.AiEnd.UnixMicro())
	}
	if p.OutputStart != nil {
		add("output_start", p.OutputStart.UnixMicro())
	}
	if p.EndState != nil {
		add("end_state", string(*p.EndState))
	}
	if p.InputTokens != nil {
		add("input_tokens", *p.InputTokens)
	}
	if p.OutputTokens != nil {
		add("output_tokens", *p.OutputTokens)
	}
	if p.ModelOv != nil {
		add("model_ov", *p.ModelOv)
	}
	if p.AddCostUSD != nil {
		sets = append(sets, "cost_usd = cost_usd + ?")
		args = append(args, *p.AddCostUSD)
	}
	if len(sets) == 0 {
		return nil
	}
	query := "UPDATE task SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"
	args = append(args, taskID)
	_, err := s.db.ExecContext(ctx, query, args...)
	return wrapStoreErr(err)
}

// ListTasks returns all tasks for a Run ordered by idx.
func (s *Store) ListTasks(ctx context.Context, runID int64) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, uid, run_id, idx, label, input_short, input_uid, output_short, output_uid,
		input_tokens, output_tokens, cost_usd, model_ov, end_state,
		data_start, data_end, ai_start, ai_end, output_start, output_end, end FROM task WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		var t Task
		var modelOv sql.NullString
		var ds, de, as, ae, ost, oe, end sql.NullInt64
		if err := rows.Scan(&t.ID, &t.UID, &t.RunID, &t.Idx, &t.Label, &t.InputShort, &t.InputUID, &t.OutputShort, &t.OutputUID,
			&t.InputTokens, &t.OutputTokens, &t.CostUSD, &modelOv, &t.EndState,
			&ds, &de, &as, &ae, &ost, &oe, &end); err != nil {
			return nil, wrapStoreErr(err)
		}
		t.ModelOv = modelOv.String
		t.DataStart, t.DataEnd, t.AiStart, t.AiEnd = usToTime(ds), usToTime(de), usToTime(as), usToTime(ae)
		t.OutputStart, t.OutputEnd, t.End = usToTime(ost), usToTime(oe), usToTime(end)
		out = append(out, &t)
	}
	return out, wrapStoreErr(rows.Err())
}

// DisplayContent resolves a short/blob pair into the full content:
// transparently joins the Inout Blob when short is a truncation.
func (s *Store) DisplayContent(ctx context.Context, short, blobTaskUID string, dir BlobDirection) (string, error) {
	if blobTaskUID == "" {
		return short, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT content FROM inout_blob WHERE task_uid = ? AND kind = ? ORDER BY id DESC LIMIT 1`, blobTaskUID, string(dir))
	var content string
	if err := row.Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return short, nil
		}
		return "", wrapStoreErr(err)
	}
	return content, nil
}

// --- Log / Err ---

func (s *Store) AppendLog(ctx context.Context, l *Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.At = time.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO log(run_id, task_id, kind, step, stage, message, at) VALUES(?,?,?,?,?,?,?)`,
		l.RunID, l.TaskID, string(l.Kind), l.Step, l.Stage, l.Message, l.At.UnixMicro())
	return wrapStoreErr(err)
}

func (s *Store) AppendErr(ctx context.Context, e *Err) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.At = time.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO err(run_id, task_id, stage, typ, content, at) VALUES(?,?,?,?,?,?)`,
		e.RunID, e.TaskID, e.Stage, e.Typ, e.Content, e.At.UnixMicro())
	return wrapStoreErr(err)
}

// FirstErr returns the earliest Err row recorded for a Run, or nil.
func (s *Store) FirstErr(ctx context.Context, runID int64) (*Err, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, run_id, task_id, stage, typ, content, at FROM err WHERE run_id = ? ORDER BY id ASC LIMIT 1`, runID)
	var e Err
	var taskID sql.NullInt64
	var at int64
	if err := row.Scan(&e.ID, &e.RunID, &taskID, &e.Stage, &e.Typ, &e.Content, &at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapStoreErr(err)
	}
	if taskID.Valid {
		v := taskID.Int64
		e.TaskID = &v
	}
	e.At = time.UnixMicro(at)
	return &e, nil
}

// --- Pin ---

// runPinTaskID is the sentinel task_id stored for a run-level pin.
// SQLite treats NULL as distinct from every other NULL in a UNIQUE
// index, so storing run pins with task_id=NULL would let
// ON CONFLICT(run_id, task_id, iden) never match and every
// aip.run.pin(iden, ...) call insert a fresh row instead of replacing
// the last one (Invariant 4). Task IDs are an INTEGER PRIMARY KEY
// starting at 1, so 0 never collides with a real task.
const runPinTaskID int64 = 0

// UpsertPin writes a Pin identified by (run_id, task_id, iden); a second
// write with the same identity replaces the first (spec Invariant 4).
func (s *Store) UpsertPin(ctx context.Context, p *Pin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	taskID := runPinTaskID
	if p.TaskID != nil {
		taskID = *p.TaskID
	}
	var priority any
	if p.Priority != nil {
		priority = *p.Priority
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pin(run_id, task_id, iden, priority, content) VALUES(?,?,?,?,?)
		ON CONFLICT(run_id, task_id, iden) DO UPDATE SET priority = excluded.priority, content = excluded.content`,
		p.RunID, taskID, p.Iden, priority, p.Content)
	return wrapStoreErr(err)
}

// GetPin fetches a Pin by its identity, or nil if absent.
func (s *Store) GetPin(ctx context.Context, runID int64, taskID *int64, iden string) (*Pin, error) {
	tID := runPinTaskID
	if taskID != nil {
		tID = *taskID
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, run_id, task_id, iden, priority, content FROM pin WHERE run_id=? AND task_id=? AND iden=?`, runID, tID, iden)
	var p Pin
	var gotTaskID int64
	var priority sql.NullFloat64
	if err := row.Scan(&p.ID, &p.RunID, &gotTaskID, &p.Iden, &priority, &p.Content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapStoreErr(err)
	}
	if gotTaskID != runPinTaskID {
		p.TaskID = &gotTaskID
	}
	if priority.Valid {
		v := priority.Float64
		p.Priority = &v
	}
	return &p, nil
}

// SetRunLabel updates a Run's label field.
func (s *Store) SetRunLabel(ctx context.Context, runID int64, label string) error {
	return s.UpdateRun(ctx, runID, RunPhasePatch{Label: &label})
}

func (s *Store) SetTaskLabel(ctx context.Context, taskID int64, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE task SET label=? WHERE id=?`, label, taskID)
	return wrapStoreErr(err)
}

// --- Work ---

func (s *Store) CreateWork(ctx context.Context, w *Work) (*Work, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.UID = uuid.NewString()
	now := time.Now()
	w.Start = &now
	res, err := s.db.ExecContext(ctx, `INSERT INTO work(uid, kind, start, end_state, data, message, needs_user_confirm) VALUES(?,?,?,?,?,?,?)`,
		w.UID, string(w.Kind), w.Start.UnixMicro(), string(EndNone), w.Data, w.Message, boolToInt(w.NeedsUserConfirm))
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	w.ID, _ = res.LastInsertId()
	return w, nil
}

func (s *Store) CompleteWork(ctx context.Context, workID int64, endState EndState, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `UPDATE work SET end=?, end_state=?, message=? WHERE id=?`, now.UnixMicro(), string(endState), message, workID)
	return wrapStoreErr(err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// MarshalJSONContent is a small helper for callers constructing
// TypedContent{Kind: ContentJSON} from a Go value.
func MarshalJSONContent(v any) (TypedContent, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return TypedContent{}, err
	}
	return TypedContent{Kind: ContentJSON, Content: string(b)}, nil
}
