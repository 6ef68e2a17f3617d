package roadflow

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteRecorder appends link states into table link_states of a SQLite database
type SQLiteRecorder struct {
	db           *sql.DB
	accumulators map[LinkID][]*FlowAccumulator
	runID        int64
}

// NewSQLiteRecorder opens (or creates) the database and prepares the schema
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "Can't open sqlite db")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "Can't ping sqlite db")
	}
	rec := &SQLiteRecorder{
		db:           db,
		accumulators: make(map[LinkID][]*FlowAccumulator),
	}
	if err := rec.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "Can't migrate schema")
	}
	return rec, nil
}

func (rec *SQLiteRecorder) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		sim_dt REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS link_states (
		run_id INTEGER NOT NULL REFERENCES runs(run_id),
		t REAL NOT NULL,
		link_id INTEGER NOT NULL,
		vehicles REAL NOT NULL,
		cumulative_flow REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_link_states_link ON link_states(run_id, link_id, t);
	`
	if _, err := rec.db.Exec(query); err != nil {
		return errors.Wrap(err, "Can't create tables")
	}
	return nil
}

// DB returns the underlying connection
func (rec *SQLiteRecorder) DB() *sql.DB {
	return rec.db
}

// RunID returns identifier of the run rows are currently written for
func (rec *SQLiteRecorder) RunID() int64 {
	return rec.runID
}

// Attach starts a new run
func (rec *SQLiteRecorder) Attach(sim *Simulation) error {
	res, err := rec.db.Exec("INSERT INTO runs (sim_dt) VALUES (?)", sim.dt)
	if err != nil {
		return errors.Wrap(err, "Can't insert run")
	}
	rec.runID, err = res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "Can't get run id")
	}
	clear(rec.accumulators)
	for _, linkID := range sim.net.LinkIDs() {
		link := sim.net.links[linkID]
		for _, lg := range sim.net.LaneGroupsOfLink(link) {
			rec.accumulators[linkID] = append(rec.accumulators[linkID], lg.RequestFlowAccumulator())
		}
	}
	return nil
}

func (rec *SQLiteRecorder) Record(timestamp float64, sim *Simulation) error {
	tx, err := rec.db.Begin()
	if err != nil {
		return errors.Wrap(err, "Can't begin transaction")
	}
	stmt, err := tx.Prepare("INSERT INTO link_states (run_id, t, link_id, vehicles, cumulative_flow) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "Can't prepare statement")
	}
	defer stmt.Close()
	for _, linkID := range sim.net.LinkIDs() {
		link := sim.net.links[linkID]
		vehicles := 0.0
		for _, lg := range sim.net.LaneGroupsOfLink(link) {
			vehicles += lg.TotalVehicles()
		}
		flow := 0.0
		for _, acc := range rec.accumulators[linkID] {
			flow += acc.Total()
		}
		if _, err := stmt.Exec(rec.runID, timestamp, int(linkID), vehicles, flow); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "Can't insert state of link %d", linkID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "Can't commit transaction")
	}
	return nil
}

func (rec *SQLiteRecorder) Close() error {
	return rec.db.Close()
}
