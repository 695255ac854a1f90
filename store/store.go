// Package store keeps parity run history in sqlite so past runs stay
// queryable after the process exits.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wavecheck/audparity/abi"
	"github.com/wavecheck/audparity/errors"
	"github.com/wavecheck/audparity/parity"
	"github.com/wavecheck/audparity/probe"
)

// DefaultDBFile is where runs land when no path is configured.
const DefaultDBFile = "audparity.sqlite3"

// EnvDBPath names the environment override for the database location.
const EnvDBPath = "AUDPARITY_DB"

// Probe row sides.
const (
	SideOriginal = "original"
	SideRebuilt  = "rebuilt"
)

// Run is one complete parity run.
type Run struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	OriginalLabel string    `json:"original_label"`
	RebuiltLabel  string    `json:"rebuilt_label"`
	CorpusDir     string    `json:"corpus_dir"`
	Aggregate     float64   `json:"aggregate"`
	Passed        int       `json:"passed"`
	Failed        int       `json:"failed"`
	Expected      int       `json:"expected"`
	Indeterminate int       `json:"indeterminate"`
}

// ProbeRow is one observed probe row for one side of a run.
type ProbeRow struct {
	ID           uint    `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID        string  `gorm:"type:varchar(36);index:idx_probe_run" json:"run_id"`
	File         string  `gorm:"index:idx_probe_file" json:"file"`
	Side         string  `json:"side"`
	OpenRet      int32   `json:"open_ret"`
	FileCount    uint32  `json:"file_count"`
	ChannelCount uint32  `json:"channel_count"`
	SampleCount  uint32  `json:"sample_count"`
	FirstSample  float64 `json:"first_sample"`
	LastSample   float64 `json:"last_sample"`
	Status       string  `json:"status"`
}

// VerdictRow is one file's parity classification within a run.
type VerdictRow struct {
	ID     uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID  string `gorm:"type:varchar(36);index:idx_verdict_run" json:"run_id"`
	File   string `json:"file"`
	Class  string `json:"class"`
	Detail string `json:"detail"`
}

// DB wraps the gorm handle together with its connection pool.
type DB struct {
	orm  *gorm.DB
	pool *sql.DB
}

// Open opens or creates the run database at path and migrates the
// schema. An empty path falls back to AUDPARITY_DB, then to
// DefaultDBFile in the working directory.
func Open(path string) (*DB, error) {
	if path == "" {
		path = os.Getenv(EnvDBPath)
	}
	if path == "" {
		path = DefaultDBFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.IO(errors.PhaseStore, path, err)
		}
	}

	orm, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStore, errors.KindIO, err, "open database "+path)
	}
	pool, err := orm.DB()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStore, errors.KindInternal, err, "database pool")
	}
	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(5)
	pool.SetConnMaxLifetime(time.Hour)

	if err := orm.AutoMigrate(&Run{}, &ProbeRow{}, &VerdictRow{}); err != nil {
		pool.Close()
		return nil, errors.Wrap(errors.PhaseStore, errors.KindInternal, err, "migrate schema")
	}
	return &DB{orm: orm, pool: pool}, nil
}

// Close releases the connection pool. Safe on nil.
func (d *DB) Close() error {
	if d == nil || d.pool == nil {
		return nil
	}
	return d.pool.Close()
}

// NewRun stamps a fresh run with an id and a start time.
func NewRun(originalLabel, rebuiltLabel, corpusDir string) Run {
	return Run{
		ID:            uuid.NewString(),
		StartedAt:     time.Now().UTC(),
		OriginalLabel: originalLabel,
		RebuiltLabel:  rebuiltLabel,
		CorpusDir:     corpusDir,
	}
}

// SaveRun persists a run with its probe rows and verdicts in one
// transaction. Row RunID fields are stamped from the run.
func (d *DB) SaveRun(ctx context.Context, run Run, probes []ProbeRow, verdicts []VerdictRow) error {
	if d == nil || d.orm == nil {
		return errors.NotInitialized(errors.PhaseStore, "store")
	}
	for i := range probes {
		probes[i].RunID = run.ID
	}
	for i := range verdicts {
		verdicts[i].RunID = run.ID
	}
	err := d.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		if len(probes) > 0 {
			if err := tx.CreateInBatches(probes, 200).Error; err != nil {
				return err
			}
		}
		if len(verdicts) > 0 {
			if err := tx.CreateInBatches(verdicts, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.PhaseStore, errors.KindIO, err, "save run "+run.ID)
	}
	return nil
}

// LastRuns returns the n most recent runs, newest first.
func (d *DB) LastRuns(ctx context.Context, n int) ([]Run, error) {
	if d == nil || d.orm == nil {
		return nil, errors.NotInitialized(errors.PhaseStore, "store")
	}
	var runs []Run
	err := d.orm.WithContext(ctx).Order("started_at DESC").Limit(n).Find(&runs).Error
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStore, errors.KindIO, err, "list runs")
	}
	return runs, nil
}

// RunVerdicts returns one run's verdict rows in insertion order.
func (d *DB) RunVerdicts(ctx context.Context, runID string) ([]VerdictRow, error) {
	if d == nil || d.orm == nil {
		return nil, errors.NotInitialized(errors.PhaseStore, "store")
	}
	var rows []VerdictRow
	err := d.orm.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStore, errors.KindIO, err, "load verdicts for "+runID)
	}
	return rows, nil
}

// RunProbes returns one run's probe rows in insertion order, both
// sides interleaved.
func (d *DB) RunProbes(ctx context.Context, runID string) ([]ProbeRow, error) {
	if d == nil || d.orm == nil {
		return nil, errors.NotInitialized(errors.PhaseStore, "store")
	}
	var rows []ProbeRow
	err := d.orm.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStore, errors.KindIO, err, "load probes for "+runID)
	}
	return rows, nil
}

// ProbeRows flattens one side's probe results for persistence.
func ProbeRows(side string, results []probe.Result) []ProbeRow {
	rows := make([]ProbeRow, 0, len(results))
	for _, r := range results {
		row := ProbeRow{
			File:         r.File,
			Side:         side,
			OpenRet:      r.OpenRet,
			FileCount:    r.FileCount,
			ChannelCount: r.ChannelCount,
			SampleCount:  r.SampleCount,
			FirstSample:  r.FirstSample,
			LastSample:   r.LastSample,
		}
		switch {
		case r.Failure != nil:
			row.Status = "fault:" + r.Failure.Stage
		case r.OpenRet == abi.OpenNotAttempted:
			row.Status = r.Handshake.State.String()
		default:
			row.Status = abi.StatusName(r.OpenRet)
		}
		rows = append(rows, row)
	}
	return rows
}

// VerdictRows flattens file verdicts for persistence. Detail carries
// the reason when present, else the mismatched field list.
func VerdictRows(verdicts []parity.FileVerdict) []VerdictRow {
	rows := make([]VerdictRow, 0, len(verdicts))
	for _, v := range verdicts {
		detail := v.Verdict.Reason
		if detail == "" && len(v.Verdict.Fields) > 0 {
			detail = strings.Join(v.Verdict.Fields, ",")
		}
		rows = append(rows, VerdictRow{
			File:   v.File,
			Class:  string(v.Verdict.Class),
			Detail: detail,
		})
	}
	return rows
}
