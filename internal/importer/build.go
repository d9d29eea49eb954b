package importer

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/recimport/internal/core"
	"github.com/JonMunkholm/recimport/internal/destination/csvdest"
	"github.com/JonMunkholm/recimport/internal/destination/pgdest"
	"github.com/JonMunkholm/recimport/internal/destination/sqlitedest"
	"github.com/JonMunkholm/recimport/internal/schema"
)

// Resources holds the connections destinations write through. SQLite
// databases are opened on first use and shared by every run.
type Resources struct {
	// Postgres is required by postgres destinations; usually a *pgxpool.Pool.
	Postgres pgdest.TxBeginner

	mu     sync.Mutex
	sqlite map[string]*sql.DB
}

// SQLite returns the database at path, opening it once.
func (r *Resources) SQLite(path string) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.sqlite[path]; ok {
		return db, nil
	}
	db, err := sqlitedest.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if r.sqlite == nil {
		r.sqlite = make(map[string]*sql.DB)
	}
	r.sqlite[path] = db
	return db, nil
}

// Close closes every SQLite database opened through r.
func (r *Resources) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for path, db := range r.sqlite {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
	}
	r.sqlite = nil
	return errors.Join(errs...)
}

// plan is everything needed to run a job once.
type plan struct {
	def     schema.TableDefinition
	options core.Options
}

// buildPlan wires the job's stages and destinations for the run runID.
func (j *Job) buildPlan(src core.Source, res *Resources, runID string, logger *slog.Logger) (*plan, error) {
	def, err := j.Definition()
	if err != nil {
		return nil, err
	}

	expand := strings.NewReplacer(
		"{job}", j.Name,
		"{run_id}", runID,
		"{date}", time.Now().Format("2006-01-02"),
	)

	targets := make([]core.Target, 0, len(j.Destinations))
	for _, d := range j.Destinations {
		dest, err := d.build(res, expand.Replace(d.Path), logger)
		if err != nil {
			return nil, fmt.Errorf("destination %s: %w", d.Name, err)
		}
		filter, err := schema.CompileFilter(def, d.Filter)
		if err != nil {
			return nil, fmt.Errorf("destination %s: %w", d.Name, err)
		}
		targets = append(targets, core.Target{Name: d.Name, Destination: dest, Filter: filter})
	}

	return &plan{
		def: def,
		options: core.Options{
			Source:              src,
			Targets:             targets,
			Mapper:              schema.NewMapper(def),
			Validator:           schema.NewValidator(def),
			Formatter:           schema.NewFormatter(def),
			TolerateFailures:    j.TolerateFailures,
			MaxConcurrentWrites: j.MaxConcurrentWrites,
			Logger:              logger,
		},
	}, nil
}

func (d DestinationSpec) build(res *Resources, path string, logger *slog.Logger) (core.Destination, error) {
	logger = logger.With("destination", d.Name)

	switch d.Type {
	case DestPostgres:
		if res == nil || res.Postgres == nil {
			return nil, errors.New("no postgres database configured")
		}
		return pgdest.New(res.Postgres, pgdest.Options{
			Table:        d.Table,
			UploadColumn: d.UploadColumn,
			BatchSize:    d.BatchSize,
			Logger:       logger,
		}), nil

	case DestSQLite:
		if res == nil {
			return nil, errors.New("no resources for sqlite")
		}
		db, err := res.SQLite(path)
		if err != nil {
			return nil, err
		}
		return sqlitedest.New(db, sqlitedest.Options{
			Table:       d.Table,
			CreateTable: d.CreateTable,
			Logger:      logger,
		}), nil

	case DestCSV:
		return csvdest.New(path, d.Header), nil
	}
	return nil, fmt.Errorf("unknown type %q", d.Type)
}
