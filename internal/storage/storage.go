package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/raphi011/allureboard/internal/model"
	"github.com/raphi011/allureboard/internal/tags"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var fs embed.FS

// ResultRow is a persisted allure result. Times are epoch milliseconds.
type ResultRow struct {
	ID               int64  `db:"id"`
	RunID            string `db:"run_id"`
	UUID             string `db:"uuid"`
	HistoryID        string `db:"history_id"`
	TestCaseID       string `db:"test_case_id"`
	FullName         string `db:"full_name"`
	Name             string `db:"name"`
	Status           string `db:"status"`
	DurationMS       int64  `db:"duration_ms"`
	Feature          string `db:"feature"`
	ErrorMessage     string `db:"error_message"`
	StackTrace       string `db:"stack_trace"`
	Labels           string `db:"labels"`
	StepsCount       int    `db:"steps_count"`
	AttachmentsCount int    `db:"attachments_count"`
	Known            bool   `db:"known"`
	Muted            bool   `db:"muted"`
	Flaky            bool   `db:"flaky"`
	StartTime        int64  `db:"start_time"`
	EndTime          int64  `db:"end_time"`
}

// StepRow is a flattened step of a persisted result.
type StepRow struct {
	ID               int64  `db:"id"`
	ResultID         int64  `db:"allure_result_id"`
	Name             string `db:"name"`
	Status           string `db:"status"`
	StartTime        int64  `db:"start_time"`
	EndTime          int64  `db:"end_time"`
	DurationMS       int64  `db:"duration_ms"`
	Stage            string `db:"stage"`
	Message          string `db:"message"`
	Trace            string `db:"trace"`
	AttachmentsCount int    `db:"attachments_count"`
	NestedStepsCount int    `db:"nested_steps_count"`
	// Screenshot is only set when inserting, loaded rows report
	// HasScreenshot instead. Use LoadScreenshot to fetch the data.
	Screenshot    []byte `db:"screenshot"`
	HasScreenshot bool   `db:"has_screenshot"`
}

type Storage struct {
	db  *sqlx.DB
	log *slog.Logger
}

// New opens the sqlite database at dbFilename and applies all pending
// migrations. An empty filename opens a private in-memory database.
func New(dbFilename string, log *slog.Logger) (*Storage, error) {
	db, err := sqlx.Connect("sqlite", connectionString(dbFilename))
	if err != nil {
		return nil, model.SourceUnavailableError{Source: dbFilename, Err: fmt.Errorf("opening database: %w", err)}
	}

	row := db.QueryRow("select sqlite_version()")

	var version string
	err = row.Scan(&version)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve sqlite version: %w", err)
	}

	log.Info("Using sqlite version: " + version)

	s := &Storage{
		db:  db,
		log: log,
	}

	if err = s.migrateDB(db); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func connectionString(filename string) string {
	var cs string
	var options = []string{"_pragma=busy_timeout(5000)", "_pragma=journal_mode(WAL)", "_pragma=foreign_keys(1)", "_pragma=synchronous(normal)"}

	if filename != "" {
		cs = filename
	} else {
		cs = "file:" + randomAlphanumeric(16)
		options = append(options, "mode=memory", "cache=shared")
	}

	for i, o := range options {
		if i == 0 {
			cs += "?"
		} else {
			cs += "&"
		}
		cs += o
	}

	return cs
}

const alphaNumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAlphanumeric(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphaNumericChars[rand.Intn(len(alphaNumericChars))]
	}
	return string(b)
}

func (s *Storage) migrateDB(db *sqlx.DB) error {
	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return fmt.Errorf("load db migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("load migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrate with instance: %w", err)
	}

	err = m.Up()

	if errors.Is(err, migrate.ErrNoChange) {
		s.log.Info("No migrations have been applied. The DB is at the latest state.")
	} else if err != nil {
		return fmt.Errorf("applying db migrations: %w", err)
	}

	return nil
}

type storageContextKey string

const transactionKey = storageContextKey("storage.transaction")

func (s *Storage) StartTransaction(ctx context.Context) (context.Context, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ctx, err
	}

	return context.WithValue(ctx, transactionKey, tx), nil
}

func (s *Storage) CommitTransaction(ctx context.Context) error {
	v := ctx.Value(transactionKey)

	if v == nil {
		return errors.New("context does not contain a transaction")
	}

	return v.(*sqlx.Tx).Commit()
}

func (s *Storage) RollbackTransaction(ctx context.Context) {
	v := ctx.Value(transactionKey)

	if v != nil {
		err := v.(*sqlx.Tx).Rollback()
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Warn("could not rollback transaction", "error", err)
		}
	}
}

func (s *Storage) getDB(ctx context.Context) commonDB {
	v := ctx.Value(transactionKey)

	if v == nil {
		return s.db
	}

	return v.(*sqlx.Tx)
}

// functions shared by `*sqlx.Tx` and `*sqlx.Db`
type commonDB interface {
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

const resultColumns = `id, COALESCE(run_id, '') AS run_id, uuid, COALESCE(history_id, '') AS history_id,
	COALESCE(test_case_id, '') AS test_case_id, COALESCE(full_name, '') AS full_name, name, status,
	COALESCE(duration_ms, 0) AS duration_ms, COALESCE(feature, '') AS feature,
	COALESCE(error_message, '') AS error_message, COALESCE(stack_trace, '') AS stack_trace,
	COALESCE(labels, '') AS labels, steps_count, attachments_count, known, muted, flaky, start_time, end_time`

// LoadResults returns all persisted results, most recent first.
func (s *Storage) LoadResults(ctx context.Context) ([]ResultRow, error) {
	db := s.getDB(ctx)

	rows := []ResultRow{}
	err := db.SelectContext(ctx, &rows, `SELECT `+resultColumns+` FROM allure_results ORDER BY start_time DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("loading results: %w", err)
	}

	return rows, nil
}

// LoadResult returns the result with the given uuid or a NotFoundError.
func (s *Storage) LoadResult(ctx context.Context, uuid string) (ResultRow, error) {
	db := s.getDB(ctx)

	var row ResultRow
	err := db.GetContext(ctx, &row, `SELECT `+resultColumns+` FROM allure_results WHERE uuid = ?`, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return ResultRow{}, model.NotFoundError{}
	} else if err != nil {
		return ResultRow{}, fmt.Errorf("loading result %s: %w", uuid, err)
	}

	return row, nil
}

// LoadSteps returns the flattened steps of a result in execution order.
func (s *Storage) LoadSteps(ctx context.Context, resultID int64) ([]StepRow, error) {
	db := s.getDB(ctx)

	rows := []StepRow{}
	err := db.SelectContext(ctx, &rows, `SELECT id, allure_result_id, name, status, start_time, end_time, duration_ms,
		COALESCE(stage, '') AS stage, COALESCE(message, '') AS message, COALESCE(trace, '') AS trace,
		attachments_count, nested_steps_count, screenshot IS NOT NULL AS has_screenshot
		FROM allure_steps WHERE allure_result_id = ? ORDER BY start_time ASC, id ASC`, resultID)
	if err != nil {
		return nil, fmt.Errorf("loading steps of result %d: %w", resultID, err)
	}

	return rows, nil
}

// LoadScreenshot returns the screenshot attached to a step.
func (s *Storage) LoadScreenshot(ctx context.Context, stepID int64) ([]byte, error) {
	db := s.getDB(ctx)

	var data []byte
	err := db.GetContext(ctx, &data, `SELECT screenshot FROM allure_steps WHERE id = ? AND screenshot IS NOT NULL`, stepID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundError{}
	} else if err != nil {
		return nil, fmt.Errorf("loading screenshot of step %d: %w", stepID, err)
	}

	return data, nil
}

// DistinctFeatures returns the sorted list of non empty features.
func (s *Storage) DistinctFeatures(ctx context.Context) ([]string, error) {
	db := s.getDB(ctx)

	features := []string{}
	err := db.SelectContext(ctx, &features, `SELECT DISTINCT feature FROM allure_results
		WHERE feature IS NOT NULL AND feature != '' ORDER BY feature`)
	if err != nil {
		return nil, fmt.Errorf("loading features: %w", err)
	}

	return features, nil
}

// DistinctTags decodes the labels column of every result and returns the
// unique tags in first seen order.
func (s *Storage) DistinctTags(ctx context.Context) ([]string, error) {
	db := s.getDB(ctx)

	labels := []string{}
	err := db.SelectContext(ctx, &labels, `SELECT DISTINCT labels FROM allure_results
		WHERE labels IS NOT NULL AND labels != '' ORDER BY labels`)
	if err != nil {
		return nil, fmt.Errorf("loading labels: %w", err)
	}

	all := []string{}
	for _, l := range labels {
		all = tags.Merge(all, tags.FromString(l)...)
	}

	return all, nil
}

func (s *Storage) ResultExists(ctx context.Context, uuid string) (bool, error) {
	db := s.getDB(ctx)

	var count int
	if err := db.GetContext(ctx, &count, `SELECT COUNT(1) FROM allure_results WHERE uuid = ?`, uuid); err != nil {
		return false, fmt.Errorf("checking result %s: %w", uuid, err)
	}

	return count > 0, nil
}

// InsertResult persists a result and returns its generated id.
func (s *Storage) InsertResult(ctx context.Context, r ResultRow) (int64, error) {
	db := s.getDB(ctx)

	res, err := db.NamedExecContext(ctx, `INSERT INTO allure_results
	(run_id, uuid, history_id, test_case_id, full_name, name, status, duration_ms, feature, error_message,
		stack_trace, labels, steps_count, attachments_count, known, muted, flaky, start_time, end_time, created_at) VALUES
	(:runId, :uuid, :historyId, :testCaseId, :fullName, :name, :status, :durationMs, :feature, :errorMessage,
		:stackTrace, :labels, :stepsCount, :attachmentsCount, :known, :muted, :flaky, :startTime, :endTime, :createdAt)`,
		map[string]any{
			"runId":            r.RunID,
			"uuid":             r.UUID,
			"historyId":        r.HistoryID,
			"testCaseId":       r.TestCaseID,
			"fullName":         r.FullName,
			"name":             r.Name,
			"status":           r.Status,
			"durationMs":       r.DurationMS,
			"feature":          r.Feature,
			"errorMessage":     r.ErrorMessage,
			"stackTrace":       r.StackTrace,
			"labels":           r.Labels,
			"stepsCount":       r.StepsCount,
			"attachmentsCount": r.AttachmentsCount,
			"known":            r.Known,
			"muted":            r.Muted,
			"flaky":            r.Flaky,
			"startTime":        r.StartTime,
			"endTime":          r.EndTime,
			"createdAt":        timeFormat(time.Now()),
		})
	if err != nil {
		return -1, fmt.Errorf("inserting result %s: %w", r.UUID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return -1, fmt.Errorf("retrieving inserted result id: %w", err)
	}

	return id, nil
}

// InsertSteps persists the steps of a result. Call it inside a transaction
// together with InsertResult.
func (s *Storage) InsertSteps(ctx context.Context, steps []StepRow) error {
	db := s.getDB(ctx)

	now := timeFormat(time.Now())

	for _, st := range steps {
		var screenshot any
		if len(st.Screenshot) > 0 {
			screenshot = st.Screenshot
		}

		_, err := db.NamedExecContext(ctx, `INSERT INTO allure_steps
		(allure_result_id, name, status, start_time, end_time, duration_ms, stage, message, trace,
			attachments_count, nested_steps_count, screenshot, created_at) VALUES
		(:resultId, :name, :status, :startTime, :endTime, :durationMs, :stage, :message, :trace,
			:attachmentsCount, :nestedStepsCount, :screenshot, :createdAt)`,
			map[string]any{
				"resultId":         st.ResultID,
				"name":             st.Name,
				"status":           st.Status,
				"startTime":        st.StartTime,
				"endTime":          st.EndTime,
				"durationMs":       st.DurationMS,
				"stage":            st.Stage,
				"message":          st.Message,
				"trace":            st.Trace,
				"attachmentsCount": st.AttachmentsCount,
				"nestedStepsCount": st.NestedStepsCount,
				"screenshot":       screenshot,
				"createdAt":        now,
			})
		if err != nil {
			return fmt.Errorf("inserting step %q of result %d: %w", st.Name, st.ResultID, err)
		}
	}

	return nil
}

func timeFormat(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
