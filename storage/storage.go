package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"todo-api/domain"
)

const todoTable = "todo"

// dialect captures the differences between the supported SQL engines.
type dialect struct {
	driver   string
	schema   string
	numbered bool
}

var (
	postgresDialect = dialect{
		driver: "postgres",
		schema: `CREATE TABLE IF NOT EXISTS ` + todoTable + ` (
			id SERIAL PRIMARY KEY,
			task VARCHAR(200) NOT NULL,
			completed BOOLEAN DEFAULT FALSE
		)`,
		numbered: true,
	}
	sqliteDialect = dialect{
		driver: "sqlite",
		schema: `CREATE TABLE IF NOT EXISTS ` + todoTable + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task VARCHAR(200) NOT NULL,
			completed BOOLEAN DEFAULT 0
		)`,
	}
)

// bind rewrites ? placeholders into $n for engines with numbered parameters.
func (d dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ErrUnsupportedDSN is returned when the connection string names no known engine.
var ErrUnsupportedDSN = errors.New("unsupported database connection string")

// parseDSN picks the dialect for a connection string and returns the data
// source name to hand to the driver. URLs follow the SQLAlchemy layout: an
// optional "+driver" suffix on the scheme is ignored, and sqlite:///rel.db is
// relative while sqlite:////abs.db is absolute.
func parseDSN(dsn string) (dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return dialect{}, "", ErrUnsupportedDSN
	}
	if scheme, rest, ok := strings.Cut(dsn, "://"); ok {
		engine, _, _ := strings.Cut(strings.ToLower(scheme), "+")
		switch engine {
		case "postgres", "postgresql":
			return postgresDialect, engine + "://" + rest, nil
		case "sqlite":
			return sqliteDialect, sqlitePath(rest), nil
		case "file":
			return sqliteDialect, dsn, nil
		}
		return dialect{}, "", fmt.Errorf("%w: %q", ErrUnsupportedDSN, redactDSN(dsn))
	}
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqliteDialect, strings.TrimPrefix(dsn, "sqlite:"), nil
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		return sqliteDialect, dsn, nil
	case strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname="):
		return postgresDialect, dsn, nil
	}
	return dialect{}, "", fmt.Errorf("%w: %q", ErrUnsupportedDSN, redactDSN(dsn))
}

// sqlitePath maps the part after "sqlite://" to a file name. An empty path
// is an in-memory database.
func sqlitePath(rest string) string {
	path := strings.TrimPrefix(rest, "/")
	if path == "" {
		return ":memory:"
	}
	return path
}

// redactDSN keeps the scheme of a connection string so it can be logged.
func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i+3] + "..."
	}
	return "..."
}

// Storage provides access to the todo table.
type Storage struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the database named by dsn and verifies the connection.
// maxOpenConns bounds the PostgreSQL pool; SQLite always uses a single
// connection so in-memory databases survive between calls.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*Storage, error) {
	d, source, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, source)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if d.driver == sqliteDialect.driver {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	} else if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Storage{db: db, dialect: d}, nil
}

// Driver returns the name of the database/sql driver in use.
func (s *Storage) Driver() string {
	return s.dialect.driver
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSchemaIfMissing creates the todo table unless it already exists.
func (s *Storage) CreateSchemaIfMissing(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema); err != nil {
		return fmt.Errorf("create %s table: %w", todoTable, err)
	}
	return nil
}

// ListTodos returns every todo. The result is never nil.
func (s *Storage) ListTodos(ctx context.Context) ([]domain.Todo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, task, completed FROM "+todoTable+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	todos := []domain.Todo{}
	for rows.Next() {
		var t domain.Todo
		var completed sql.NullBool
		if err := rows.Scan(&t.ID, &t.Task, &completed); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		t.Completed = completed.Bool
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	return todos, nil
}

// FindTodo looks a todo up by id. A missing row is reported with found=false
// and a nil error.
func (s *Storage) FindTodo(ctx context.Context, id int64) (domain.Todo, bool, error) {
	var t domain.Todo
	var completed sql.NullBool
	err := s.db.QueryRowContext(ctx,
		s.dialect.bind("SELECT id, task, completed FROM "+todoTable+" WHERE id = ?"), id,
	).Scan(&t.ID, &t.Task, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Todo{}, false, nil
	}
	if err != nil {
		return domain.Todo{}, false, fmt.Errorf("find todo %d: %w", id, err)
	}
	t.Completed = completed.Bool
	return t, true, nil
}

// InsertTodo stores a new todo and returns it with its assigned id.
func (s *Storage) InsertTodo(ctx context.Context, task string, completed bool) (domain.Todo, error) {
	t := domain.Todo{Task: task, Completed: completed}
	err := s.db.QueryRowContext(ctx,
		s.dialect.bind("INSERT INTO "+todoTable+" (task, completed) VALUES (?, ?) RETURNING id"),
		task, completed,
	).Scan(&t.ID)
	if err != nil {
		return domain.Todo{}, fmt.Errorf("insert todo: %w", err)
	}
	return t, nil
}

// UpdateTodo overwrites the task and completed fields of an existing todo.
// It reports whether a row matched id.
func (s *Storage) UpdateTodo(ctx context.Context, id int64, task string, completed bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.dialect.bind("UPDATE "+todoTable+" SET task = ?, completed = ? WHERE id = ?"),
		task, completed, id,
	)
	if err != nil {
		return false, fmt.Errorf("update todo %d: %w", id, err)
	}
	return affected(res)
}

// DeleteTodo removes a todo and reports whether a row matched id.
func (s *Storage) DeleteTodo(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.bind("DELETE FROM "+todoTable+" WHERE id = ?"), id)
	if err != nil {
		return false, fmt.Errorf("delete todo %d: %w", id, err)
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
