package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MathisDulieu/Booking-sub000/storage/database"
)

const documentsDDL = `CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (collection, id)
)`

// SQLStore 基于 sqlite JSON1 的文档存储，所有集合共用 documents 表
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore 在已打开的连接上创建存储并建表
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, documentsDDL); err != nil {
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	if err := addVersionColumn(ctx, db); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

// addVersionColumn 为早期建立的 documents 表补充 version 列
func addVersionColumn(ctx context.Context, db *sql.DB) error {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info('documents') WHERE name = 'version'").Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect documents table: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, "ALTER TABLE documents ADD COLUMN version INTEGER NOT NULL DEFAULT 1"); err != nil {
		return fmt.Errorf("add version column: %w", err)
	}
	return nil
}

// OpenSQLStore 打开数据库并创建存储，关闭存储时关闭连接
func OpenSQLStore(ctx context.Context, cfg database.Config) (*SQLStore, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) Get(ctx context.Context, collection, id string, out any) error {
	_, err := s.GetVersion(ctx, collection, id, out)
	return err
}

func (s *SQLStore) GetVersion(ctx context.Context, collection, id string, out any) (int64, error) {
	if err := checkKey(collection, id); err != nil {
		return 0, err
	}
	q, args := database.Select("body", "version").From("documents").
		Where("collection = ?", collection).
		Where("id = ?", id).
		Build()

	var (
		body    string
		version int64
	)
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return version, json.Unmarshal([]byte(body), out)
}

func (s *SQLStore) Exists(ctx context.Context, collection, id string) (bool, error) {
	if err := checkKey(collection, id); err != nil {
		return false, err
	}
	q, args := database.Select("1").From("documents").
		Where("collection = ?", collection).
		Where("id = ?", id).
		Build()

	var one int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLStore) Save(ctx context.Context, collection, id string, doc any) error {
	if err := checkKey(collection, id); err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	_, err = database.UpsertInto("documents").
		Columns("collection", "id", "body", "version", "updated_at").
		Values(collection, id, string(body), 1, now()).
		Key("collection", "id").
		Set("version", "version + 1").
		Exec(ctx, s.db)
	return err
}

func (s *SQLStore) SaveIf(ctx context.Context, collection, id string, doc any, version int64) (int64, error) {
	if err := checkKey(collection, id); err != nil {
		return 0, err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}

	var res sql.Result
	if version == 0 {
		res, err = s.db.ExecContext(ctx,
			"INSERT INTO documents (collection, id, body, version, updated_at) VALUES (?, ?, ?, 1, ?) ON CONFLICT (collection, id) DO NOTHING",
			collection, id, string(body), now())
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE documents SET body = ?, version = version + 1, updated_at = ? WHERE collection = ? AND id = ? AND version = ?",
			string(body), now(), collection, id, version)
	}
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("%s/%s: %w", collection, id, ErrConflict)
	}
	return version + 1, nil
}

func (s *SQLStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	if err := checkKey(collection, id); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", collection, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLStore) Find(ctx context.Context, collection string, q Query) (Page, error) {
	if err := q.Validate(); err != nil {
		return Page{}, err
	}

	b := database.Select("body").From("documents").Where("collection = ?", collection)
	for field, want := range q.Filter {
		path := jsonPath(field)
		switch v := normalize(want).(type) {
		case nil:
			b.Where(path + " IS NULL")
		case bool:
			b.Where(path+" = ?", boolInt(v))
		default:
			b.Where(path+" = ?", v)
		}
	}
	for field, needle := range q.Like {
		b.Where("LOWER("+jsonPath(field)+") LIKE ? ESCAPE '\\'", "%"+escapeLike(strings.ToLower(needle))+"%")
	}

	order := "id"
	if q.SortBy != "" {
		dir := " ASC"
		if q.Desc {
			dir = " DESC"
		}
		order = jsonPath(q.SortBy) + dir + ", id"
	}
	b.OrderBy(order)

	countQuery, countArgs := b.BuildCount()
	var page Page
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&page.Total); err != nil {
		return Page{}, err
	}

	if q.Size > 0 {
		b.Limit(q.Size).Offset(q.offset())
	}
	query, args := b.Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return Page{}, err
		}
		page.Items = append(page.Items, json.RawMessage(body))
	}
	return page, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func jsonPath(field string) string {
	return "json_extract(body, '$." + field + "')"
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
