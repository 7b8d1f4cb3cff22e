package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
)

// QueryParams encapsulates all query parameters
type QueryParams struct {
	// Where holds the WHERE clause without the "WHERE" keyword, for example
	// "Match = ? AND Node = ?".
	Where string

	// Args holds the arguments for the placeholders in Where.
	Args []any

	// Limit is the maximum number of records to return. 0 means no limit.
	Limit int

	// OrderBy specifies sorting, without the "ORDER BY" keywords.
	OrderBy string
}

// SQLiteReader reads the records that a SQLiteWriter stored.
type SQLiteReader struct {
	*sql.DB

	typeMap map[string]reflect.Type
}

// NewReader opens a recording for reading.
func NewReader(dbFilename string) (*SQLiteReader, error) {
	db, err := sql.Open("sqlite3", dbFilename)
	if err != nil {
		return nil, err
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB creates a reader over an opened database.
func NewReaderWithDB(db *sql.DB) *SQLiteReader {
	return &SQLiteReader{
		DB:      db,
		typeMap: make(map[string]reflect.Type),
	}
}

// MapTable tells the reader which struct the rows of a table decode into.
func (r *SQLiteReader) MapTable(tableName string, sampleEntry any) {
	structType := reflect.TypeOf(sampleEntry)
	if _, err := fieldNames(structType); err != nil {
		panic(err)
	}

	r.typeMap[tableName] = structType
}

// ListTables returns the names of the tables in the database.
func (r *SQLiteReader) ListTables() []string {
	rows, err := r.Query(
		"SELECT name FROM sqlite_master WHERE type='table' ORDER BY name")
	if err != nil {
		panic(err)
	}
	defer rows.Close()

	var tables []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			panic(err)
		}

		tables = append(tables, name)
	}

	return tables
}

// Count returns the number of rows of a table that match params.
func (r *SQLiteReader) Count(
	ctx context.Context,
	tableName string,
	params QueryParams,
) (int, error) {
	query := "SELECT COUNT(*) FROM " + tableName
	if params.Where != "" {
		query += " WHERE " + params.Where
	}

	var n int
	err := r.QueryRowContext(ctx, query, params.Args...).Scan(&n)

	return n, err
}

// Fetch returns the rows of a mapped table, decoded into values of the mapped
// struct type.
func (r *SQLiteReader) Fetch(
	ctx context.Context,
	tableName string,
	params QueryParams,
) ([]any, error) {
	structType, ok := r.typeMap[tableName]
	if !ok {
		return nil, fmt.Errorf("table %s is not mapped", tableName)
	}

	names, _ := fieldNames(structType)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(names, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(tableName)

	if params.Where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(params.Where)
	}

	if params.OrderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(params.OrderBy)
	}

	if params.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", params.Limit)
	}

	rows, err := r.QueryContext(ctx, sb.String(), params.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []any

	for rows.Next() {
		entry := reflect.New(structType).Elem()
		dest := make([]any, structType.NumField())

		for i := range dest {
			dest[i] = entry.Field(i).Addr().Interface()
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		results = append(results, entry.Interface())
	}

	return results, rows.Err()
}
