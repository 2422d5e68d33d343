package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"cragline/core"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type recordStore struct {
	db *sql.DB
}

// NewRecordStore creates a new SQLite-based record store.
func NewRecordStore(dataSourceName string) *recordStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	for _, table := range []string{"routes", "boulders"} {
		stmt := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		grade TEXT,
		image TEXT,
		image_line TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);`, table)
		if _, err = db.Exec(stmt); err != nil {
			log.Fatalf("failed to create %s table: %v", table, err)
		}
	}

	return &recordStore{db}
}

// tableName maps the logical table to its SQL name. Everything reaching SQL
// text goes through this whitelist.
func tableName(t core.Table) (string, error) {
	switch t {
	case core.TableRoute:
		return "routes", nil
	case core.TableBoulder:
		return "boulders", nil
	}
	return "", fmt.Errorf("unknown table %q", t)
}

func columnName(f core.ImageField) (string, error) {
	switch f {
	case core.FieldImage:
		return "image", nil
	case core.FieldImageLine:
		return "image_line", nil
	}
	return "", fmt.Errorf("unknown image field %q", f)
}

func (s *recordStore) List(ctx context.Context, table core.Table) ([]*core.TopoRecord, error) {
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT id, name, grade, image, image_line, created_at, updated_at FROM %s ORDER BY name", name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*core.TopoRecord
	for rows.Next() {
		var r core.TopoRecord
		var grade, image, imageLine sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &grade, &image, &imageLine, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Grade = grade.String
		r.Image = image.String
		r.ImageLine = imageLine.String
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *recordStore) Get(ctx context.Context, table core.Table, id string) (*core.TopoRecord, error) {
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}

	var r core.TopoRecord
	var grade, image, imageLine sql.NullString
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT id, name, grade, image, image_line, created_at, updated_at FROM %s WHERE id = ?", name), id).
		Scan(&r.ID, &r.Name, &grade, &image, &imageLine, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s with id %s not found", table, id)
		}
		return nil, err
	}
	r.Grade = grade.String
	r.Image = image.String
	r.ImageLine = imageLine.String
	return &r, nil
}

func (s *recordStore) Save(ctx context.Context, table core.Table, record *core.TopoRecord) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", name), record.ID).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	now := time.Now()
	if exists {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE %s SET name = ?, grade = ?, image = ?, image_line = ?, updated_at = ? WHERE id = ?", name),
			record.Name, record.Grade, record.Image, record.ImageLine, now, record.ID)
	} else {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO %s (id, name, grade, image, image_line, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)", name),
			record.ID, record.Name, record.Grade, record.Image, record.ImageLine, now, now)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *recordStore) UpdateImageField(ctx context.Context, table core.Table, id string, field core.ImageField, url string) error {
	name, err := tableName(table)
	if err != nil {
		return err
	}
	column, err := columnName(field)
	if err != nil {
		return err
	}

	log := logrus.WithFields(logrus.Fields{
		"table":     name,
		"record_id": id,
		"field":     column,
	})

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET %s = ?, updated_at = ? WHERE id = ?", name, column), url, time.Now(), id)
	if err != nil {
		log.WithError(err).Error("Failed to update image field")
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		log.Warn("No record matched image field update")
		return fmt.Errorf("%s with id %s not found", table, id)
	}

	log.Info("Image field updated")
	return nil
}
