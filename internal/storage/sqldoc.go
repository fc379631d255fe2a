package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	logx "pbpwatch/pkg/logx"
)

// sqlDocument stores the document as one row (name, body, version) and
// implements the compare-and-swap with a conditional UPDATE. sqlite and
// postgres differ only in placeholder syntax and DDL.
type sqlDocument struct {
	db    *sql.DB
	table string // already quoted
	name  string
	ph    func(n int) string
	log   logx.Logger
}

func (d *sqlDocument) Load(ctx context.Context) (State, Version, error) {
	q := fmt.Sprintf("SELECT body, version FROM %s WHERE name = %s", d.table, d.ph(1))
	var (
		body string
		rev  int64
	)
	err := d.db.QueryRowContext(ctx, q, d.name).Scan(&body, &rev)
	if errors.Is(err, sql.ErrNoRows) {
		d.log.Info("no state document yet; starting empty")
		return Empty(), NoVersion, nil
	}
	if err != nil {
		return State{}, NoVersion, err
	}
	return decodeOrEmpty([]byte(body), d.log), Version(strconv.FormatInt(rev, 10)), nil
}

func (d *sqlDocument) Save(ctx context.Context, st State, expected Version) error {
	body, err := Encode(st)
	if err != nil {
		return err
	}

	var res sql.Result
	if expected == NoVersion {
		q := fmt.Sprintf(
			`INSERT INTO %s (name, body, version, updated_at) VALUES (%s, %s, 1, CURRENT_TIMESTAMP)
			 ON CONFLICT (name) DO NOTHING`,
			d.table, d.ph(1), d.ph(2))
		res, err = d.db.ExecContext(ctx, q, d.name, string(body))
	} else {
		rev, perr := strconv.ParseInt(string(expected), 10, 64)
		if perr != nil {
			return fmt.Errorf("foreign version token %q: %w", expected, ErrConflict)
		}
		q := fmt.Sprintf(
			`UPDATE %s SET body = %s, version = version + 1, updated_at = CURRENT_TIMESTAMP
			 WHERE name = %s AND version = %s`,
			d.table, d.ph(1), d.ph(2), d.ph(3))
		res, err = d.db.ExecContext(ctx, q, string(body), d.name, rev)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (d *sqlDocument) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}
