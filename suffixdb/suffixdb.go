// Package suffixdb stores resolved organizational domains for reuse.
//
// Resolving an organizational domain requires fetching the public suffix
// list. By caching results, repeated checks for the same domain do not fetch
// the list again. Implements the cache interface of the publicsuffix package.
package suffixdb

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mjl-/bstore"

	"github.com/emailauth/emailauth/mlog"
)

var timeNow = time.Now // Tests override this.

// OrgDomain is a cached organizational domain resolution.
type OrgDomain struct {
	Domain    string // ASCII domain the resolution was for.
	OrgDomain string // Resolved organizational domain, ASCII. Can equal Domain.
	Inserted  time.Time `bstore:"default now"`
	ValidEnd  time.Time
}

// DBTypes are the types stored in the database.
var DBTypes = []any{OrgDomain{}}

// DB is an open organizational domain cache.
type DB struct {
	db  *bstore.DB
	log mlog.Log
}

// Open opens the database at path, creating it when absent.
func Open(ctx context.Context, elog *slog.Logger, path string) (*DB, error) {
	os.MkdirAll(filepath.Dir(path), 0770)
	db, err := bstore.Open(ctx, path, &bstore.Options{Timeout: 5 * time.Second, Perm: 0660}, DBTypes...)
	if err != nil {
		return nil, err
	}
	return &DB{db, mlog.New("suffixdb", elog)}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Get returns the cached organizational domain for domain. Expired entries
// are treated as absent and removed.
func (d *DB) Get(ctx context.Context, domain string) (string, bool, error) {
	od := OrgDomain{Domain: domain}
	if err := d.db.Get(ctx, &od); err == bstore.ErrAbsent {
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}
	if !od.ValidEnd.After(timeNow()) {
		if err := d.db.Delete(ctx, &od); err != nil {
			d.log.Errorx("removing expired organizational domain", err, slog.String("domain", domain))
		}
		return "", false, nil
	}
	return od.OrgDomain, true, nil
}

// Set stores the resolved organizational domain for domain for ttl,
// overwriting an existing entry.
func (d *DB) Set(ctx context.Context, domain, orgDomain string, ttl time.Duration) error {
	return d.db.Write(ctx, func(tx *bstore.Tx) error {
		od := OrgDomain{Domain: domain}
		err := tx.Get(&od)
		if err != nil && err != bstore.ErrAbsent {
			return err
		}
		now := timeNow()
		od.OrgDomain = orgDomain
		od.ValidEnd = now.Add(ttl)
		if err == bstore.ErrAbsent {
			od.Inserted = now
			return tx.Insert(&od)
		}
		return tx.Update(&od)
	})
}

// DeleteExpired removes all expired entries, returning how many were removed.
func (d *DB) DeleteExpired(ctx context.Context) (int, error) {
	q := bstore.QueryDB[OrgDomain](ctx, d.db)
	q.FilterLessEqual("ValidEnd", timeNow())
	return q.Delete()
}
