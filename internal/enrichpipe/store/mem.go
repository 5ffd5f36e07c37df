package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"github.com/NukkadFoods/Webstorybackend/internal/enrichpipe/article"
	"github.com/NukkadFoods/Webstorybackend/internal/logger"
)

// memStub is the in-memory fallback used while the primary MongoDB
// connection is down. It is deliberately unpersisted:
// its only job is to keep reads serving the most recently known state
// of articles written during this process's lifetime, not to survive a
// restart. Backed by an in-process SQLite database rather than a bare
// map so the degrade path still goes through a real query engine
// (indexed lookups, GROUP BY for the threshold gate's aggregate) instead
// of hand-rolled map scans.
type memStub struct {
	db *sql.DB
}

const memStubSchema = `
CREATE TABLE IF NOT EXISTS articles (
	url      TEXT PRIMARY KEY,
	id       TEXT,
	section  TEXT,
	enriched INTEGER NOT NULL DEFAULT 0,
	data     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_articles_id ON articles(id);
CREATE INDEX IF NOT EXISTS idx_articles_section ON articles(section, enriched);
`

var memStubSeq atomic.Int64

func newMemStub() *memStub {
	// Each stub gets its own named in-memory database (cache=shared
	// would otherwise alias every stub in the process onto the same
	// backing store); MaxOpenConns(1) serializes access the way SQLite's
	// shared-cache in-memory mode expects from a single writer.
	name := fmt.Sprintf("file:memstub%d?mode=memory&cache=shared&_busy_timeout=5000", memStubSeq.Add(1))
	db, err := sql.Open("sqlite3", name)
	if err != nil {
		logger.Error("failed to open in-memory store stub", err)
		return &memStub{db: db}
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(memStubSchema); err != nil {
		logger.Error("failed to initialize in-memory store stub schema", err)
	}
	return &memStub{db: db}
}

func (m *memStub) upsertByURL(a article.Article) {
	data, err := json.Marshal(a)
	if err != nil {
		logger.Warn("stub: failed to encode article", "url", a.URL, "error", err)
		return
	}
	enriched := 0
	if a.IsComplete() {
		enriched = 1
	}
	_, err = m.db.Exec(
		`INSERT INTO articles (url, id, section, enriched, data) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET id=excluded.id, section=excluded.section, enriched=excluded.enriched, data=excluded.data`,
		a.URL, a.ID, a.Section, enriched, string(data),
	)
	if err != nil {
		logger.Warn("stub: failed to upsert article", "url", a.URL, "error", err)
	}
}

func (m *memStub) findByURL(url string) *article.Article {
	return m.queryOne(`SELECT data FROM articles WHERE url = ?`, url)
}

func (m *memStub) findByID(id string) *article.Article {
	return m.queryOne(`SELECT data FROM articles WHERE id = ? LIMIT 1`, id)
}

func (m *memStub) queryOne(query, arg string) *article.Article {
	var data string
	if err := m.db.QueryRow(query, arg).Scan(&data); err != nil {
		return nil
	}
	var a article.Article
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		logger.Warn("stub: failed to decode stored article", "error", err)
		return nil
	}
	return &a
}

func (m *memStub) countBy(section string, enrichedOnly bool) int64 {
	query := `SELECT COUNT(*) FROM articles WHERE section = ?`
	if enrichedOnly {
		query += ` AND enriched = 1`
	}
	var n int64
	if err := m.db.QueryRow(query, section).Scan(&n); err != nil {
		logger.Warn("stub: countBy query failed", "section", section, "error", err)
		return 0
	}
	return n
}

func (m *memStub) aggregateCountsBySection() map[string]int64 {
	rows, err := m.db.Query(`SELECT section, COUNT(*) FROM articles WHERE enriched = 1 GROUP BY section`)
	if err != nil {
		logger.Warn("stub: aggregateCountsBySection query failed", "error", err)
		return map[string]int64{}
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var section string
		var count int64
		if err := rows.Scan(&section, &count); err != nil {
			continue
		}
		out[section] = count
	}
	return out
}
