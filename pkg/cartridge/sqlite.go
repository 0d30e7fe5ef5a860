package cartridge

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/kitbash/pkg/log"
	"github.com/cuemby/kitbash/pkg/types"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Cartridge is the SQLite + JSON-file backed implementation of Store.
// One instance owns one `<name>.kbc/` directory.
type Cartridge struct {
	mu     sync.RWMutex
	logger zerolog.Logger

	dir  string
	name string
	db   *sql.DB

	annotations map[int64]types.Annotation
	keywordIdx  map[string]map[int64]bool
	hashIdx     map[string]int64
	accessLog   map[int64]int64

	manifest types.Manifest
}

// Open loads (or initialises) the cartridge at dir/<name>.kbc.
func Open(cartridgesDir, name string) (*Cartridge, error) {
	dir := filepath.Join(cartridgesDir, name+".kbc")
	if err := os.MkdirAll(filepath.Join(dir, "indices"), 0o755); err != nil {
		return nil, fmt.Errorf("cartridge %s: %w", name, err)
	}

	dbPath := filepath.Join(dir, "facts.db")
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000")
	if err != nil {
		return nil, fmt.Errorf("cartridge %s: open facts.db: %w", name, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS facts (
		id INTEGER PRIMARY KEY,
		content TEXT NOT NULL,
		content_hash TEXT UNIQUE NOT NULL,
		created_at DATETIME NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active'
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cartridge %s: create facts table: %w", name, err)
	}

	c := &Cartridge{
		logger:      log.WithCartridge(name),
		dir:         dir,
		name:        name,
		db:          db,
		annotations: make(map[int64]types.Annotation),
		keywordIdx:  make(map[string]map[int64]bool),
		hashIdx:     make(map[string]int64),
		accessLog:   make(map[int64]int64),
	}

	if err := c.loadAnnotations(); err != nil {
		return nil, err
	}
	if err := c.loadIndices(); err != nil {
		c.rebuildIndices()
		c.logger.Warn().Msg("keyword/hash indices missing or corrupt, rebuilt from facts table")
	}
	if err := c.loadManifest(); err != nil {
		c.regenerateManifest()
		c.logger.Warn().Msg("manifest missing or corrupt, regenerated")
	}

	return c, nil
}

func (c *Cartridge) Name() string { return c.name }

// Dir returns the cartridge's backing directory, for collaborators (like
// the grain store) that need to locate sibling on-disk state.
func (c *Cartridge) Dir() string { return c.dir }

func (c *Cartridge) Manifest() types.Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.manifest
}

func (c *Cartridge) FactCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.annotations)
}

// AddFact dedups by content hash; a duplicate returns the existing id and
// never errors.
func (c *Cartridge) AddFact(content string, annotation types.Annotation) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sum := sha256.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])

	if existing, ok := c.hashIdx[hash]; ok {
		return existing, nil
	}

	now := time.Now()
	res, err := c.db.Exec(
		`INSERT INTO facts (content, content_hash, created_at, access_count, status) VALUES (?, ?, ?, 0, ?)`,
		content, hash, now, types.FactStatusActive,
	)
	if err != nil {
		return 0, fmt.Errorf("insert fact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert fact: %w", err)
	}

	annotation.FactID = id
	c.annotations[id] = annotation
	c.hashIdx[hash] = id
	for _, tok := range Tokenize(content) {
		if c.keywordIdx[tok] == nil {
			c.keywordIdx[tok] = make(map[int64]bool)
		}
		c.keywordIdx[tok][id] = true
	}

	c.manifest.FactCount = len(c.annotations)
	c.manifest.UpdatedAt = now
	return id, nil
}

func (c *Cartridge) GetFact(id int64) (*types.Fact, *types.Annotation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var f types.Fact
	row := c.db.QueryRow(`SELECT id, content, content_hash, created_at, access_count, status FROM facts WHERE id = ?`, id)
	if err := row.Scan(&f.ID, &f.Content, &f.ContentHash, &f.CreatedAt, &f.AccessCount, &f.Status); err != nil {
		return nil, nil, fmt.Errorf("fact %d: %w", id, err)
	}

	f.AccessCount++
	c.accessLog[id]++
	if _, err := c.db.Exec(`UPDATE facts SET access_count = ? WHERE id = ?`, f.AccessCount, id); err != nil {
		c.logger.Warn().Err(err).Int64("fact_id", id).Msg("failed to persist access count")
	}

	ann, ok := c.annotations[id]
	if !ok {
		return &f, nil, nil
	}
	return &f, &ann, nil
}

// Query tokenises terms, intersects keyword postings, and ranks by
// confidence descending (stable); on empty intersection, falls back to the
// union.
func (c *Cartridge) Query(terms []string) ([]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var tokens []string
	for _, t := range terms {
		tokens = append(tokens, Tokenize(t)...)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	var postings []map[int64]bool
	for _, tok := range tokens {
		if p, ok := c.keywordIdx[tok]; ok {
			postings = append(postings, p)
		}
	}
	if len(postings) == 0 {
		return nil, nil
	}

	intersection := intersect(postings)
	ids := intersection
	if len(ids) == 0 {
		ids = union(postings)
	}

	sort.Slice(ids, func(i, j int) bool {
		ci := c.annotations[ids[i]].Confidence
		cj := c.annotations[ids[j]].Confidence
		if ci != cj {
			return ci > cj
		}
		return ids[i] < ids[j]
	})
	return ids, nil
}

func intersect(sets []map[int64]bool) []int64 {
	if len(sets) == 0 {
		return nil
	}
	var result []int64
	for id := range sets[0] {
		inAll := true
		for _, s := range sets[1:] {
			if !s[id] {
				inAll = false
				break
			}
		}
		if inAll {
			result = append(result, id)
		}
	}
	return result
}

func union(sets []map[int64]bool) []int64 {
	seen := make(map[int64]bool)
	var result []int64
	for _, s := range sets {
		for id := range s {
			if !seen[id] {
				seen[id] = true
				result = append(result, id)
			}
		}
	}
	return result
}

// Save persists annotations, indices and manifest atomically per file
// (write to a temp file then rename); a crash between files leaves a state
// recoverable by manifest regeneration on next Open.
func (c *Cartridge) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.saveAnnotations(); err != nil {
		return err
	}
	if err := c.saveIndices(); err != nil {
		return err
	}
	return c.saveManifest()
}

func (c *Cartridge) Close() error {
	if err := c.Save(); err != nil {
		return err
	}
	return c.db.Close()
}

func atomicWriteJSON(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (c *Cartridge) saveAnnotations() error {
	path := filepath.Join(c.dir, "annotations.jsonl")
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	var ids []int64
	for id := range c.annotations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	enc := json.NewEncoder(f)
	for _, id := range ids {
		if err := enc.Encode(c.annotations[id]); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (c *Cartridge) loadAnnotations() error {
	path := filepath.Join(c.dir, "annotations.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var a types.Annotation
		if err := dec.Decode(&a); err != nil {
			break
		}
		c.annotations[a.FactID] = a
	}
	return nil
}

func (c *Cartridge) saveIndices() error {
	kw := make(map[string][]int64, len(c.keywordIdx))
	for tok, ids := range c.keywordIdx {
		var list []int64
		for id := range ids {
			list = append(list, id)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		kw[tok] = list
	}
	if err := atomicWriteJSON(filepath.Join(c.dir, "indices", "keyword.idx"), kw); err != nil {
		return err
	}
	if err := atomicWriteJSON(filepath.Join(c.dir, "indices", "content_hash.idx"), c.hashIdx); err != nil {
		return err
	}
	return atomicWriteJSON(filepath.Join(c.dir, "indices", "access_log.idx"), c.accessLog)
}

func (c *Cartridge) loadIndices() error {
	kwPath := filepath.Join(c.dir, "indices", "keyword.idx")
	data, err := os.ReadFile(kwPath)
	if err != nil {
		return err
	}
	var kw map[string][]int64
	if err := json.Unmarshal(data, &kw); err != nil {
		return err
	}
	for tok, ids := range kw {
		m := make(map[int64]bool, len(ids))
		for _, id := range ids {
			m[id] = true
		}
		c.keywordIdx[tok] = m
	}

	if data, err := os.ReadFile(filepath.Join(c.dir, "indices", "content_hash.idx")); err == nil {
		_ = json.Unmarshal(data, &c.hashIdx)
	}
	if data, err := os.ReadFile(filepath.Join(c.dir, "indices", "access_log.idx")); err == nil {
		_ = json.Unmarshal(data, &c.accessLog)
	}
	return nil
}

// rebuildIndices reconstructs keyword/hash indices from facts.db + the
// loaded annotations, used when the on-disk index files are missing or
// corrupt.
func (c *Cartridge) rebuildIndices() {
	c.keywordIdx = make(map[string]map[int64]bool)
	c.hashIdx = make(map[string]int64)

	rows, err := c.db.Query(`SELECT id, content, content_hash FROM facts`)
	if err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var content, hash string
		if err := rows.Scan(&id, &content, &hash); err != nil {
			continue
		}
		c.hashIdx[hash] = id
		for _, tok := range Tokenize(content) {
			if c.keywordIdx[tok] == nil {
				c.keywordIdx[tok] = make(map[int64]bool)
			}
			c.keywordIdx[tok][id] = true
		}
	}
}

func (c *Cartridge) saveManifest() error {
	return atomicWriteJSON(filepath.Join(c.dir, "manifest.json"), c.manifest)
}

func (c *Cartridge) loadManifest() error {
	data, err := os.ReadFile(filepath.Join(c.dir, "manifest.json"))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &c.manifest)
}

func (c *Cartridge) regenerateManifest() {
	var sum float64
	for _, a := range c.annotations {
		sum += a.Confidence
	}
	avg := 0.0
	if len(c.annotations) > 0 {
		avg = sum / float64(len(c.annotations))
	}
	now := time.Now()
	c.manifest = types.Manifest{
		Name:              c.name,
		Version:           "1",
		CreatedAt:         now,
		UpdatedAt:         now,
		FactCount:         len(c.annotations),
		AverageConfidence: avg,
		SplitStatus:       "none",
	}
}
