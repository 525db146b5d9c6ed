// Package rules is the rule store behind tracking-parameter stripping and
// redirect shortcutting. Rules live in SQLite tables, seeded from YAML.
package rules

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/navguard/internal/logging"
	"github.com/ppiankov/navguard/internal/model"
)

// StripTable is the table of tracking parameters to remove.
const StripTable = "parameter_stripping"

// GlobalDomain applies a stripping rule to every host.
const GlobalDomain = "*"

// ErrUnknownTable is returned for a table name outside the stripping tables.
var ErrUnknownTable = errors.New("unknown rule table")

// strippingTables lists the tables ChangedURL may query. Table names are
// interpolated into SQL, so nothing else is accepted.
var strippingTables = map[string]bool{
	StripTable: true,
}

// StripRule removes Parameter from URLs on Domain (and its subdomains).
// A trailing "*" in Parameter matches any suffix.
type StripRule struct {
	Domain    string `db:"domain" yaml:"domain"`
	Parameter string `db:"parameter" yaml:"parameter"`
}

// Redirect maps one exact source URL to its destination.
type Redirect struct {
	Source string `db:"source" yaml:"source"`
	Target string `db:"target" yaml:"target"`
}

// RedirectParam extracts the destination of a redirector endpoint from a
// query parameter, e.g. google.com/url?q=<destination>.
type RedirectParam struct {
	Domain    string `db:"domain" yaml:"domain"`
	Path      string `db:"path" yaml:"path"`
	Parameter string `db:"parameter" yaml:"parameter"`
}

// Stats counts rows per table.
type Stats struct {
	StripRules     int `json:"strip_rules"`
	Redirects      int `json:"redirects"`
	RedirectParams int `json:"redirect_params"`
}

// Store is a SQLite-backed rule store. Safe for concurrent use.
type Store struct {
	db  *sqlx.DB
	log *zap.Logger
}

// Open opens the store at path, creating tables as needed. An empty path
// opens a private in-memory database.
func Open(path string, log *zap.Logger) (*Store, error) {
	// A :memory: database exists per connection, so the pool is pinned to a
	// single connection.
	dsn := "file::memory:?_pragma=temp_store(2)&_pragma=journal_mode(off)"
	if path != "" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening rule store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: logging.OrNop(log)}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing rule store schema: %w", err)
	}
	s.log.Debug("rule store opened", zap.String("path", path))
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS parameter_stripping (
			domain    TEXT NOT NULL,
			parameter TEXT NOT NULL,
			PRIMARY KEY (domain, parameter)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating parameter_stripping table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS redirects (
			source TEXT PRIMARY KEY,
			target TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating redirects table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS redirect_params (
			domain    TEXT NOT NULL,
			path      TEXT NOT NULL,
			parameter TEXT NOT NULL,
			PRIMARY KEY (domain, path)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating redirect_params table: %w", err)
	}
	return nil
}

// ChangedURL removes the parameters listed in table from u's query. It
// returns the rewritten URL and the sorted names of the removed parameters;
// when nothing was removed the URL is an unchanged copy and changes is
// empty. Remaining parameters keep their order and encoding.
func (s *Store) ChangedURL(u *url.URL, table string) (*url.URL, []string, error) {
	if !strippingTables[table] {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	out := model.CloneURL(u)
	if u == nil || u.RawQuery == "" {
		return out, nil, nil
	}

	domains := append(hostChain(u.Hostname()), GlobalDomain)
	query, args, err := sqlx.In("SELECT parameter FROM "+table+" WHERE domain IN (?)", domains)
	if err != nil {
		return nil, nil, fmt.Errorf("building strip query: %w", err)
	}
	var patterns []string
	if err := s.db.Select(&patterns, s.db.Rebind(query), args...); err != nil {
		return nil, nil, fmt.Errorf("loading strip rules: %w", err)
	}
	if len(patterns) == 0 {
		return out, nil, nil
	}

	removed := map[string]bool{}
	var kept []string
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		name := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			name = pair[:i]
		}
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
		if matchesAny(patterns, name) {
			removed[name] = true
			continue
		}
		kept = append(kept, pair)
	}
	if len(removed) == 0 {
		return out, nil, nil
	}

	out.RawQuery = strings.Join(kept, "&")
	out.ForceQuery = false
	changes := make([]string, 0, len(removed))
	for name := range removed {
		changes = append(changes, name)
	}
	sort.Strings(changes)
	return out, changes, nil
}

// Strip is ChangedURL on the default stripping table.
func (s *Store) Strip(u *url.URL) (*url.URL, []string, error) {
	return s.ChangedURL(u, StripTable)
}

// Redirect returns the destination u shortcuts to: first an exact entry in
// the redirects table, then a redirector parameter rule for u's host and
// path. The destination must be an absolute http(s) URL.
func (s *Store) Redirect(u *url.URL) (*url.URL, bool, error) {
	if u == nil {
		return nil, false, nil
	}

	var target string
	err := s.db.Get(&target, "SELECT target FROM redirects WHERE source = ?", u.String())
	switch {
	case err == nil:
		if dest, ok := destination(target); ok {
			return dest, true, nil
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("loading redirect: %w", err)
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	query, args, err := sqlx.In("SELECT domain, path, parameter FROM redirect_params WHERE domain IN (?) AND path = ?", hostChain(u.Hostname()), path)
	if err != nil {
		return nil, false, fmt.Errorf("building redirect query: %w", err)
	}
	var params []RedirectParam
	if err := s.db.Select(&params, s.db.Rebind(query), args...); err != nil {
		return nil, false, fmt.Errorf("loading redirect params: %w", err)
	}
	values := u.Query()
	for _, p := range params {
		if dest, ok := destination(values.Get(p.Parameter)); ok {
			return dest, true, nil
		}
	}
	return nil, false, nil
}

// AddStripRule inserts one stripping rule; duplicates are ignored.
func (s *Store) AddStripRule(r StripRule) error {
	_, err := s.db.NamedExec(`INSERT OR IGNORE INTO parameter_stripping (domain, parameter) VALUES (:domain, :parameter)`, normalizeStrip(r))
	if err != nil {
		return fmt.Errorf("inserting strip rule: %w", err)
	}
	return nil
}

// AddRedirect inserts or replaces an exact redirect.
func (s *Store) AddRedirect(r Redirect) error {
	_, err := s.db.NamedExec(`INSERT OR REPLACE INTO redirects (source, target) VALUES (:source, :target)`, r)
	if err != nil {
		return fmt.Errorf("inserting redirect: %w", err)
	}
	return nil
}

// AddRedirectParam inserts or replaces a redirector parameter rule.
func (s *Store) AddRedirectParam(r RedirectParam) error {
	_, err := s.db.NamedExec(`INSERT OR REPLACE INTO redirect_params (domain, path, parameter) VALUES (:domain, :path, :parameter)`, normalizeParam(r))
	if err != nil {
		return fmt.Errorf("inserting redirect param: %w", err)
	}
	return nil
}

// Stats returns row counts per table.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	for _, q := range []struct {
		dst   *int
		query string
	}{
		{&st.StripRules, "SELECT COUNT(*) FROM parameter_stripping"},
		{&st.Redirects, "SELECT COUNT(*) FROM redirects"},
		{&st.RedirectParams, "SELECT COUNT(*) FROM redirect_params"},
	} {
		if err := s.db.Get(q.dst, q.query); err != nil {
			return Stats{}, fmt.Errorf("counting rules: %w", err)
		}
	}
	return st, nil
}

// hostChain returns host followed by each parent domain:
// a.b.example.com, b.example.com, example.com, com.
func hostChain(host string) []string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return []string{""}
	}
	chain := []string{host}
	for {
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			return chain
		}
		host = host[dot+1:]
		chain = append(chain, host)
	}
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(name, prefix) {
				return true
			}
			continue
		}
		if name == p {
			return true
		}
	}
	return false
}

func destination(raw string) (*url.URL, bool) {
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u, true
	}
	return nil, false
}

func normalizeStrip(r StripRule) StripRule {
	r.Domain = strings.ToLower(strings.TrimSpace(r.Domain))
	if r.Domain == "" {
		r.Domain = GlobalDomain
	}
	r.Parameter = strings.TrimSpace(r.Parameter)
	return r
}

func normalizeParam(r RedirectParam) RedirectParam {
	r.Domain = strings.ToLower(strings.TrimSpace(r.Domain))
	if r.Path == "" {
		r.Path = "/"
	}
	return r
}
