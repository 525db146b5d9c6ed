package rules

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Seed is the YAML form of a rule set.
type Seed struct {
	// Strip maps a domain ("*" for every host) to parameter names.
	Strip          map[string][]string `yaml:"strip"`
	Redirects      []Redirect          `yaml:"redirects"`
	RedirectParams []RedirectParam     `yaml:"redirect_params"`
}

// DefaultSeed contains the built-in tracking parameters and redirector
// endpoints.
var DefaultSeed = Seed{
	Strip: map[string][]string{
		GlobalDomain: {
			"utm_*", "fbclid", "gclid", "dclid", "msclkid", "mc_eid",
			"igshid", "yclid", "_hsenc", "_hsmi", "__s", "vero_id",
		},
		"amazon.com":  {"pd_rd_*", "pf_rd_*", "ref_"},
		"youtube.com": {"feature", "si"},
	},
	RedirectParams: []RedirectParam{
		{Domain: "google.com", Path: "/url", Parameter: "q"},
		{Domain: "facebook.com", Path: "/l.php", Parameter: "u"},
		{Domain: "youtube.com", Path: "/redirect", Parameter: "q"},
		{Domain: "t.umblr.com", Path: "/redirect", Parameter: "z"},
		{Domain: "steamcommunity.com", Path: "/linkfilter/", Parameter: "url"},
	},
}

// LoadSeed reads a seed file. A missing file yields DefaultSeed.
func LoadSeed(path string) (Seed, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultSeed, nil
		}
		path = filepath.Join(home, ".navguard", "rules.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSeed, nil
		}
		return Seed{}, fmt.Errorf("read rules seed: %w", err)
	}

	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seed{}, fmt.Errorf("parse rules seed: %w", err)
	}
	return s, nil
}

// Import adds every rule in seed to the store, keeping existing rules.
func (s *Store) Import(seed Seed) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	if err := insertSeed(tx, seed); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	s.log.Info("rules imported",
		zap.Int("strip_domains", len(seed.Strip)),
		zap.Int("redirects", len(seed.Redirects)),
		zap.Int("redirect_params", len(seed.RedirectParams)))
	return nil
}

// Replace swaps the store contents for seed in one transaction; readers
// see either the old rules or the new ones.
func (s *Store) Replace(seed Seed) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	for _, table := range []string{"parameter_stripping", "redirects", "redirect_params"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	if err := insertSeed(tx, seed); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	s.log.Info("rules replaced")
	return nil
}

// ReloadFrom replaces the store contents with the seed at path.
func (s *Store) ReloadFrom(path string) error {
	seed, err := LoadSeed(path)
	if err != nil {
		return err
	}
	return s.Replace(seed)
}

func insertSeed(tx *sqlx.Tx, seed Seed) error {
	for domain, params := range seed.Strip {
		for _, p := range params {
			r := normalizeStrip(StripRule{Domain: domain, Parameter: p})
			if r.Parameter == "" {
				continue
			}
			if _, err := tx.NamedExec(`INSERT OR IGNORE INTO parameter_stripping (domain, parameter) VALUES (:domain, :parameter)`, r); err != nil {
				return fmt.Errorf("inserting strip rule %s/%s: %w", r.Domain, r.Parameter, err)
			}
		}
	}
	for _, r := range seed.Redirects {
		if _, err := tx.NamedExec(`INSERT OR REPLACE INTO redirects (source, target) VALUES (:source, :target)`, r); err != nil {
			return fmt.Errorf("inserting redirect %s: %w", r.Source, err)
		}
	}
	for _, r := range seed.RedirectParams {
		if _, err := tx.NamedExec(`INSERT OR REPLACE INTO redirect_params (domain, path, parameter) VALUES (:domain, :path, :parameter)`, normalizeParam(r)); err != nil {
			return fmt.Errorf("inserting redirect param %s%s: %w", r.Domain, r.Path, err)
		}
	}
	return nil
}

// DefaultSeedYAML returns DefaultSeed rendered as YAML, for init commands.
func DefaultSeedYAML() string {
	data, err := yaml.Marshal(DefaultSeed)
	if err != nil {
		return ""
	}
	return string(data)
}
