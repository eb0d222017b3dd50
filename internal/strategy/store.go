package strategy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Store keeps every strategy version on disk, one JSON file per version.
// Saved versions are never rewritten; content changes allocate the next
// version number for the same issuer and page count.
type Store struct {
	dir    string
	logger *slog.Logger

	mu         sync.RWMutex
	strategies []*Strategy
}

// OpenStore loads every strategy file under dir. Files that do not decode
// or validate are logged and skipped so one bad map cannot block a batch.
func OpenStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create strategy directory: %w", err)
	}

	s := &Store{dir: dir, logger: logger}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read strategy directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable strategy file", "path", path, "error", err)
			continue
		}
		st, err := decodeStrategy(data)
		if err != nil {
			logger.Warn("skipping malformed strategy file", "path", path, "error", err)
			continue
		}
		if err := st.Validate(); err != nil {
			logger.Warn("skipping invalid strategy file", "path", path, "error", err)
			continue
		}
		s.strategies = append(s.strategies, st)
	}

	sort.Slice(s.strategies, func(i, j int) bool {
		a, b := s.strategies[i], s.strategies[j]
		if a.Key() != b.Key() {
			return a.Key() < b.Key()
		}
		return a.Version < b.Version
	})
	return s, nil
}

// Len reports the number of loaded strategy versions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.strategies)
}

// Latest returns the newest version in a strategy family, or nil.
func (s *Store) Latest(issuer string, pageCount int, subtype Subtype) *Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestLocked(issuer, pageCount, subtype)
}

func (s *Store) latestLocked(issuer string, pageCount int, subtype Subtype) *Strategy {
	key := fmt.Sprintf("%s|%d|%s", strings.ToUpper(issuer), pageCount, subtype)
	var best *Strategy
	for _, st := range s.strategies {
		if st.Key() != key {
			continue
		}
		if best == nil || st.Version > best.Version {
			best = st
		}
	}
	return best
}

// Save persists a strategy. When its content matches the latest version for
// the same issuer and page count, that version is returned unchanged;
// otherwise the next version number is allocated and written.
func (s *Store) Save(st *Strategy) (int, error) {
	if err := st.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	latest := s.latestLocked(st.Issuer, st.TargetPageCount, st.Subtype)
	if latest != nil && sameContent(latest, st) {
		return latest.Version, nil
	}

	next := 1
	if latest != nil {
		next = latest.Version + 1
	}

	saved := *st
	saved.Version = next
	saved.Issuer = strings.ToUpper(strings.TrimSpace(st.Issuer))

	data, err := json.MarshalIndent(&saved, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode strategy: %w", err)
	}
	path := filepath.Join(s.dir, fileName(&saved))
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return 0, fmt.Errorf("write strategy %s: %w", path, err)
	}

	s.strategies = append(s.strategies, &saved)
	s.logger.Info("strategy saved",
		"issuer", saved.Issuer,
		"pages", saved.TargetPageCount,
		"version", saved.Version,
		"fields", len(saved.Fields))
	return next, nil
}

func sameContent(a, b *Strategy) bool {
	return reflect.DeepEqual(a.Fields, b.Fields)
}

func fileName(st *Strategy) string {
	slug := strings.ToLower(st.Issuer)
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, slug)
	if st.Subtype != SubtypeOrdinary {
		slug += "_" + string(st.Subtype)
	}
	return fmt.Sprintf("strategy_%s_%dp_v%d.json", slug, st.TargetPageCount, st.Version)
}

// decodeStrategy accepts both the current schema, where each field holds a
// list of rules, and older files where a field maps to a single rule object.
func decodeStrategy(data []byte) (*Strategy, error) {
	var raw struct {
		ModelID         string                     `json:"modelo_identificado"`
		Issuer          string                     `json:"distribuidora_principal"`
		TargetPageCount int                        `json:"paginas_analisadas"`
		Version         int                        `json:"versao"`
		Subtype         Subtype                    `json:"subtipo"`
		Fields          map[string]json.RawMessage `json:"campos"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	st := &Strategy{
		ModelID:         raw.ModelID,
		Issuer:          strings.ToUpper(strings.TrimSpace(raw.Issuer)),
		TargetPageCount: raw.TargetPageCount,
		Version:         raw.Version,
		Subtype:         raw.Subtype,
		Fields:          make(map[string][]Rule, len(raw.Fields)),
	}
	for field, msg := range raw.Fields {
		var rules []Rule
		if err := json.Unmarshal(msg, &rules); err != nil {
			var single Rule
			if err := json.Unmarshal(msg, &single); err != nil {
				return nil, fmt.Errorf("field %s: %w", field, err)
			}
			rules = []Rule{single}
		}
		st.Fields[field] = rules
	}
	return st, nil
}
