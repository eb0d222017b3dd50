package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// LayoutModel is one registry entry: a distinct document layout represented
// by a single exemplar fingerprint. The fingerprint never changes after
// creation; only new models are added.
type LayoutModel struct {
	ModelID     string      `json:"model_id"`
	Issuer      string      `json:"issuer"`
	Fingerprint Fingerprint `json:"fingerprint"`
	UsageCount  int         `json:"usage_count"`
}

// Thresholds are the tunable clustering constants. The defaults mirror the
// engine's tuned values but callers may override them from configuration.
type Thresholds struct {
	Similarity       float64
	HammingBuckets   [3]int
	VisualWeight     float64
	StructuralWeight float64
}

// DefaultThresholds returns the tuned clustering constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Similarity:       0.85,
		HammingBuckets:   [3]int{5, 10, 15},
		VisualWeight:     0.70,
		StructuralWeight: 0.30,
	}
}

// Registry is the persisted set of known layout models. Reads are
// concurrent; model creation serializes and saves the file immediately, so
// a crash never loses a registered layout.
type Registry struct {
	path       string
	thresholds Thresholds
	logger     *slog.Logger

	mu     sync.RWMutex
	models map[string]*LayoutModel
}

// OpenRegistry loads the registry file, starting empty when absent.
func OpenRegistry(path string, thresholds Thresholds, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		path:       path,
		thresholds: thresholds,
		logger:     logger,
		models:     make(map[string]*LayoutModel),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read layout registry: %w", err)
	}
	if err := json.Unmarshal(data, &r.models); err != nil {
		return nil, fmt.Errorf("parse layout registry %s: %w", path, err)
	}
	return r, nil
}

// Len returns the number of registered layout models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// Models returns a snapshot of all models, ordered by id.
func (r *Registry) Models() []LayoutModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LayoutModel, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// Classify assigns a fingerprint to the best existing model of the same
// issuer, or registers a new model when nothing is similar enough. The
// registry file is rewritten after every new model.
func (r *Registry) Classify(fp Fingerprint, issuer string) (modelID string, isNew bool, confidence float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *LayoutModel
	bestSim := 0.0
	for _, m := range r.models {
		if m.Issuer != issuer {
			continue
		}
		sim := r.similarity(fp, m.Fingerprint)
		if sim > bestSim {
			bestSim = sim
			best = m
		}
	}

	if best != nil && bestSim >= r.thresholds.Similarity {
		best.UsageCount++
		return best.ModelID, false, fp.Confidence(), nil
	}

	model := &LayoutModel{
		ModelID:     ModelID(issuer, fp),
		Issuer:      issuer,
		Fingerprint: fp,
		UsageCount:  1,
	}
	r.models[model.ModelID] = model
	if err := r.saveLocked(); err != nil {
		return "", false, 0, err
	}

	r.logger.Info("new layout model registered",
		"model_id", model.ModelID,
		"issuer", issuer,
		"pages", fp.Structural.PageCount,
		"degraded", fp.Degraded,
	)
	return model.ModelID, true, fp.Confidence(), nil
}

// ModelID derives a reproducible identifier from the model's inputs, so
// re-running a batch regenerates identical registries.
func ModelID(issuer string, fp Fingerprint) string {
	canonical := fmt.Sprintf("%s|%d|%s", issuer, fp.Structural.PageCount, fp.VisualHash)
	sum := sha1.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:8])
}

// similarity blends visual and structural similarity with the configured
// weights.
func (r *Registry) similarity(a, b Fingerprint) float64 {
	return r.thresholds.VisualWeight*r.visualSimilarity(a, b) +
		r.thresholds.StructuralWeight*structuralSimilarity(a.Structural, b.Structural)
}

// visualSimilarity buckets the Hamming distance between the two hashes.
// Degraded (text-shape) hashes only compare equal or not.
func (r *Registry) visualSimilarity(a, b Fingerprint) float64 {
	if a.Degraded || b.Degraded {
		if a.VisualHash == b.VisualHash {
			return 1.0
		}
		return 0.0
	}

	dist := HammingDistance(ParseHash(a.VisualHash), ParseHash(b.VisualHash))
	switch {
	case dist <= r.thresholds.HammingBuckets[0]:
		return 1.0
	case dist <= r.thresholds.HammingBuckets[1]:
		return 0.7
	case dist <= r.thresholds.HammingBuckets[2]:
		return 0.4
	default:
		return 0.0
	}
}

// structuralSimilarity is a weighted average of page-count closeness,
// column match, density closeness and table-presence match.
func structuralSimilarity(a, b Structural) float64 {
	score := 0.0

	// Page count closeness: exact 1.0, off by one 0.7, then linear falloff.
	diff := math.Abs(float64(a.PageCount - b.PageCount))
	switch {
	case diff == 0:
		score += 0.30
	case diff == 1:
		score += 0.30 * 0.7
	default:
		if frac := 1.0 - diff/10.0; frac > 0 {
			score += 0.30 * frac * 0.4
		}
	}

	if a.ColumnEstimate == b.ColumnEstimate {
		score += 0.20
	}

	densityDiff := math.Abs(a.TextDensity - b.TextDensity)
	if closeness := 1.0 - densityDiff*4; closeness > 0 {
		score += 0.30 * closeness
	}

	if a.HasTables == b.HasTables {
		score += 0.20
	}

	return score
}

func (r *Registry) saveLocked() error {
	data, err := json.MarshalIndent(r.models, "", "  ")
	if err != nil {
		return fmt.Errorf("encode layout registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return err
	}
	if err := os.WriteFile(r.path, data, 0o640); err != nil {
		return fmt.Errorf("write layout registry: %w", err)
	}
	return nil
}
