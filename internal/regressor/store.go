package regressor

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/banshee-data/synapse/internal/monitoring"
	"github.com/banshee-data/synapse/internal/zstdutil"
)

// artifactFormat is bumped whenever the artifact layout changes in a way
// older readers cannot handle.
const artifactFormat = 1

var artifactPattern = regexp.MustCompile(`^model_v(\d+)\.json\.zst$`)

// SavePolicy selects the version a Save writes to.
type SavePolicy int

const (
	// NewVersion writes max(existing)+1.
	NewVersion SavePolicy = iota
	// Overwrite rewrites the active version, or allocates a new one if the
	// active model was never saved or loaded.
	Overwrite
)

type artifact struct {
	Format int    `json:"format"`
	Model  *Model `json:"model"`
}

func (r *Regressor) artifactPath(version int) string {
	return filepath.Join(r.cfg.Dir, fmt.Sprintf("model_v%d.json.zst", version))
}

// Versions lists the stored artifact versions in ascending order.
func (r *Regressor) Versions() ([]int, error) {
	names, err := r.cfg.FS.ReadDir(r.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrPersistence, r.cfg.Dir, err)
	}
	var versions []int
	for _, name := range names {
		m := artifactPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil || v < 1 {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

// Save writes the active model as a versioned artifact and returns the
// version written.
func (r *Regressor) Save(policy SavePolicy) (int, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.RLock()
	m, active := r.model, r.version
	r.mu.RUnlock()
	if m == nil {
		return 0, ErrModelNotTrained
	}

	version := active
	if policy == NewVersion || version == 0 {
		versions, err := r.Versions()
		if err != nil {
			return 0, err
		}
		version = 1
		if len(versions) > 0 {
			version = versions[len(versions)-1] + 1
		}
	}

	saved := m.withVersion(version)
	data, err := json.Marshal(artifact{Format: artifactFormat, Model: saved})
	if err != nil {
		return 0, fmt.Errorf("%w: encode: %v", ErrPersistence, err)
	}
	packed, err := zstdutil.Compress(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := r.cfg.FS.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return 0, fmt.Errorf("%w: create %s: %v", ErrPersistence, r.cfg.Dir, err)
	}
	path := r.artifactPath(version)
	if err := r.cfg.FS.WriteFile(path, packed, 0o644); err != nil {
		return 0, fmt.Errorf("%w: write %s: %v", ErrPersistence, path, err)
	}

	r.cache.Add(version, saved)
	r.swap(saved, version)
	monitoring.Logf("regressor %s: saved version %d to %s", r.cfg.Name, version, path)
	return version, nil
}

// Load activates the given version, or the newest when version is 0. It
// reports false with a nil error when no such artifact exists.
func (r *Regressor) Load(version int) (bool, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	versions, err := r.Versions()
	if err != nil {
		return false, err
	}
	if len(versions) == 0 {
		return false, nil
	}
	if version == 0 {
		version = versions[len(versions)-1]
	} else if i := sort.SearchInts(versions, version); i == len(versions) || versions[i] != version {
		return false, nil
	}

	m, err := r.read(version)
	if err != nil {
		return false, err
	}
	r.swap(m, version)
	monitoring.Logf("regressor %s: loaded version %d (test_r2=%s)", r.cfg.Name, version, m.Metrics.TestR2)
	return true, nil
}

// read decodes and checks an artifact, consulting the cache first.
func (r *Regressor) read(version int) (*Model, error) {
	if m, ok := r.cache.Get(version); ok {
		return m, nil
	}
	path := r.artifactPath(version)
	packed, err := r.cfg.FS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrPersistence, path, err)
	}
	data, err := zstdutil.Decompress(packed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPersistence, path, err)
	}
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrPersistence, path, err)
	}
	if a.Format != artifactFormat {
		return nil, fmt.Errorf("%w: %s has format %d, want %d", ErrPersistence, path, a.Format, artifactFormat)
	}
	if a.Model == nil {
		return nil, fmt.Errorf("%w: %s has no model", ErrPersistence, path)
	}
	if err := a.Model.compatible(r.cfg.Schema, r.cfg.Mode); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPersistence, path, err)
	}
	if a.Model.Version != version {
		return nil, fmt.Errorf("%w: %s records version %d", ErrPersistence, path, a.Model.Version)
	}
	r.cache.Add(version, a.Model)
	return a.Model, nil
}

// Summary is one row of the stored model listing.
type Summary struct {
	Version   int    `json:"version"`
	Active    bool   `json:"active"`
	TrainedAt string `json:"trained_at,omitempty"`
	Samples   int    `json:"n_samples"`
	TestR2    Metric `json:"test_r2"`
	TestMAE   Metric `json:"test_mae"`
	CVR2Mean  Metric `json:"cv_r2_mean"`
	Error     string `json:"error,omitempty"`
}

// List summarises every stored artifact. Unreadable artifacts are listed
// with their error rather than failing the whole listing.
func (r *Regressor) List() ([]Summary, error) {
	versions, err := r.Versions()
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	active := r.version
	r.mu.RUnlock()

	out := make([]Summary, 0, len(versions))
	for _, v := range versions {
		s := Summary{Version: v, Active: v == active}
		m, err := r.read(v)
		if err != nil {
			s.Error = err.Error()
			s.TestR2, s.TestMAE, s.CVR2Mean = Unavailable(), Unavailable(), Unavailable()
		} else {
			s.TrainedAt = m.TrainedAt.Format(time.RFC3339)
			s.Samples = m.Metrics.Samples
			s.TestR2 = m.Metrics.TestR2
			s.TestMAE = m.Metrics.TestMAE
			s.CVR2Mean = m.Metrics.CVR2Mean
		}
		out = append(out, s)
	}
	return out, nil
}
