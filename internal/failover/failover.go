// Package failover writes records that could not be stored to local JSON
// files, one file per incident, and reads them back.
package failover

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/02loveslollipop/aws-rainfall/internal/models"
)

const (
	// DefaultDir matches the directory the worker has always used.
	DefaultDir = "failover_logs"

	dirPermissions  = 0o750
	filePermissions = 0o640

	fileStampLayout = "200601021504"
	cumulativeTag   = "CUMULATIVE"
)

var (
	// ErrNotFound is returned by Load when the incident file does not exist.
	ErrNotFound = errors.New("failover incident not found")
	// ErrInvalidName is returned by Load for names outside the directory.
	ErrInvalidName = errors.New("invalid incident name")
)

// Entry is the on-disk shape of one failed record.
type Entry struct {
	ErrorTimestampLocal string        `json:"error_timestamp_local"`
	ErrorType           string        `json:"error_type"`
	SourceData          models.Record `json:"source_data"`
}

// Recorder writes failover incidents under Dir.
type Recorder struct {
	dir   string
	now   func() time.Time
	newID func() string
}

// NewRecorder returns a Recorder writing to dir (DefaultDir when empty).
func NewRecorder(dir string) *Recorder {
	if dir == "" {
		dir = DefaultDir
	}
	return &Recorder{
		dir:   dir,
		now:   time.Now,
		newID: func() string { return uuid.NewString()[:8] },
	}
}

// Dir returns the directory incidents are written to.
func (r *Recorder) Dir() string {
	return r.dir
}

// RecordSingle writes one record tagged with reason. It returns the path of
// the written file.
func (r *Recorder) RecordSingle(rec models.Record, reason string) (string, error) {
	now := r.now()
	name := fmt.Sprintf("%s_%s_worker_fail_%s.json", now.Format(fileStampLayout), reason, r.newID())
	entry := newEntry(rec, reason, now)
	return r.write(name, entry)
}

// RecordCumulative writes every record as one JSON array. All entries share
// the same incident timestamp and reason.
func (r *Recorder) RecordCumulative(recs []models.Record, reason string) (string, error) {
	now := r.now()
	name := fmt.Sprintf("%s_%s_%s_fail_%s.json", now.Format(fileStampLayout), cumulativeTag, reason, r.newID())

	entries := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, newEntry(rec, reason, now))
	}
	return r.write(name, entries)
}

func newEntry(rec models.Record, reason string, now time.Time) Entry {
	return Entry{
		ErrorTimestampLocal: now.Format(time.RFC3339Nano),
		ErrorType:           reason,
		SourceData:          rec,
	}
}

// write marshals v into a temp file and renames it into place so readers
// never see a half-written incident.
func (r *Recorder) write(name string, v any) (string, error) {
	if err := os.MkdirAll(r.dir, dirPermissions); err != nil {
		return "", fmt.Errorf("create failover dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode failover incident: %w", err)
	}

	path := filepath.Join(r.dir, name)
	tmp, err := os.CreateTemp(r.dir, ".incident-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	_ = os.Chmod(tmpName, filePermissions)

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename %s: %w", path, err)
	}
	return path, nil
}

// Incident summarises one failover file.
type Incident struct {
	Name       string    `json:"name"`
	Reason     string    `json:"reason"`
	Cumulative bool      `json:"cumulative"`
	Size       int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// List returns the incidents in dir, newest first. A missing directory is
// not an error: it only means nothing has failed yet.
func List(dir string) ([]Incident, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Incident{}, nil
		}
		return nil, err
	}

	incidents := make([]Incident, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		reason, cumulative := parseName(e.Name())
		incidents = append(incidents, Incident{
			Name:       e.Name(),
			Reason:     reason,
			Cumulative: cumulative,
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
	}

	sort.Slice(incidents, func(i, j int) bool {
		return incidents[i].Name > incidents[j].Name
	})
	return incidents, nil
}

// parseName extracts the reason from either file name form:
//
//	202311142213_DB_INSERT_FAIL_worker_fail_ab12cd34.json
//	202311142213_CUMULATIVE_DB_CONN_FAIL_fail_ab12cd34.json
func parseName(name string) (string, bool) {
	base := strings.TrimSuffix(name, ".json")
	stamp, rest, ok := strings.Cut(base, "_")
	if !ok || len(stamp) != len(fileStampLayout) {
		return "", false
	}

	if after, found := strings.CutPrefix(rest, cumulativeTag+"_"); found {
		if i := strings.LastIndex(after, "_fail_"); i >= 0 {
			return after[:i], true
		}
		return "", true
	}
	if i := strings.LastIndex(rest, "_worker_fail_"); i >= 0 {
		return rest[:i], false
	}
	return "", false
}

// Load reads the entries of one incident file. Single incidents are returned
// as a one-element slice.
func Load(dir, name string) ([]Entry, error) {
	if name != filepath.Base(name) || !strings.HasSuffix(name, ".json") {
		return nil, fmt.Errorf("%w %q", ErrInvalidName, name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var entries []Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return entries, nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return []Entry{entry}, nil
}
