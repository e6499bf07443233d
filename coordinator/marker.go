package coordinator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/wbrown/lazy_corpus/lazy"
)

const (
	buildingMarker = ".building"
	failedMarker   = ".failed"
	lockFile       = ".build.lock"
)

// Marker
// Describes a build in progress (`.building`) or a failed one (`.failed`)
// in the store directory.
type Marker struct {
	Owner    string    `json:"owner"`
	PID      int       `json:"pid"`
	Host     string    `json:"host"`
	Tags     []string  `json:"tags"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func newMarker(tags []string) *Marker {
	host, _ := os.Hostname()
	return &Marker{
		Owner:   uuid.NewString(),
		PID:     os.Getpid(),
		Host:    host,
		Tags:    tags,
		Started: time.Now(),
	}
}

func markerPath(path string, name string) string {
	return filepath.Join(lazy.StoreDir(path), name)
}

// writeMarker replaces the marker atomically.
func writeMarker(path string, name string, m *Marker) error {
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(lazy.StoreDir(path), 0755); err != nil {
		return err
	}
	final := markerPath(path, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, buf, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// readMarker returns nil, nil when the marker does not exist.
func readMarker(path string, name string) (*Marker, error) {
	buf, err := os.ReadFile(markerPath(path, name))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	m := &Marker{}
	if err := json.Unmarshal(buf, m); err != nil {
		return nil, err
	}
	return m, nil
}

func removeMarker(path string, name string) error {
	err := os.Remove(markerPath(path, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
