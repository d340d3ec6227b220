package monitors

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/vthunder/pulseloop/internal/coretypes"
	"github.com/vthunder/pulseloop/internal/logging"
)

var defaultIgnorePatterns = []string{"*.tmp", "*.log", ".*", "~*"}

type fileState struct {
	mtime time.Time
	size  int64
}

// FilesystemMonitor polls a set of directories for created/modified/
// deleted files. Grounded on real_time_monitor.py's FileSystemMonitor
// (polling, not OS file-watch, per the original's own implementation).
type FilesystemMonitor struct {
	callbackSet

	WatchPaths     []string
	PollInterval   time.Duration
	IgnorePatterns []string

	mu     sync.Mutex
	states map[string]fileState

	stopCh chan struct{}
}

// NewFilesystemMonitor creates a monitor over the given paths (defaults
// to the user's home directory if none given) polling every second.
func NewFilesystemMonitor(watchPaths []string) *FilesystemMonitor {
	if len(watchPaths) == 0 {
		if home, err := os.UserHomeDir(); err == nil {
			watchPaths = []string{home}
		}
	}
	return &FilesystemMonitor{
		WatchPaths:     watchPaths,
		PollInterval:   time.Second,
		IgnorePatterns: defaultIgnorePatterns,
		states:         make(map[string]fileState),
	}
}

// RegisterCallback registers a file-change callback.
func (m *FilesystemMonitor) RegisterCallback(cb Callback) { m.register(cb) }

// AddWatchPath adds a directory to watch.
func (m *FilesystemMonitor) AddWatchPath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.WatchPaths {
		if p == path {
			return
		}
	}
	m.WatchPaths = append(m.WatchPaths, path)
}

// Initialize performs an initial scan (to seed baseline state without
// emitting spurious "created" events) and starts the poll loop.
func (m *FilesystemMonitor) Initialize() {
	for _, p := range m.WatchPaths {
		m.scanBaseline(p)
	}
	m.stopCh = make(chan struct{})
	go runLoop(m.stopCh, m.PollInterval, m.checkAllPaths)
}

// Shutdown stops the poll loop.
func (m *FilesystemMonitor) Shutdown() {
	if m.stopCh != nil {
		close(m.stopCh)
	}
}

func (m *FilesystemMonitor) shouldIgnore(name string) bool {
	for _, pattern := range m.IgnorePatterns {
		if strings.HasPrefix(pattern, "*") && strings.HasSuffix(name, pattern[1:]) {
			return true
		}
		if strings.HasPrefix(pattern, ".") && strings.HasPrefix(name, ".") {
			return true
		}
		if strings.HasPrefix(pattern, "~") && strings.HasPrefix(name, "~") {
			return true
		}
	}
	return false
}

func (m *FilesystemMonitor) scanBaseline(path string) {
	entries, err := os.ReadDir(path)
	if err != nil {
		logging.Debug("filesystem_monitor", "scan error for %s: %v", path, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || m.shouldIgnore(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		full := filepath.Join(path, entry.Name())
		m.mu.Lock()
		m.states[full] = fileState{mtime: info.ModTime(), size: info.Size()}
		m.mu.Unlock()
	}
}

func (m *FilesystemMonitor) checkAllPaths() {
	for _, p := range m.WatchPaths {
		if _, err := os.Stat(p); err == nil {
			m.checkPathChanges(p)
		}
	}
}

func (m *FilesystemMonitor) checkPathChanges(path string) {
	entries, err := os.ReadDir(path)
	if err != nil {
		logging.Debug("filesystem_monitor", "check error for %s: %v", path, err)
		return
	}

	current := make(map[string]bool)

	for _, entry := range entries {
		if entry.IsDir() || m.shouldIgnore(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		full := filepath.Join(path, entry.Name())
		current[full] = true
		state := fileState{mtime: info.ModTime(), size: info.Size()}

		m.mu.Lock()
		prev, existed := m.states[full]
		m.states[full] = state
		m.mu.Unlock()

		if !existed {
			m.emit(full, "created", state)
		} else if !prev.mtime.Equal(state.mtime) {
			m.emit(full, "modified", state)
		}
	}

	m.mu.Lock()
	var deleted []string
	deletedState := make(map[string]fileState)
	for known, state := range m.states {
		inWatchedDir := strings.HasPrefix(known, path+string(filepath.Separator))
		if inWatchedDir && !current[known] {
			deleted = append(deleted, known)
			deletedState[known] = state
		}
	}
	for _, d := range deleted {
		delete(m.states, d)
	}
	m.mu.Unlock()

	for _, d := range deleted {
		m.emit(d, "deleted", deletedState[d])
	}
}

func (m *FilesystemMonitor) emit(path, eventType string, state fileState) {
	id := fileEventID(path, state.mtime, state.size)
	m.fire(coretypes.NewPerceptionEvent(coretypes.PerceptionFilesystem, "filesystem_monitor", map[string]any{
		"event_id":   id,
		"path":       path,
		"event_type": eventType,
		"file_size":  state.size,
	}, 6))
}

// fileEventID derives a short stable id from path, mtime, and size so the
// same change never produces two distinct ids across a restart.
func fileEventID(path string, mtime time.Time, size int64) string {
	h := blake3.New()
	h.Write([]byte(path))
	h.Write([]byte(strconv.FormatInt(mtime.UnixNano(), 10)))
	h.Write([]byte(strconv.FormatInt(size, 10)))
	sum := h.Sum(nil)
	return "fs_" + hex.EncodeToString(sum[:8])
}
