package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"dynmount/internal/logging"

	"github.com/spf13/afero"
)

var (
	logger = logging.GetLogger().WithPrefix("state")

	// ErrNoRecord indicates that no session has been recorded
	ErrNoRecord = errors.New("no session record")
)

// Manager handles loading and saving the session record
type Manager struct {
	fs          afero.Fs
	statePath   string
	backupDir   string
	backupCount int
	mu          sync.Mutex
}

// NewManager creates a state manager for the record file at statePath. It
// ensures the state directory exists.
func NewManager(fsys afero.Fs, statePath string) (*Manager, error) {
	logger.Debug("Creating new state manager with path: %s", statePath)
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	absPath, err := filepath.Abs(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path %s: %w", statePath, err)
	}
	logger.Trace("Resolved state path: %s", absPath)

	stateDir := filepath.Dir(absPath)
	if err := fsys.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	return &Manager{
		fs:          fsys,
		statePath:   absPath,
		backupDir:   filepath.Join(stateDir, ".dynmount-backups"),
		backupCount: 5,
	}, nil
}

// Path returns the absolute path of the record file.
func (sm *Manager) Path() string {
	return sm.statePath
}

// Load reads the session record. It returns ErrNoRecord when no record has
// been saved or the last one was cleared.
func (sm *Manager) Load() (*Record, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	logger.Debug("Loading state from: %s", sm.statePath)
	data, err := afero.ReadFile(sm.fs, sm.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoRecord
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if rec.Version > CurrentVersion {
		return nil, fmt.Errorf("state file version %d is newer than supported version %d", rec.Version, CurrentVersion)
	}

	logger.Debug("Loaded record for session %s", rec.SessionID)
	return &rec, nil
}

// Save writes rec to disk, backing up the previous record first.
func (sm *Manager) Save(rec *Record) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	logger.Debug("Saving state to: %s", sm.statePath)

	if err := sm.createBackup(); err != nil {
		logger.Warn("Failed to create backup: %v", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write through a temp file so readers never see a partial record.
	tmp := sm.statePath + ".tmp"
	if err := afero.WriteFile(sm.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := sm.fs.Rename(tmp, sm.statePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	logger.Trace("Wrote %d bytes of state data", len(data))
	return nil
}

// Clear removes the record, keeping a backup of it.
func (sm *Manager) Clear() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.createBackup(); err != nil {
		logger.Warn("Failed to create backup: %v", err)
	}
	if err := sm.fs.Remove(sm.statePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// createBackup creates a timestamped backup of the current state file
func (sm *Manager) createBackup() error {
	data, err := afero.ReadFile(sm.fs, sm.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	if err := sm.fs.MkdirAll(sm.backupDir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory %s: %w", sm.backupDir, err)
	}

	timestamp := time.Now().Format("20060102-150405.000000")
	backupPath := filepath.Join(sm.backupDir, fmt.Sprintf("session-%s.json", timestamp))

	logger.Debug("Creating backup: %s", backupPath)
	if err := afero.WriteFile(sm.fs, backupPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	return sm.cleanupOldBackups()
}

// cleanupOldBackups removes old backup files, keeping only the most recent ones
func (sm *Manager) cleanupOldBackups() error {
	entries, err := afero.ReadDir(sm.fs, sm.backupDir)
	if err != nil {
		return err
	}

	backups := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			backups = append(backups, entry.Name())
		}
	}

	// Names embed the timestamp, newest sorts last
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	for i := sm.backupCount; i < len(backups); i++ {
		path := filepath.Join(sm.backupDir, backups[i])
		logger.Debug("Removing old backup: %s", path)
		if err := sm.fs.Remove(path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", path, err)
		}
	}

	return nil
}

// Backups lists backup files, newest first.
func (sm *Manager) Backups() ([]string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	entries, err := afero.ReadDir(sm.fs, sm.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			out = append(out, filepath.Join(sm.backupDir, entry.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}
