package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// StagingManager handles the per-run working directory layout:
// <root>/<domain>/<cob_date>/<run_id>/{raw,projected,partitions}
type StagingManager struct {
	BaseDir string
}

// RunDirs are the resolved working directories for one run
type RunDirs struct {
	Root       string
	Raw        string
	Projected  string
	Partitions string
}

// NewStagingManager creates a new staging manager
func NewStagingManager(baseDir string) *StagingManager {
	return &StagingManager{
		BaseDir: baseDir,
	}
}

// CreateRunDirs creates the isolated directory tree for one run
func (sm *StagingManager) CreateRunDirs(domainName, cobDate, runID string) (RunDirs, error) {
	root := filepath.Join(sm.BaseDir, SanitizeKey(domainName), SanitizeKey(cobDate), filepath.Base(runID))
	dirs := RunDirs{
		Root:       root,
		Raw:        filepath.Join(root, "raw"),
		Projected:  filepath.Join(root, "projected"),
		Partitions: filepath.Join(root, "partitions"),
	}
	for _, d := range []string{dirs.Raw, dirs.Projected} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return RunDirs{}, fmt.Errorf("failed to create staging directory: %w", err)
		}
	}
	// partitions is created by the splitter through a rename
	return dirs, nil
}

// FilePath joins a file name onto a directory, dropping any path separators in the name
func FilePath(dir, fileName string) string {
	return filepath.Join(dir, filepath.Base(fileName))
}

// GetFileSize returns the size of a file in bytes
func GetFileSize(filePath string) (int64, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return 0, err
	}
	return fileInfo.Size(), nil
}

// EnsureBaseDirExists ensures the staging root exists
func (sm *StagingManager) EnsureBaseDirExists() error {
	return os.MkdirAll(sm.BaseDir, 0755)
}

// RemoveRun deletes a run's working tree
func (sm *StagingManager) RemoveRun(dirs RunDirs) error {
	return os.RemoveAll(dirs.Root)
}
