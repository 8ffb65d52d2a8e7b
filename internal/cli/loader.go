package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ichavezg/nayra/internal/bpmn"
	"github.com/ichavezg/nayra/internal/harness"
)

// LoadError is an error that occurred while loading scenario files.
type LoadError struct {
	Code    string
	Message string
	File    string
}

func (e *LoadError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants, shared by all commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No scenario files found
	ErrCodeLoadFailed  = "E004" // File could not be read or parsed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeDatabase    = "E008" // Database could not be opened or read

	ErrCodeSchema    = "E201" // Scenario does not match the schema
	ErrCodeGraph     = "E202" // Process graph is inconsistent
	ErrCodeReference = "E203" // Unknown process, alias or duplicate id
)

// ScenarioFile is one loaded scenario file.
type ScenarioFile struct {
	Path     string
	Scenario *harness.Scenario
	Err      *LoadError
}

// FindScenarioFiles returns the YAML files under path, or path itself when
// it is a file. filter is a glob matched against the file name without
// extension.
func FindScenarioFiles(path, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("path not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing %s: %v", path, err)}
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" && p != path {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(p), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning %s: %v", path, err)}
	}
	return files, nil
}

// LoadScenarioFiles loads every file. Files that fail keep their error in
// ScenarioFile.Err; loading continues with the next one.
func LoadScenarioFiles(paths []string) []ScenarioFile {
	out := make([]ScenarioFile, 0, len(paths))
	for _, p := range paths {
		s, err := harness.LoadScenario(p)
		sf := ScenarioFile{Path: p, Scenario: s}
		if err != nil {
			sf.Err = classifyLoadError(p, err)
		}
		out = append(out, sf)
	}
	return out
}

// classifyLoadError maps a harness load error to an error code.
func classifyLoadError(path string, err error) *LoadError {
	var schemaErr *harness.SchemaError
	switch {
	case errors.As(err, &schemaErr):
		return &LoadError{Code: ErrCodeSchema, Message: schemaErr.Details, File: path}
	case bpmn.IsGraphInconsistency(err):
		return &LoadError{Code: ErrCodeGraph, Message: err.Error(), File: path}
	case errors.Is(err, fs.ErrNotExist):
		return &LoadError{Code: ErrCodeNotFound, Message: err.Error(), File: path}
	case strings.Contains(err.Error(), "invalid scenario"):
		return &LoadError{Code: ErrCodeReference, Message: err.Error(), File: path}
	default:
		return &LoadError{Code: ErrCodeLoadFailed, Message: err.Error(), File: path}
	}
}
