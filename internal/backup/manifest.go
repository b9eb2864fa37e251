package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edvin/photovault/internal/model"
)

// ManifestVersion is bumped when the manifest document shape changes.
const ManifestVersion = "2.0"

// summaryHeader is the fixed first line of the human-readable report; the
// admin UI keys on it.
const summaryHeader = "BACKUP MANIFEST SUMMARY"

// Manifest is the durable, versioned record of exactly what a backup run
// contained. It lives at the destination and survives database loss.
// Immutable once written.
type Manifest struct {
	Version     string               `json:"version" yaml:"version"`
	Backup      ManifestBackup       `json:"backup" yaml:"backup"`
	Files       []ManifestFile       `json:"files" yaml:"files"`
	Totals      ManifestTotals       `json:"totals" yaml:"totals"`
	Incremental *ManifestIncremental `json:"incremental,omitempty" yaml:"incremental,omitempty"`
}

type ManifestBackup struct {
	ID               string    `json:"id" yaml:"id"`
	Type             string    `json:"type" yaml:"type"`
	Timestamp        time.Time `json:"timestamp" yaml:"timestamp"`
	ParentManifestID string    `json:"parent_manifest_id,omitempty" yaml:"parent_manifest_id,omitempty"`
}

type ManifestFile struct {
	Path     string `json:"path" yaml:"path"`
	Checksum string `json:"checksum" yaml:"checksum"`
	Size     int64  `json:"size" yaml:"size"`
}

type ManifestTotals struct {
	FileCount int   `json:"fileCount" yaml:"fileCount"`
	ByteCount int64 `json:"byteCount" yaml:"byteCount"`
}

type ManifestIncremental struct {
	ParentManifestID    string `json:"parent_manifest_id" yaml:"parent_manifest_id"`
	ModifiedFilesCount  int    `json:"modified_files_count" yaml:"modified_files_count"`
	UnchangedFilesCount int    `json:"unchanged_files_count" yaml:"unchanged_files_count"`
}

// GenerateManifest assembles a manifest for a completed run. The file list
// covers the full directory snapshot, including files the incremental
// differ skipped, so every manifest stands alone as a complete inventory.
func GenerateManifest(id, backupType string, timestamp time.Time, files []ManifestFile) *Manifest {
	sorted := make([]ManifestFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var byteCount int64
	for _, f := range sorted {
		byteCount += f.Size
	}

	return &Manifest{
		Version: ManifestVersion,
		Backup: ManifestBackup{
			ID:        id,
			Type:      backupType,
			Timestamp: timestamp,
		},
		Files:  sorted,
		Totals: ManifestTotals{FileCount: len(sorted), ByteCount: byteCount},
	}
}

// GenerateIncrementalManifest links the manifest to its parent and computes
// the modified/unchanged split by set-difference against the parent's file
// list. A path is modified when it is new or its checksum changed.
func GenerateIncrementalManifest(current *Manifest, parent *Manifest) *Manifest {
	parentSums := make(map[string]string, len(parent.Files))
	for _, f := range parent.Files {
		parentSums[f.Path] = f.Checksum
	}

	var modified, unchanged int
	for _, f := range current.Files {
		if sum, ok := parentSums[f.Path]; ok && sum == f.Checksum {
			unchanged++
		} else {
			modified++
		}
	}

	current.Backup.Type = model.BackupTypeIncremental
	current.Backup.ParentManifestID = parent.Backup.ID
	current.Incremental = &ManifestIncremental{
		ParentManifestID:    parent.Backup.ID,
		ModifiedFilesCount:  modified,
		UnchangedFilesCount: unchanged,
	}
	return current
}

// EncodeManifest serializes to the configured format.
func EncodeManifest(m *Manifest, format string) ([]byte, error) {
	switch format {
	case model.ManifestFormatYAML:
		data, err := yaml.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal manifest yaml: %w", err)
		}
		return data, nil
	case model.ManifestFormatJSON:
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal manifest json: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}
}

// DecodeManifest is the inverse of EncodeManifest.
func DecodeManifest(data []byte, format string) (*Manifest, error) {
	var m Manifest
	switch format {
	case model.ManifestFormatYAML:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal manifest yaml: %w", err)
		}
	case model.ManifestFormatJSON:
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal manifest json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}
	return &m, nil
}

// FormatForPath infers the serialization format from a manifest path.
func FormatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return model.ManifestFormatYAML
	default:
		return model.ManifestFormatJSON
	}
}

// SaveManifest writes the manifest to a local path, creating parent
// directories as needed.
func SaveManifest(m *Manifest, path, format string) error {
	data, err := EncodeManifest(m, format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

// LoadManifestFile reads a manifest from a local path, inferring the
// format from the extension.
func LoadManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return DecodeManifest(data, FormatForPath(path))
}

// ReadManifest decodes a manifest from a stream.
func ReadManifest(r io.Reader, format string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return DecodeManifest(data, format)
}

// ValidateManifest checks structural completeness: version present, backup
// identity populated, and every file entry well-formed. Used by the
// standalone integrity-check operation.
func ValidateManifest(m *Manifest) error {
	if m == nil {
		return fmt.Errorf("manifest is empty")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest missing version")
	}
	if m.Backup.ID == "" {
		return fmt.Errorf("manifest missing backup id")
	}
	if m.Backup.Type != model.BackupTypeFull && m.Backup.Type != model.BackupTypeIncremental {
		return fmt.Errorf("manifest has unknown backup type %q", m.Backup.Type)
	}
	if m.Backup.Timestamp.IsZero() {
		return fmt.Errorf("manifest missing backup timestamp")
	}
	for i, f := range m.Files {
		if f.Path == "" {
			return fmt.Errorf("manifest file entry %d missing path", i)
		}
		if f.Checksum == "" {
			return fmt.Errorf("manifest file entry %q missing checksum", f.Path)
		}
	}
	if m.Backup.Type == model.BackupTypeIncremental && m.Incremental == nil {
		return fmt.Errorf("incremental manifest missing incremental section")
	}
	return nil
}

// GenerateSummaryReport renders the fixed-format human-readable companion
// artifact.
func GenerateSummaryReport(m *Manifest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", summaryHeader)
	fmt.Fprintf(&b, "=======================\n")
	fmt.Fprintf(&b, "Backup ID:      %s\n", m.Backup.ID)
	fmt.Fprintf(&b, "Type:           %s\n", m.Backup.Type)
	fmt.Fprintf(&b, "Timestamp:      %s\n", m.Backup.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Files:          %d\n", m.Totals.FileCount)
	fmt.Fprintf(&b, "Total size:     %d bytes\n", m.Totals.ByteCount)
	if m.Incremental != nil {
		fmt.Fprintf(&b, "Parent backup:  %s\n", m.Incremental.ParentManifestID)
		fmt.Fprintf(&b, "Modified files: %d\n", m.Incremental.ModifiedFilesCount)
		fmt.Fprintf(&b, "Unchanged:      %d\n", m.Incremental.UnchangedFilesCount)
	}
	return b.String()
}
