// Package manifest describes the artifacts of one backup run.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/clc-backup/internal/models"
	"gopkg.in/yaml.v3"
)

// Filename is the manifest's name inside a dated backup directory.
const Filename = "manifest.yml"

// Version of the manifest format.
const Version = 1

// Manifest for a backup directory
type Manifest struct {
	// Version of manifest format
	Version int `yaml:"version"`
	// RunID identifies the backup run
	RunID string `yaml:"run_id"`
	// Created is the start time of the run
	Created time.Time `yaml:"created"`
	// Host the backup was taken on
	Host string `yaml:"host,omitempty"`

	EucaHome string `yaml:"euca_home"`
	Port     int    `yaml:"port"`

	FullDump    *Artifact  `yaml:"full_dump,omitempty"`
	GlobalsDump *Artifact  `yaml:"globals_dump,omitempty"`
	Databases   []Artifact `yaml:"databases,omitempty"`
	KeyArchive  *Artifact  `yaml:"key_archive,omitempty"`
}

// Artifact is one file of the backup set.
type Artifact struct {
	// Name of the database, empty for cluster-wide files
	Name string `yaml:"name,omitempty"`
	// File name relative to the backup directory
	File      string `yaml:"file"`
	SizeBytes int64  `yaml:"size_bytes"`
	Encrypted bool   `yaml:"encrypted,omitempty"`
}

// FromReport builds the manifest for a completed backup report.
// Failed database dumps are left out.
func FromReport(cfg models.Config, report *models.BackupReport, host string) *Manifest {
	m := &Manifest{
		Version:  Version,
		RunID:    report.RunID,
		Created:  report.StartTime,
		Host:     host,
		EucaHome: cfg.EucaHome,
		Port:     cfg.Database.Port,
	}

	if d := report.FullDump; d != nil && d.Error == nil {
		m.FullDump = &Artifact{File: filepath.Base(d.OutputPath), SizeBytes: d.SizeBytes}
	}
	if d := report.GlobalsDump; d != nil && d.Error == nil {
		m.GlobalsDump = &Artifact{File: filepath.Base(d.OutputPath), SizeBytes: d.SizeBytes}
	}
	for _, d := range report.Databases {
		if d.Error != nil {
			continue
		}
		m.Databases = append(m.Databases, Artifact{
			Name:      d.Database,
			File:      filepath.Base(d.OutputPath),
			SizeBytes: d.SizeBytes,
		})
	}
	if k := report.KeyArchive; k != nil {
		m.KeyArchive = &Artifact{File: filepath.Base(k.OutputPath), SizeBytes: k.SizeBytes, Encrypted: k.Encrypted}
	}
	return m
}

// TotalBytes sums the sizes of all artifacts.
func (m *Manifest) TotalBytes() int64 {
	var total int64
	for _, a := range []*Artifact{m.FullDump, m.GlobalsDump, m.KeyArchive} {
		if a != nil {
			total += a.SizeBytes
		}
	}
	for _, a := range m.Databases {
		total += a.SizeBytes
	}
	return total
}

// Write stores m as manifest.yml in dir.
func Write(dir string, m *Manifest) (string, error) {
	path := filepath.Join(dir, Filename)

	data, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil { //nolint:gosec // manifest holds no secrets
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return path, nil
}

// Read loads the manifest stored in dir.
func Read(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, Filename)) //nolint:gosec // dir is controlled by caller
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Version != Version {
		return nil, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	return &m, nil
}
