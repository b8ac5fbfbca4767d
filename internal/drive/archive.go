package drive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/animus-labs/animus-hpo/internal/domain"
)

const (
	archiveName  = "code.tar.gz"
	manifestName = "hpo-sweep.json"
	localScheme  = "go://"
)

type manifest struct {
	SweepID      string   `json:"sweep_id"`
	RestartCount int      `json:"restart_count"`
	ScriptPath   string   `json:"script_path"`
	ScriptArgs   []string `json:"script_args,omitempty"`
	Framework    string   `json:"framework,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
	Files        []string `json:"files"`
}

// buildArchive packs the directory holding the sweep script, plus a manifest,
// into a gzip tarball. In-process objectives get a manifest-only archive.
func buildArchive(codeRoot string, cfg domain.SweepConfig, restartCount int, maxBytes int64) ([]byte, error) {
	m := manifest{
		SweepID:      cfg.SweepID,
		RestartCount: restartCount,
		ScriptPath:   cfg.ScriptPath,
		ScriptArgs:   cfg.ScriptArgs,
		Framework:    cfg.Framework,
		Requirements: cfg.Requirements,
		Files:        []string{},
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	if !strings.HasPrefix(cfg.ScriptPath, localScheme) {
		dir, err := scriptDir(codeRoot, cfg.ScriptPath)
		if err != nil {
			return nil, err
		}
		var total int64
		err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if strings.HasPrefix(d.Name(), ".") && p != dir {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			if maxBytes > 0 && total > maxBytes {
				return fmt.Errorf("%w: code exceeds %d bytes", domain.ErrInvalidConfig, maxBytes)
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(rel)
			if err := addFile(tw, name, p, info); err != nil {
				return err
			}
			m.Files = append(m.Files, name)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := tw.WriteHeader(&tar.Header{Name: manifestName, Mode: 0o644, Size: int64(len(raw))}); err != nil {
		return nil, err
	}
	if _, err := tw.Write(raw); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// scriptDir resolves the directory of scriptPath inside codeRoot.
func scriptDir(codeRoot, scriptPath string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(strings.TrimSpace(scriptPath)))
	if clean == "/" {
		return "", fmt.Errorf("%w: script_path is empty", domain.ErrInvalidConfig)
	}
	full := filepath.Join(codeRoot, filepath.FromSlash(clean))
	info, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrCodeNotFound, scriptPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrCodeNotFound, scriptPath)
	}
	return filepath.Dir(full), nil
}

func addFile(tw *tar.Writer, name, p string, info fs.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
