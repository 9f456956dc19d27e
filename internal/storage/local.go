// Package storage は生成物と参照画像のローカルファイル保存を提供します。
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	outputsSubdir = "outputs"
	modelsSubdir  = "models"

	// PublicPrefix は API が静的配信する際のURLプレフィックスです。
	PublicPrefix = "/storage"
)

// Local はストレージディレクトリ配下へのファイル保存を担います。
type Local struct {
	baseDir string
}

// NewLocal はベースディレクトリ配下のサブディレクトリを作成して Local を返します。
func NewLocal(baseDir string) (*Local, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("baseDir is required")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	for _, sub := range []string{outputsSubdir, modelsSubdir} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return &Local{baseDir: abs}, nil
}

// BaseDir はストレージのルートディレクトリ（絶対パス）を返します。
func (l *Local) BaseDir() string {
	return l.baseDir
}

// SaveOutput は生成物を一意な名前で保存し、公開URLを返します。
// 拡張子はレスポンスのContent-Typeから決定し、不明な場合はバイト列から推定します。
func (l *Local) SaveOutput(data []byte, contentType string) (string, error) {
	ext := extensionFor(data, contentType)
	name := fmt.Sprintf("gen-%s%s", strings.ReplaceAll(uuid.NewString(), "-", ""), ext)
	path := filepath.Join(l.baseDir, outputsSubdir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return PublicPrefix + "/" + outputsSubdir + "/" + name, nil
}

// AbsPath はストレージ相対パスを絶対パスに変換します。
func (l *Local) AbsPath(relPath string) string {
	return filepath.Join(l.baseDir, filepath.FromSlash(relPath))
}

// ModelImageRelPath はモデル参照画像のストレージ相対パスを組み立てます。
func ModelImageRelPath(modelID, filename string) string {
	return modelsSubdir + "/" + modelID + "/" + filename
}

func extensionFor(data []byte, contentType string) string {
	ct := strings.TrimSpace(strings.ToLower(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct != "" {
		if m := mimetype.Lookup(ct); m != nil && m.Extension() != "" {
			return m.Extension()
		}
	}
	if len(data) > 0 {
		if m := mimetype.Detect(data); m != nil && m.Extension() != "" {
			return m.Extension()
		}
	}
	return ".jpg"
}
