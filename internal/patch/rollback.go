package patch

import (
	"fmt"
	"os"
)

// PreImage is the recorded inverse of one committed file change: the
// content and mode to restore, or a tombstone (Existed=false) for
// files that did not exist before the patch.
type PreImage struct {
	Path    string      `json:"path"`
	RelPath string      `json:"rel_path"`
	Existed bool        `json:"existed"`
	Content []byte      `json:"content,omitempty"`
	Mode    os.FileMode `json:"mode,omitempty"`
	Order   int         `json:"order"`
}

// RollbackPayload is the structured inverse of an applied patch,
// sufficient to restore byte-for-byte pre-images. Items are recorded
// in commit order so a rollback tool can reconstruct partial-failure
// state.
type RollbackPayload struct {
	Items []PreImage `json:"items"`
}

// Rollback restores every recorded pre-image, in reverse commit order.
// payload itself is left unchanged.
func (e *Engine) Rollback(payload *RollbackPayload) error {
	items := make([]PreImage, len(payload.Items))
	copy(items, payload.Items)
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	for _, item := range items {
		if item.Existed {
			if err := e.fs.MkdirAll(parentDir(item.Path), 0o755); err != nil {
				return fmt.Errorf("rollback %s: %w", item.RelPath, err)
			}
			if err := e.fs.WriteFile(item.Path, item.Content, item.Mode); err != nil {
				return fmt.Errorf("rollback restore %s: %w", item.RelPath, err)
			}
			if err := e.fs.Chmod(item.Path, item.Mode); err != nil {
				return fmt.Errorf("rollback restore %s mode: %w", item.RelPath, err)
			}
		} else {
			if err := e.fs.Remove(item.Path); err != nil {
				return fmt.Errorf("rollback remove %s: %w", item.RelPath, err)
			}
		}
	}
	return nil
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
