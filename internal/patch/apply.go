package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"devit/internal/direrr"
	"devit/internal/sandbox"
)

// Action is the effect a file's plan entry will have.
type Action string

const (
	ActionModify Action = "modify"
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
)

// FileSummary is one file's contribution to an apply/dry-run summary.
type FileSummary struct {
	Path    string `json:"path"`
	Action  Action `json:"action"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

// Summary is the result of a successful dry-run or apply.
type Summary struct {
	Files   int           `json:"files"`
	Hunks   int           `json:"hunks"`
	Added   int           `json:"added"`
	Removed int           `json:"removed"`
	PerFile []FileSummary `json:"per_file"`
}

// MismatchError is the structured error returned when a hunk's
// pre-image does not exactly match the current file content.
type MismatchError struct {
	File            string
	HunkIndex       int
	ExpectedContext string
	FoundContext    string
	LineRange       string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("context mismatch in %s hunk %d (lines %s): expected %q, found %q",
		e.File, e.HunkIndex, e.LineRange, e.ExpectedContext, e.FoundContext)
}

// Engine applies unified diffs against a sandboxed filesystem.
type Engine struct {
	fs      FS
	sandbox *sandbox.Sandbox
	stat    *StatEngine
}

// NewEngine builds an Engine bound to fs and sb.
func NewEngine(fs FS, sb *sandbox.Sandbox) *Engine {
	return &Engine{fs: fs, sandbox: sb, stat: NewStatEngine()}
}

type filePlan struct {
	resolvedPath string
	relPath      string
	action       Action
	oldContent   string
	newContent   string
	trailingNL   bool
	existed      bool
	mode         os.FileMode
}

// Apply parses diffText, verifies every hunk's pre-image against the
// current workspace content, and either returns a preview summary
// (dryRun) or stages and commits the change, returning its rollback
// payload.
func (e *Engine) Apply(diffText string, dryRun bool) (*Summary, *RollbackPayload, error) {
	files, err := Parse(diffText)
	if err != nil {
		return nil, nil, err
	}

	plans := make([]filePlan, 0, len(files))
	for _, pf := range files {
		plan, err := e.buildPlan(pf)
		if err != nil {
			return nil, nil, err
		}
		plans = append(plans, plan)
	}

	summary := e.summarize(files, plans)

	if dryRun {
		return summary, nil, nil
	}

	payload, err := e.commit(plans)
	if err != nil {
		return nil, nil, err
	}
	return summary, payload, nil
}

func (e *Engine) buildPlan(pf ParsedFile) (filePlan, error) {
	targetRel := pf.NewPath
	if targetRel == "" {
		targetRel = pf.OldPath
	}

	requireExists := !pf.IsNew
	resolved, err := e.sandbox.Resolve(targetRel, false)
	if err != nil {
		return filePlan{}, err
	}

	existed := e.fs.Exists(resolved)
	if pf.IsNew && existed {
		return filePlan{}, &MismatchError{
			File:            targetRel,
			HunkIndex:       0,
			ExpectedContext: "(no file)",
			FoundContext:    "(file already exists)",
			LineRange:       "0",
		}
	}
	if requireExists && !existed {
		return filePlan{}, direrr.New(direrr.Validation, direrr.CodeContextMismatch, fmt.Sprintf("file %s does not exist", targetRel))
	}

	var oldContent string
	mode := defaultFileMode
	if existed {
		raw, err := e.fs.ReadFile(resolved)
		if err != nil {
			return filePlan{}, fmt.Errorf("read %s: %w", resolved, err)
		}
		oldContent = string(raw)

		m, err := e.fs.Mode(resolved)
		if err != nil {
			return filePlan{}, fmt.Errorf("stat %s: %w", resolved, err)
		}
		mode = m
	}

	action := ActionModify
	if pf.IsNew {
		action = ActionCreate
	} else if pf.IsDelete {
		action = ActionDelete
	}

	oldLines, trailingNL := splitLines(oldContent)
	if pf.IsNew {
		// A created file has no pre-image; its lines end with a newline.
		trailingNL = true
	}
	newLines, err := applyHunks(targetRel, oldLines, pf.Hunks)
	if err != nil {
		return filePlan{}, err
	}

	newContent := ""
	if action != ActionDelete {
		newContent = joinLines(newLines, trailingNL)
	}

	return filePlan{
		resolvedPath: resolved,
		relPath:      targetRel,
		action:       action,
		oldContent:   oldContent,
		newContent:   newContent,
		trailingNL:   trailingNL,
		existed:      existed,
		mode:         mode,
	}, nil
}

// applyHunks verifies every hunk's context/removed lines against old
// (exact match), and that a hunk without trailing context ends at the
// end of old, and returns the resulting line slice.
func applyHunks(file string, old []string, hunks []ParsedHunk) ([]string, error) {
	var out []string
	cursor := 0

	for hi, h := range hunks {
		start := h.OldStart - 1
		if start < 0 {
			start = 0
		}
		if start > len(old) {
			return nil, &MismatchError{
				File: file, HunkIndex: hi,
				ExpectedContext: "", FoundContext: "<end of file>",
				LineRange: fmt.Sprintf("%d", h.OldStart),
			}
		}
		out = append(out, old[cursor:start]...)
		cursor = start

		for _, pl := range h.Lines {
			switch pl.Kind {
			case LineContext, LineRemoved:
				if cursor >= len(old) || old[cursor] != pl.Text {
					found := "<end of file>"
					if cursor < len(old) {
						found = old[cursor]
					}
					return nil, &MismatchError{
						File:            file,
						HunkIndex:       hi,
						ExpectedContext: pl.Text,
						FoundContext:    found,
						LineRange:       fmt.Sprintf("%d", cursor+1),
					}
				}
				if pl.Kind == LineContext {
					out = append(out, pl.Text)
				}
				cursor++
			case LineAdded:
				out = append(out, pl.Text)
			}
		}
		// A hunk with leading but no trailing context was cut at the end
		// of the file, so the file must still end where the hunk ends.
		if n := len(h.Lines); n > 0 && h.Lines[0].Kind == LineContext && h.Lines[n-1].Kind != LineContext && cursor < len(old) {
			return nil, &MismatchError{
				File: file, HunkIndex: hi,
				ExpectedContext: "<end of file>", FoundContext: old[cursor],
				LineRange: fmt.Sprintf("%d", cursor+1),
			}
		}
	}
	out = append(out, old[cursor:]...)
	return out, nil
}

func (e *Engine) summarize(files []ParsedFile, plans []filePlan) *Summary {
	s := &Summary{Files: len(plans)}
	for i, pf := range files {
		s.Hunks += len(pf.Hunks)
		plan := plans[i]
		fileStat := e.stat.Stat(plan.relPath, plan.relPath, plan.oldContent, plan.newContent)
		added, removed := fileStat.Added(), fileStat.Removed()
		s.Added += added
		s.Removed += removed
		s.PerFile = append(s.PerFile, FileSummary{
			Path:    plan.relPath,
			Action:  plan.action,
			Added:   added,
			Removed: removed,
		})
	}
	return s
}

// commit stages every new content in a temp file colocated with its
// target, then renames each into place in the order the files appear
// in the diff, and builds the rollback payload.
func (e *Engine) commit(plans []filePlan) (*RollbackPayload, error) {
	type staged struct {
		plan     filePlan
		tempPath string
	}
	var stagedFiles []staged

	for i, p := range plans {
		if p.action == ActionDelete {
			continue
		}
		if err := e.fs.MkdirAll(filepath.Dir(p.resolvedPath), 0o755); err != nil {
			return nil, fmt.Errorf("create parent dir for %s: %w", p.relPath, err)
		}
		// A create's target mode has no pre-image to preserve, so it
		// gets the default; modify preserves the file's current mode.
		targetMode := p.mode
		tempPath := fmt.Sprintf("%s.devit-tmp-%d", p.resolvedPath, i)
		if err := e.fs.WriteFile(tempPath, []byte(p.newContent), targetMode); err != nil {
			return nil, fmt.Errorf("stage %s: %w", p.relPath, err)
		}
		if err := e.fs.Chmod(tempPath, targetMode); err != nil {
			return nil, fmt.Errorf("stage %s mode: %w", p.relPath, err)
		}
		stagedFiles = append(stagedFiles, staged{plan: p, tempPath: tempPath})
	}

	payload := &RollbackPayload{}
	order := 0

	for _, sf := range stagedFiles {
		if sf.plan.existed {
			payload.Items = append(payload.Items, PreImage{
				Path: sf.plan.resolvedPath, RelPath: sf.plan.relPath,
				Existed: true, Content: []byte(sf.plan.oldContent), Mode: sf.plan.mode, Order: order,
			})
		} else {
			payload.Items = append(payload.Items, PreImage{
				Path: sf.plan.resolvedPath, RelPath: sf.plan.relPath,
				Existed: false, Order: order,
			})
		}
		order++
		if err := e.fs.Rename(sf.tempPath, sf.plan.resolvedPath); err != nil {
			return nil, fmt.Errorf("commit %s: %w", sf.plan.relPath, err)
		}
		if err := e.fs.Chmod(sf.plan.resolvedPath, sf.plan.mode); err != nil {
			return nil, fmt.Errorf("commit %s mode: %w", sf.plan.relPath, err)
		}
	}

	for _, p := range plans {
		if p.action != ActionDelete {
			continue
		}
		payload.Items = append(payload.Items, PreImage{
			Path: p.resolvedPath, RelPath: p.relPath,
			Existed: true, Content: []byte(p.oldContent), Mode: p.mode, Order: order,
		})
		order++
		if err := e.fs.Remove(p.resolvedPath); err != nil {
			return nil, fmt.Errorf("delete %s: %w", p.relPath, err)
		}
	}

	return payload, nil
}

func splitLines(content string) ([]string, bool) {
	if content == "" {
		return nil, false
	}
	trailingNL := strings.HasSuffix(content, "\n")
	body := content
	if trailingNL {
		body = body[:len(body)-1]
	}
	return strings.Split(body, "\n"), trailingNL
}

func joinLines(lines []string, trailingNL bool) string {
	s := strings.Join(lines, "\n")
	if trailingNL && len(lines) > 0 {
		s += "\n"
	}
	return s
}
