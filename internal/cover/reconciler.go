package cover

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// AltText is the alt text of inserted and rewritten cover references.
const AltText = "Cover"

// imageTail matches the rest of a Markdown image destination: an optional closing
// angle bracket, an optional title and the closing parenthesis.
const imageTail = `>?(?:\s+(?:"[^"\n]*"|'[^'\n]*'|\([^)\n]*\)))?\s*\)`

// coverRefPattern matches a Markdown image whose target is a cover-like file in images/,
// with or without alt text, a leading "./", angle brackets or a title.
var coverRefPattern = regexp.MustCompile(`(?i)!\[[^\]\n]*\]\(\s*<?(?:\./)?images/cover[^)\s/>]*\.(?:png|jpe?g|gif)` + imageTail)

// canonicalRefPattern matches a Markdown image pointing at images/<file>.
func canonicalRefPattern(file string) *regexp.Regexp {
	return regexp.MustCompile(`!\[[^\]\n]*\]\(\s*<?(?:\./)?images/` + regexp.QuoteMeta(file) + imageTail)
}

// Action describes what reconciliation did to one document.
type Action string

const (
	ActionUnchanged Action = "unchanged"
	ActionReplaced  Action = "replaced"
	ActionPrepended Action = "prepended"
	ActionFailed    Action = "failed"
)

// DocumentOutcome is the per-document result of a reconciliation.
type DocumentOutcome struct {
	Name   string
	Action Action
	Err    error
}

// Outcome summarises a reconciliation run. Found is false when the result directory
// has no cover, in which case nothing was touched.
type Outcome struct {
	Found     bool
	Cover     string // located file name
	Reference string // file name the documents point at
	Documents []DocumentOutcome
}

// Failed returns the documents that could not be processed.
func (o Outcome) Failed() []DocumentOutcome {
	var failed []DocumentOutcome
	for _, d := range o.Documents {
		if d.Action == ActionFailed {
			failed = append(failed, d)
		}
	}
	return failed
}

// Reconciler guarantees that every Markdown document of a result directory carries
// exactly one reference to the canonical cover. The located cover is copied to the
// canonical name first, so references never depend on what the external tool called it.
type Reconciler struct {
	canonical   string
	jpegQuality int
	logger      *slog.Logger
}

// NewReconciler creates a reconciler. An empty canonical name selects DefaultCanonicalName.
func NewReconciler(canonical string, jpegQuality int, logger *slog.Logger) *Reconciler {
	if canonical == "" {
		canonical = DefaultCanonicalName
	}
	if jpegQuality < 1 || jpegQuality > 100 {
		jpegQuality = 90
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{canonical: canonical, jpegQuality: jpegQuality, logger: logger}
}

// Canonical returns the canonical cover file name.
func (r *Reconciler) Canonical() string {
	return r.canonical
}

// Reconcile locates the cover of outputDir and fixes the cover reference of document,
// or of every *.md file directly inside outputDir when document is empty.
// Errors are never returned: failures are logged and recorded in the outcome.
func (r *Reconciler) Reconcile(outputDir, document string) Outcome {
	log := r.logger.With("dir", outputDir)

	found, ok, err := Locate(outputDir)
	if err != nil {
		log.Warn("cover lookup failed", "error", err)
		return Outcome{}
	}
	if !ok {
		log.Info("no cover image found, skipping")
		return Outcome{}
	}

	out := Outcome{Found: true, Cover: found, Reference: r.ensureCanonical(outputDir, found, log)}
	log.Info("cover located", "file", found, "reference", out.Reference)

	targets, err := r.targets(outputDir, document)
	if err != nil {
		log.Warn("listing markdown documents failed", "error", err)
		return out
	}

	for _, name := range targets {
		action, err := EnsureReference(filepath.Join(outputDir, name), out.Reference)
		if err != nil {
			log.Warn("cover reference update failed", "document", name, "error", err)
			out.Documents = append(out.Documents, DocumentOutcome{Name: name, Action: ActionFailed, Err: err})
			continue
		}
		log.Debug("cover reference checked", "document", name, "action", action)
		out.Documents = append(out.Documents, DocumentOutcome{Name: name, Action: action})
	}

	return out
}

// ensureCanonical makes the canonical cover file exist and returns the name documents
// should reference. An existing canonical file is left alone; if it cannot be written
// the located name is referenced instead.
func (r *Reconciler) ensureCanonical(outputDir, found string, log *slog.Logger) string {
	if found == r.canonical {
		return r.canonical
	}

	imagesDir := filepath.Join(outputDir, ImagesDir)
	dst := filepath.Join(imagesDir, r.canonical)
	if _, err := os.Stat(dst); err == nil {
		return r.canonical
	}

	if err := writeCanonical(filepath.Join(imagesDir, found), dst, r.jpegQuality); err != nil {
		log.Warn("copying cover to canonical name failed, referencing located file", "file", found, "error", err)
		return found
	}
	log.Info("cover copied to canonical name", "from", found, "to", r.canonical)
	return r.canonical
}

// targets returns the document names to process, relative to outputDir.
func (r *Reconciler) targets(outputDir, document string) ([]string, error) {
	if document != "" {
		return []string{document}, nil
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Reference returns the Markdown image reference for an image in images/.
func Reference(file string) string {
	return fmt.Sprintf("![%s](./%s/%s)", AltText, ImagesDir, file)
}

// Block returns the reference block prepended to documents without any cover reference.
func Block(file string) string {
	return Reference(file) + "\n\n---\n\n"
}

// ApplyReference returns content with exactly one correct reference to file:
// unchanged if it already references file, with the first cover-like reference
// replaced if one exists, otherwise with a reference block prepended.
func ApplyReference(content, file string) (string, Action) {
	if canonicalRefPattern(file).MatchString(content) {
		return content, ActionUnchanged
	}

	if loc := coverRefPattern.FindStringIndex(content); loc != nil {
		return content[:loc[0]] + Reference(file) + content[loc[1]:], ActionReplaced
	}

	return Block(file) + content, ActionPrepended
}

// EnsureReference applies ApplyReference to the document at path, rewriting the whole
// file only when its content changes.
func EnsureReference(path, file string) (Action, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ActionFailed, fmt.Errorf("document %s: %w", filepath.Base(path), err)
	}
	if !info.Mode().IsRegular() {
		return ActionFailed, fmt.Errorf("document %s is not a regular file", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ActionFailed, fmt.Errorf("reading document: %w", err)
	}

	updated, action := ApplyReference(string(data), file)
	if action == ActionUnchanged {
		return action, nil
	}

	if err := os.WriteFile(path, []byte(updated), info.Mode().Perm()); err != nil {
		return ActionFailed, fmt.Errorf("writing document: %w", err)
	}
	return action, nil
}
