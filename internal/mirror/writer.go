package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/mirrorkit/wikidot-mirror/internal/checkpoint"
	"github.com/mirrorkit/wikidot-mirror/internal/domain"
	"github.com/mirrorkit/wikidot-mirror/internal/logger"
)

const (
	pageFileExt = ".ftml"
	// revMarkerFile records the key of the last replayed revision inside
	// every commit, so an interrupted run can tell a committed-but-not-
	// checkpointed revision apart from one that never committed.
	revMarkerFile = ".revid"

	parentSetPrefix     = `Parent page set to: "`
	parentRemovedPrefix = "Parent page removed"
)

// Writer replays revisions as commits in a local git repository. It is
// strictly sequential; all concurrency stays upstream of it.
type Writer struct {
	repo  *git.Repository
	wt    *git.Worktree
	root  string
	store *checkpoint.Store

	site     string
	hostname string
	renderer domain.Renderer
}

// NewWriter opens the git repository at root, initialising one if the
// directory holds no repository yet.
func NewWriter(root string, store *checkpoint.Store, site, hostname string, renderer domain.Renderer) (*Writer, error) {
	repo, err := git.PlainOpen(root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(root, false)
	}
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", root, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}

	w := &Writer{
		repo:     repo,
		wt:       wt,
		root:     root,
		store:    store,
		site:     site,
		hostname: hostname,
		renderer: renderer,
	}
	if err := w.ensureIgnore(); err != nil {
		return nil, err
	}
	return w, nil
}

// Apply replays one revision as a commit and records it in the
// checkpoint store. It reports whether a commit was created; a false
// return means the revision was already fully applied. Checkpoint
// failures after a successful commit are returned wrapped in
// domain.ErrCheckpointUnavailable and must abort the run.
//
// A revision is applied as a unit: the context is detached on entry so
// an interrupt cannot split a commit from its checkpoint record.
// Callers observe cancellation between revisions.
func (w *Writer) Apply(ctx context.Context, rev *domain.Revision) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := w.store.CommitRecord(ctx, rev.PageSlug, rev.Seq); err == nil {
		return false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}

	// Recover from a crash between commit and checkpoint flush: if the
	// repository head already carries this revision, only the record
	// is missing.
	if key, hash, err := w.headRevKey(); err != nil {
		return false, err
	} else if key == rev.Key() {
		logger.Info("recovering checkpoint for already committed %s", key)
		if err := w.store.Record(ctx, rev.PageSlug, rev.Seq, hash.String()); err != nil {
			return false, err
		}
		return false, w.recordSideState(ctx, rev)
	}

	if rev.IsTerminal() {
		return true, w.applyDeletion(ctx, rev)
	}
	return true, w.applyEdit(ctx, rev)
}

func (w *Writer) applyEdit(ctx context.Context, rev *domain.Revision) error {
	slug := rev.PageSlug
	name := rev.SlugAtTime
	if name == "" {
		name = slug
	}

	oldName, err := w.store.LastName(ctx, slug)
	if err != nil {
		return err
	}

	renamed := oldName != name
	fname := pageFileName(name)
	created := renamed || !w.fileExists(fname)
	if renamed {
		if err := w.stageRemoval(pageFileName(oldName)); err != nil {
			w.discardStaged()
			return err
		}
	}

	source := rev.Source
	if w.renderer != nil {
		source, err = w.renderer.Render(ctx, source)
		if err != nil {
			w.discardStaged()
			return fmt.Errorf("rendering %s rev %d: %w", slug, rev.Seq, err)
		}
	}

	page, err := w.store.GetPage(ctx, slug)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		w.discardStaged()
		return err
	}
	parent := parentFromComment(rev.Comment, page)

	body := w.frontMatter(rev, name, parent, page) + source
	if err := w.writeStaged(fname, body); err != nil {
		w.discardStaged()
		return err
	}
	if err := w.writeStaged(revMarkerFile, rev.Key()); err != nil {
		w.discardStaged()
		return err
	}

	msg := commitMessage(rev, name, oldName, renamed, created)
	hash, err := w.commit(msg, rev)
	if err != nil {
		w.discardStaged()
		return err
	}

	if err := w.store.Record(ctx, slug, rev.Seq, hash.String()); err != nil {
		return err
	}
	return w.recordSideState(ctx, rev)
}

func (w *Writer) applyDeletion(ctx context.Context, rev *domain.Revision) error {
	slug := rev.PageSlug
	name, err := w.store.LastName(ctx, slug)
	if err != nil {
		return err
	}
	if err := w.stageRemoval(pageFileName(name)); err != nil {
		w.discardStaged()
		return err
	}
	if err := w.writeStaged(revMarkerFile, rev.Key()); err != nil {
		w.discardStaged()
		return err
	}

	hash, err := w.commit(fmt.Sprintf("%s: page deleted", name), rev)
	if err != nil {
		w.discardStaged()
		return err
	}
	if err := w.store.Record(ctx, slug, rev.Seq, hash.String()); err != nil {
		return err
	}
	return w.store.MarkPageDeleted(ctx, slug)
}

// recordSideState refreshes the per-page rename and parent tracking
// after a revision is checkpointed.
func (w *Writer) recordSideState(ctx context.Context, rev *domain.Revision) error {
	if rev.IsTerminal() {
		return w.store.MarkPageDeleted(ctx, rev.PageSlug)
	}
	name := rev.SlugAtTime
	if name == "" {
		name = rev.PageSlug
	}
	if err := w.store.SetLastName(ctx, rev.PageSlug, name); err != nil {
		return err
	}
	if parent, ok := parentChange(rev.Comment); ok {
		return w.store.SetParent(ctx, rev.PageSlug, parent)
	}
	return nil
}

func (w *Writer) commit(msg string, rev *domain.Revision) (plumbing.Hash, error) {
	sig := &object.Signature{
		Name:  rev.Author,
		Email: authorEmail(rev.Author, w.hostname),
		When:  rev.Timestamp,
	}
	hash, err := w.wt.Commit(msg, &git.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("committing %s: %w", rev.Key(), err)
	}
	return hash, nil
}

// headRevKey reads the revision marker out of the head commit's tree.
// An unborn head or a head without a marker yields an empty key.
func (w *Writer) headRevKey() (string, plumbing.Hash, error) {
	head, err := w.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", plumbing.ZeroHash, nil
	}
	if err != nil {
		return "", plumbing.ZeroHash, fmt.Errorf("reading head: %w", err)
	}
	commit, err := w.repo.CommitObject(head.Hash())
	if err != nil {
		return "", plumbing.ZeroHash, fmt.Errorf("reading head commit: %w", err)
	}
	file, err := commit.File(revMarkerFile)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", plumbing.ZeroHash, nil
	}
	if err != nil {
		return "", plumbing.ZeroHash, err
	}
	key, err := file.Contents()
	if err != nil {
		return "", plumbing.ZeroHash, err
	}
	return strings.TrimSpace(key), head.Hash(), nil
}

// writeStaged writes a worktree file and stages it.
func (w *Writer) writeStaged(rel, content string) error {
	if err := os.WriteFile(filepath.Join(w.root, rel), []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	if _, err := w.wt.Add(rel); err != nil {
		return fmt.Errorf("staging %s: %w", rel, err)
	}
	return nil
}

// stageRemoval deletes a page file and stages the deletion. A file
// already gone from disk (an interrupted rename) is staged via Add,
// which picks the deletion up from worktree status.
func (w *Writer) stageRemoval(rel string) error {
	if w.fileExists(rel) {
		if _, err := w.wt.Remove(rel); err != nil {
			return fmt.Errorf("removing %s: %w", rel, err)
		}
		return nil
	}
	if _, err := w.wt.Add(rel); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("staging removal of %s: %w", rel, err)
	}
	return nil
}

// discardStaged clears anything staged by a failed apply so the next
// revision's commit cannot carry half-applied content.
func (w *Writer) discardStaged() {
	if _, err := w.repo.Head(); err == nil {
		if err := w.wt.Reset(&git.ResetOptions{Mode: git.MixedReset}); err != nil {
			logger.Warn("clearing staged state: %v", err)
		}
		return
	}
	// Unborn head: drop the staged entries directly.
	status, err := w.wt.Status()
	if err != nil {
		return
	}
	for rel := range status {
		if rel == ".gitignore" {
			continue
		}
		if _, err := w.wt.Remove(rel); err != nil {
			logger.Warn("clearing staged %s: %v", rel, err)
		}
	}
}

func (w *Writer) fileExists(rel string) bool {
	_, err := os.Stat(filepath.Join(w.root, rel))
	return err == nil
}

// ensureIgnore keeps the checkpoint directory out of the mirror history.
func (w *Writer) ensureIgnore() error {
	path := filepath.Join(w.root, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(checkpoint.DirName+"/\n"), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}
	if _, err := w.wt.Add(".gitignore"); err != nil {
		return fmt.Errorf("staging .gitignore: %w", err)
	}
	return nil
}

func (w *Writer) frontMatter(rev *domain.Revision, name, parent string, page *domain.Page) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "site: %s\n", w.site)
	fmt.Fprintf(&b, "page: %s\n", name)
	if rev.Title != "" {
		fmt.Fprintf(&b, "title: %s\n", rev.Title)
	}
	if page != nil && len(page.Tags) > 0 {
		fmt.Fprintf(&b, "tags: %s\n", strings.Join(page.Tags, " "))
	}
	if parent != "" {
		fmt.Fprintf(&b, "parent: %s\n", parent)
	}
	b.WriteString("---\n\n")
	return b.String()
}

// pageFileName maps a page name to its worktree file, replacing the
// category separator with a filesystem-safe character.
func pageFileName(name string) string {
	return strings.ReplaceAll(name, ":", "~") + pageFileExt
}

// commitMessage mirrors the remote's own edit log phrasing.
func commitMessage(rev *domain.Revision, name, oldName string, renamed, created bool) string {
	var b strings.Builder
	if renamed && oldName != "" {
		fmt.Fprintf(&b, "Renamed from %s to %s. ", oldName, name)
	} else if created {
		b.WriteString("Created ")
	} else if rev.Comment == "" {
		b.WriteString("Updated ")
	}
	if rev.Comment != "" {
		fmt.Fprintf(&b, "%s: %s", name, rev.Comment)
	} else {
		fmt.Fprintf(&b, "%s (no message)", name)
	}
	return b.String()
}

// parentChange extracts a parent assignment from an edit comment.
func parentChange(comment string) (string, bool) {
	if rest, ok := strings.CutPrefix(comment, parentSetPrefix); ok {
		return strings.TrimSuffix(rest, `".`), true
	}
	if strings.HasPrefix(comment, parentRemovedPrefix) {
		return "", true
	}
	return "", false
}

// parentFromComment resolves the parent in effect for a revision: a
// change in this revision's comment wins, otherwise the tracked value.
func parentFromComment(comment string, page *domain.Page) string {
	if parent, ok := parentChange(comment); ok {
		return parent
	}
	if page != nil {
		return page.Parent
	}
	return ""
}

// authorEmail synthesises a stable address from the remote username.
func authorEmail(author, hostname string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(author) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '+', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	user := b.String()
	if user == "" {
		user = "anonymous"
	}
	return user + "@" + hostname
}
