package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/foldermcp/foldermcp/internal/errors"
	"github.com/foldermcp/foldermcp/internal/ignore"
)

// Scanner walks one folder root. It keeps the parsed ignore matchers
// between scans, so rescans of a large tree stay cheap.
type Scanner struct {
	root   string
	opts   Options
	tree   *ignore.Tree
	logger *slog.Logger
}

// New builds a Scanner for the folder root, which must exist and be a
// directory.
func New(root string, opts Options) (*Scanner, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidPath,
			fmt.Sprintf("resolve folder root %q: %v", root, err), err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFolderNotFound,
			fmt.Sprintf("folder does not exist: %s", absRoot), err)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.ErrCodeInvalidPath,
			fmt.Sprintf("not a directory: %s", absRoot), nil)
	}

	tree, err := ignore.NewTree(absRoot, opts.IgnorePatterns...)
	if err != nil {
		return nil, err
	}

	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.HashBudget <= 0 {
		opts.HashBudget = DefaultHashBudget
	}
	if opts.Workers <= 0 {
		opts.Workers = min(runtime.NumCPU(), 8)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{root: absRoot, opts: opts, tree: tree, logger: logger}, nil
}

// Root returns the absolute folder root.
func (s *Scanner) Root() string {
	return s.root
}

// ReloadIgnores drops the cached ignore matchers. Call it when an ignore
// file inside the folder changes.
func (s *Scanner) ReloadIgnores() {
	s.tree.Reset()
}

// Scan walks the folder and streams every indexable file with its
// fingerprint computed. Hashing runs on a worker pool; the channel closes
// when the walk and all hashing finish. Files that vanish or turn
// unreadable mid-scan are dropped, the next scan reconciles them.
func (s *Scanner) Scan(ctx context.Context) (<-chan Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make(chan Result, s.opts.Workers*8)

	go func() {
		defer close(results)

		candidates := make(chan *FileMeta, s.opts.Workers*2)
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			defer close(candidates)
			return s.walk(gctx, candidates)
		})

		for i := 0; i < s.opts.Workers; i++ {
			g.Go(func() error {
				for meta := range candidates {
					fp, err := Fingerprint(meta.AbsPath, s.opts.HashBudget)
					if err != nil {
						s.logger.Debug("skipping unreadable file",
							slog.String("path", meta.Path),
							slog.String("error", err.Error()))
						continue
					}
					meta.Fingerprint = fp
					select {
					case results <- Result{File: meta}:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil && err != context.Canceled {
			select {
			case results <- Result{Err: err}:
			default:
			}
		}
	}()

	return results, nil
}

// Collect drains Scan into a slice sorted by path, failing on the first
// scan error. The stable order keeps resumption work queues deterministic.
func (s *Scanner) Collect(ctx context.Context) ([]*FileMeta, error) {
	ch, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}

	var files []*FileMeta
	for res := range ch {
		if res.Err != nil {
			return nil, res.Err
		}
		files = append(files, res.File)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// walk feeds candidate files to the hashing workers.
func (s *Scanner) walk(ctx context.Context, out chan<- *FileMeta) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			// Unreadable entry; skip rather than fail the folder.
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.tree.Ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !s.opts.FollowSymlinks {
			return nil
		}

		if s.tree.Ignored(rel, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > s.opts.MaxFileSize {
			s.logger.Debug("skipping oversized file",
				slog.String("path", rel),
				slog.Int64("size", info.Size()))
			return nil
		}

		meta := &FileMeta{
			Path:    rel,
			AbsPath: path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		select {
		case out <- meta:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}
