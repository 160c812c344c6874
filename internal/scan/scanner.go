package scan

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wdactools/wdacsim/internal/arbiter"
	"github.com/wdactools/wdacsim/internal/authenticode"
	"github.com/wdactools/wdacsim/internal/chain"
	"github.com/wdactools/wdacsim/internal/peinfo"
	"github.com/wdactools/wdacsim/internal/report"
	"github.com/wdactools/wdacsim/pkg/observability"
)

// Options configure a Scanner.
type Options struct {
	// Workers bounds concurrent evaluations. Zero means one per CPU.
	Workers int
	// Include and Exclude are globs over slash-separated paths relative to
	// the scan root, matched case-insensitively.
	Include []string
	Exclude []string
	// Extensions limits walked files by suffix. Empty accepts every file.
	Extensions []string
	// MaxFileSize skips larger files. Zero disables the limit.
	MaxFileSize    int64
	FollowSymlinks bool
	// MountAs is the Windows path a scan root stands for when matching
	// FilePath rules.
	MountAs string
	// ExtraRoots complete chains whose root is not in the signature.
	ExtraRoots []*x509.Certificate

	Engine     *arbiter.Engine
	Classifier *chain.Classifier
	Logger     *slog.Logger
}

// Scanner evaluates files against one policy. It is safe for concurrent use.
type Scanner struct {
	policy     *PolicySet
	opts       Options
	include    []glob.Glob
	exclude    []glob.Glob
	extensions map[string]struct{}
	engine     *arbiter.Engine
	classifier *chain.Classifier
	logger     *slog.Logger
}

// New returns a Scanner for policy.
func New(policy *PolicySet, opts Options) (*Scanner, error) {
	if policy == nil {
		return nil, errors.New("scan: nil policy")
	}
	s := &Scanner{
		policy:     policy,
		opts:       opts,
		engine:     opts.Engine,
		classifier: opts.Classifier,
		logger:     opts.Logger,
		extensions: make(map[string]struct{}, len(opts.Extensions)),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.engine == nil {
		s.engine = arbiter.New(arbiter.WithLogger(s.logger))
	}
	if s.classifier == nil {
		s.classifier = chain.NewClassifier(nil)
	}
	if s.opts.Workers <= 0 {
		s.opts.Workers = runtime.NumCPU()
	}
	var err error
	if s.include, err = compileGlobs(opts.Include); err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	if s.exclude, err = compileGlobs(opts.Exclude); err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.extensions[ext] = struct{}{}
	}
	return s, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(filepath.ToSlash(p)), '/')
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Policy returns the policy the scanner evaluates against.
func (s *Scanner) Policy() *PolicySet {
	return s.policy
}

// WithPolicy returns a scanner with the same options evaluating against p.
func (s *Scanner) WithPolicy(p *PolicySet) *Scanner {
	cp := *s
	cp.policy = p
	return &cp
}

// candidate is a file selected for evaluation.
type candidate struct {
	path string
	// rulePath is the path FilePath rules see.
	rulePath string
}

// Run walks roots and evaluates every selected file. Files that cannot be
// read are reported as errors in the report; Run itself only fails when the
// context is cancelled or a root does not exist.
func (s *Scanner) Run(ctx context.Context, roots []string) (*report.Report, error) {
	scanID := uuid.NewString()
	start := time.Now()
	ctx, span := observability.ScanSpan(ctx, scanID, s.policy.Path, roots)
	defer span.End()

	files, fileErrs, err := s.collect(ctx, roots)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	s.logger.Debug("scan started", "scan_id", scanID, "files", len(files), "workers", s.opts.Workers)

	outs := make([]arbiter.Output, len(files))
	errs := make([]error, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outs[i], errs[i] = s.evaluate(gctx, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	results := make([]arbiter.Output, 0, len(files))
	for i, f := range files {
		if errs[i] != nil {
			fileErrs = append(fileErrs, report.FileError{Path: f.path, Error: errs[i].Error()})
			continue
		}
		results = append(results, outs[i])
	}

	absRoots := make([]string, 0, len(roots))
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			r = abs
		}
		absRoots = append(absRoots, r)
	}
	rep := report.Build(report.Meta{
		ScanID:     scanID,
		PolicyPath: s.policy.Path,
		PolicyID:   s.policy.PolicyID,
		AuditMode:  s.policy.AuditMode,
		Roots:      absRoots,
		Elapsed:    time.Since(start),
	}, results, fileErrs)

	observability.RecordSummary(span, rep.Summary.Files, rep.Summary.Allowed, rep.Summary.Blocked, rep.Summary.Errors)
	s.logger.Info("scan complete",
		"scan_id", scanID,
		"files", rep.Summary.Files,
		"allowed", rep.Summary.Allowed,
		"blocked", rep.Summary.Blocked,
		"errors", rep.Summary.Errors,
		"elapsed", rep.Summary.Elapsed,
	)
	return rep, nil
}

// collect walks roots and returns the files to evaluate plus the paths the
// walk could not read.
func (s *Scanner) collect(ctx context.Context, roots []string) ([]candidate, []report.FileError, error) {
	var (
		files []candidate
		errs  []report.FileError
	)
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, nil, fmt.Errorf("scan root: %w", err)
		}
		if !info.IsDir() {
			// Explicit files bypass the walk filters.
			files = append(files, candidate{path: abs, rulePath: s.rulePath(filepath.Base(abs), abs)})
			continue
		}

		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				errs = append(errs, report.FileError{Path: path, Error: err.Error()})
				return nil
			}
			rel, relErr := filepath.Rel(abs, path)
			if relErr != nil {
				return relErr
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if path != abs && s.excluded(rel) {
					return filepath.SkipDir
				}
				return nil
			}

			info, err := s.fileInfo(path, d)
			if err != nil {
				errs = append(errs, report.FileError{Path: path, Error: err.Error()})
				return nil
			}
			if info == nil || !s.selected(rel, info) {
				return nil
			}
			files = append(files, candidate{path: path, rulePath: s.rulePath(rel, path)})
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return files, errs, nil
}

// fileInfo returns the info of a regular file, following symlinks when
// enabled. Nil means the entry is skipped.
func (s *Scanner) fileInfo(path string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		if !s.opts.FollowSymlinks {
			return nil, nil
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() {
			return nil, nil
		}
		return info, nil
	}
	if !d.Type().IsRegular() {
		return nil, nil
	}
	return d.Info()
}

func (s *Scanner) selected(rel string, info fs.FileInfo) bool {
	if len(s.extensions) > 0 {
		if _, ok := s.extensions[strings.ToLower(filepath.Ext(rel))]; !ok {
			return false
		}
	}
	if s.opts.MaxFileSize > 0 && info.Size() > s.opts.MaxFileSize {
		s.logger.Debug("skipping large file", "path", rel, "size", info.Size())
		return false
	}
	if s.excluded(rel) {
		return false
	}
	if len(s.include) == 0 {
		return true
	}
	return matchAny(s.include, strings.ToLower(rel))
}

func (s *Scanner) excluded(rel string) bool {
	return matchAny(s.exclude, strings.ToLower(rel))
}

func matchAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func (s *Scanner) rulePath(rel, hostPath string) string {
	if s.opts.MountAs == "" {
		return hostPath
	}
	base := strings.TrimRight(s.opts.MountAs, `\/`)
	return base + `\` + strings.ReplaceAll(rel, "/", `\`)
}

// evaluate decides one file inside its own span.
func (s *Scanner) evaluate(ctx context.Context, f candidate) (arbiter.Output, error) {
	ctx, span := observability.FileSpan(ctx, f.path)
	defer span.End()

	out, err := s.decide(ctx, f)
	if err != nil {
		observability.RecordError(span, err)
		s.logger.Warn("file evaluation failed", "path", f.path, "error", err)
		return arbiter.Output{}, err
	}
	observability.RecordDecision(span, out.IsAuthorized, out.Level.String(), out.SignerID)
	return out, nil
}

// decide applies the rule kinds in order: allow-all, file hash, file path,
// then signer arbitration.
func (s *Scanner) decide(ctx context.Context, f candidate) (arbiter.Output, error) {
	if s.policy.AllowsAll() {
		return arbiter.Allowed(f.path, arbiter.SourceAllowAll, arbiter.LevelAllowAllRule, s.policy.AllowAllRule), nil
	}

	span := trace.SpanFromContext(ctx)
	isPE := true
	digests, err := authenticode.Digests(f.path)
	if errors.Is(err, authenticode.ErrNotPE) {
		isPE = false
		digests, err = authenticode.FlatDigests(f.path)
	}
	if err != nil {
		return arbiter.Output{}, fmt.Errorf("hash: %w", err)
	}
	observability.RecordStage(span, observability.StageHash)
	for _, alg := range []string{authenticode.SHA256, authenticode.SHA1} {
		if id, ok := s.policy.Hashes.Contains(digests[alg]); ok {
			return arbiter.Allowed(f.path, arbiter.SourceHashRule, arbiter.LevelFileHash, id), nil
		}
	}

	if rule, ok := s.policy.Paths.Match(f.rulePath); ok {
		return arbiter.Allowed(f.path, arbiter.SourcePathRule, arbiter.LevelFilePath, rule.ID), nil
	}

	if !isPE {
		return arbiter.NotAllowed(f.path), nil
	}

	in, err := s.Prepare(ctx, f.path)
	if err != nil {
		return arbiter.Output{}, err
	}
	observability.RecordStage(span, observability.StageArbitrate)
	return s.engine.Compare(in), nil
}

// Prepare reads the signatures and version resource of the PE file at path
// and assembles the engine input. Unsigned files yield an input without
// chains.
func (s *Scanner) Prepare(ctx context.Context, path string) (arbiter.Input, error) {
	span := trace.SpanFromContext(ctx)
	in := arbiter.Input{Path: path, Signers: s.policy.Signers}

	sigs, err := authenticode.ReadSignatures(path)
	switch {
	case errors.Is(err, authenticode.ErrNotSigned):
	case err != nil:
		return in, fmt.Errorf("read signatures: %w", err)
	}
	for _, sig := range sigs {
		certs := authenticode.BuildChain(sig, s.opts.ExtraRoots)
		if len(certs) == 0 {
			s.logger.Debug("signature without signer certificate", "path", path)
			continue
		}
		pkg, err := s.classifier.Classify(certs, sig.SignedMessage)
		if err != nil {
			s.logger.Warn("skipping chain", "path", path, "error", err)
			continue
		}
		in.Chains = append(in.Chains, pkg)
		if pkg.Leaf != nil {
			in.EKUs = appendUnique(in.EKUs, pkg.Leaf.EKUs...)
		}
	}
	observability.RecordStage(span, observability.StageSignatures, attribute.Int("chains", len(in.Chains)))

	vi, err := peinfo.ReadVersionInfo(path)
	if err != nil {
		s.logger.Warn("ignoring version resource", "path", path, "error", err)
	} else {
		in.Attributes = arbiter.FileAttributes{
			OriginalFileName: vi.OriginalFileName,
			InternalName:     vi.InternalName,
			ProductName:      vi.ProductName,
			FileDescription:  vi.FileDescription,
			Version:          vi.FileVersion,
		}
	}
	observability.RecordStage(span, observability.StageVersion)
	return in, nil
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
