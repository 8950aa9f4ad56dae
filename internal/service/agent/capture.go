package agent

import (
	"context"
	"errors"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/service/costs"
	"github.com/bryanowens-dev/walker/internal/service/devserver"
	"github.com/bryanowens-dev/walker/internal/service/visualdiff"
)

const (
	beforePrefix = "before"
	afterPrefix  = "after"
)

// CaptureBefore starts the dev server, captures the pages the plan
// names, and stops the server again so the edit phase does not fight a
// hot reloader. Failures log and return no shots: screenshots are
// garnish, never a reason to fail a task.
func (f *Facade) CaptureBefore(ctx context.Context, plan string) []visualdiff.Shot {
	if f.dev == nil || f.differ == nil {
		return nil
	}
	urls := visualdiff.ExtractURLs(plan)

	srv, err := f.startServer(ctx, devserver.Options{})
	if err != nil {
		f.logger.Warn("before-capture skipped: dev server failed", "error", err)
		return nil
	}
	defer srv.Stop(ctx)

	shots, err := f.differ.Capture(ctx, beforePrefix, srv.URL, urls)
	if err != nil {
		f.logger.Warn("before-capture failed", "error", err)
		return nil
	}
	return shots
}

// CaptureAfter starts a fresh server with the build cache cleared (so
// stale compilation artifacts cannot mask the new code) and captures
// the same pages as the before set, so the pairs line up.
func (f *Facade) CaptureAfter(ctx context.Context, before []visualdiff.Shot) []visualdiff.Shot {
	if f.dev == nil || f.differ == nil {
		return nil
	}
	urls := make([]string, 0, len(before))
	for _, s := range before {
		urls = append(urls, s.URL)
	}
	if len(urls) == 0 {
		urls = []string{"/"}
	}

	srv, err := f.startServer(ctx, devserver.Options{ClearCache: true})
	if err != nil {
		f.logger.Warn("after-capture skipped: dev server failed", "error", err)
		return nil
	}
	defer srv.Stop(ctx)

	shots, err := f.differ.Capture(ctx, afterPrefix, srv.URL, urls)
	if err != nil {
		f.logger.Warn("after-capture failed", "error", err)
		return nil
	}
	return shots
}

// startServer wraps Controller.Start with the compile-hang detour: one
// repair pass through the editor, then one retry with the cache
// cleared. Every other failure mode passes through untouched.
func (f *Facade) startServer(ctx context.Context, opts devserver.Options) (*devserver.Server, error) {
	srv, err := f.dev.Start(ctx, opts)
	if err == nil {
		return srv, nil
	}
	if !isCompileHang(err) {
		return nil, err
	}

	f.logger.Warn("dev server compile hang, attempting repair", "error", err)
	f.notify(ctx, "The dev server hung while compiling - looking into it...")

	prompt, rerr := render("hang-repair", hangParams{Output: errDetail(err, "output")})
	if rerr != nil {
		return nil, err
	}
	if _, rerr := f.execute(ctx, prompt, nil, costs.CategoryRepair); rerr != nil {
		f.logger.Warn("compile-hang repair pass failed", "error", rerr)
		return nil, err
	}
	if _, cerr := f.tree.Commit(ctx, "Fix dev server compile hang"); cerr != nil {
		return nil, cerr
	}

	opts.ClearCache = true
	return f.dev.Start(ctx, opts)
}

// isCompileHang matches the one dev-server failure the façade may
// repair.
func isCompileHang(err error) bool {
	var derr *core.DomainError
	return errors.As(err, &derr) && derr.Code == core.CodeCompileHang
}

// errDetail reads a string detail off a DomainError, "" when absent.
func errDetail(err error, key string) string {
	var derr *core.DomainError
	if !errors.As(err, &derr) || derr.Details == nil {
		return ""
	}
	s, _ := derr.Details[key].(string)
	return s
}
