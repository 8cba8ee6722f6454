package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/TheMichaelB/secretsync/internal/git"
)

// FakeGitRunner emulates the subset of git the manager drives, backed by an
// in-memory remote. Branches map to file sets keyed by slash path.
type FakeGitRunner struct {
	mu sync.Mutex

	Remote        map[string]map[string][]byte
	DefaultBranch string

	UserName  string
	UserEmail string

	// VersionErr fails `git --version`, as if git were not installed.
	VersionErr error

	calls    []git.Command
	rules    []*fakeRule
	branches map[string]string // working tree -> checked out branch
	commits  int
}

type fakeRule struct {
	prefix    []string
	remaining int
	stderr    string
}

// NewFakeGitRunner returns a runner whose remote holds an empty main branch
// and whose identity is configured.
func NewFakeGitRunner() *FakeGitRunner {
	return &FakeGitRunner{
		Remote:        map[string]map[string][]byte{"main": {}},
		DefaultBranch: "main",
		UserName:      "Test User",
		UserEmail:     "test@example.com",
		branches:      make(map[string]string),
	}
}

// SetRemoteFile places a file on a remote branch, creating the branch.
func (f *FakeGitRunner) SetRemoteFile(branch, name string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Remote[branch] == nil {
		f.Remote[branch] = make(map[string][]byte)
	}
	f.Remote[branch][name] = content
}

// RemoteFiles returns the sorted file names on a remote branch.
func (f *FakeGitRunner) RemoteFiles(branch string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.Remote[branch]))
	for name := range f.Remote[branch] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fail makes commands starting with prefix exit non-zero. times <= 0 fails
// every matching call.
func (f *FakeGitRunner) Fail(times int, stderr string, prefix ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if times < 0 {
		times = 0
	}
	f.rules = append(f.rules, &fakeRule{prefix: prefix, remaining: times, stderr: stderr})
}

// Calls returns every command run so far.
func (f *FakeGitRunner) Calls() []git.Command {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]git.Command(nil), f.calls...)
}

// Called reports whether a command with the given argument prefix ran.
func (f *FakeGitRunner) Called(prefix ...string) bool {
	return f.CallCount(prefix...) > 0
}

// CallCount counts commands with the given argument prefix.
func (f *FakeGitRunner) CallCount(prefix ...string) int {
	n := 0
	for _, c := range f.Calls() {
		if hasPrefix(c.Args, prefix) {
			n++
		}
	}
	return n
}

// Commits returns the number of successful commits.
func (f *FakeGitRunner) Commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits
}

// Run implements git.Runner.
func (f *FakeGitRunner) Run(ctx context.Context, cmd git.Command) (git.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, cmd)

	if err := ctx.Err(); err != nil {
		return git.Result{ExitCode: -1}, fmt.Errorf("%s: %w", cmd, err)
	}

	for _, r := range f.rules {
		if r.remaining == -1 || !hasPrefix(cmd.Args, r.prefix) {
			continue
		}
		if r.remaining > 0 {
			r.remaining--
			if r.remaining == 0 {
				r.remaining = -1
			}
		}
		return f.exit(cmd, r.stderr)
	}

	if len(cmd.Args) == 0 {
		return f.exit(cmd, "usage: git <command>")
	}

	switch cmd.Args[0] {
	case "--version":
		if f.VersionErr != nil {
			return git.Result{ExitCode: -1}, fmt.Errorf("%s: %w", cmd, f.VersionErr)
		}
		return git.Result{Stdout: "git version 2.43.0\n"}, nil
	case "clone":
		return f.clone(cmd)
	case "rev-parse":
		return f.revParse(cmd)
	case "checkout":
		return f.checkout(cmd)
	case "status":
		return f.status(cmd)
	case "config":
		return f.config(cmd)
	case "commit":
		f.commits++
		return git.Result{}, nil
	case "push":
		return f.push(cmd)
	case "fetch", "pull", "add":
		return git.Result{}, nil
	default:
		return f.exit(cmd, "git: '"+cmd.Args[0]+"' is not a git command")
	}
}

func (f *FakeGitRunner) exit(cmd git.Command, stderr string) (git.Result, error) {
	return git.Result{Stderr: stderr, ExitCode: 1}, fmt.Errorf("%s: exit status 1", cmd)
}

func (f *FakeGitRunner) clone(cmd git.Command) (git.Result, error) {
	dest := cmd.Args[len(cmd.Args)-1]
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(cmd.Dir, dest)
	}

	if err := os.MkdirAll(filepath.Join(dest, ".git"), 0755); err != nil {
		return f.exit(cmd, err.Error())
	}
	if _, ok := f.Remote[f.DefaultBranch]; ok {
		if err := f.materialize(dest, f.DefaultBranch); err != nil {
			return f.exit(cmd, err.Error())
		}
		f.branches[dest] = f.DefaultBranch
	}
	return git.Result{}, nil
}

func (f *FakeGitRunner) revParse(cmd git.Command) (git.Result, error) {
	ref := cmd.Args[len(cmd.Args)-1]

	switch {
	case strings.HasPrefix(ref, "refs/heads/"):
		if f.branches[cmd.Dir] == strings.TrimPrefix(ref, "refs/heads/") {
			return git.Result{Stdout: "0000000\n"}, nil
		}
	case strings.HasPrefix(ref, "refs/remotes/origin/"):
		if _, ok := f.Remote[strings.TrimPrefix(ref, "refs/remotes/origin/")]; ok {
			return git.Result{Stdout: "0000000\n"}, nil
		}
	}
	return git.Result{ExitCode: 1}, fmt.Errorf("%s: exit status 1", cmd)
}

func (f *FakeGitRunner) checkout(cmd git.Command) (git.Result, error) {
	branch := cmd.Args[len(cmd.Args)-1]
	if len(cmd.Args) > 2 && cmd.Args[1] == "-b" {
		branch = cmd.Args[2]
	}

	if _, ok := f.Remote[branch]; !ok {
		return f.exit(cmd, "error: pathspec '"+branch+"' did not match any file(s) known to git")
	}
	if err := f.materialize(cmd.Dir, branch); err != nil {
		return f.exit(cmd, err.Error())
	}
	f.branches[cmd.Dir] = branch
	return git.Result{}, nil
}

func (f *FakeGitRunner) status(cmd git.Command) (git.Result, error) {
	tree, err := readTree(cmd.Dir)
	if err != nil {
		return f.exit(cmd, err.Error())
	}
	remote := f.Remote[f.branches[cmd.Dir]]

	var lines []string
	for name, content := range tree {
		old, ok := remote[name]
		switch {
		case !ok:
			lines = append(lines, "A  "+name)
		case string(old) != string(content):
			lines = append(lines, "M  "+name)
		}
	}
	for name := range remote {
		if _, ok := tree[name]; !ok {
			lines = append(lines, "D  "+name)
		}
	}
	sort.Strings(lines)

	if len(lines) == 0 {
		return git.Result{}, nil
	}
	return git.Result{Stdout: strings.Join(lines, "\n") + "\n"}, nil
}

func (f *FakeGitRunner) config(cmd git.Command) (git.Result, error) {
	var value string
	switch cmd.Args[len(cmd.Args)-1] {
	case "user.name":
		value = f.UserName
	case "user.email":
		value = f.UserEmail
	}
	if value == "" {
		return git.Result{ExitCode: 1}, fmt.Errorf("%s: exit status 1", cmd)
	}
	return git.Result{Stdout: value + "\n"}, nil
}

func (f *FakeGitRunner) push(cmd git.Command) (git.Result, error) {
	branch := cmd.Args[len(cmd.Args)-1]
	tree, err := readTree(cmd.Dir)
	if err != nil {
		return f.exit(cmd, err.Error())
	}
	f.Remote[branch] = tree
	return git.Result{}, nil
}

// materialize replaces the non-.git content of dir with the branch files.
func (f *FakeGitRunner) materialize(dir, branch string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return WriteTree(dir, f.Remote[branch], 0644)
}

func readTree(dir string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	return files, err
}

func hasPrefix(args, prefix []string) bool {
	if len(prefix) > len(args) {
		return false
	}
	for i, p := range prefix {
		if args[i] != p {
			return false
		}
	}
	return true
}
