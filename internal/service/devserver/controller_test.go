package devserver

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
	"github.com/bryanowens-dev/walker/internal/testutil"
)

func writePackageJSON(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(content), 0o644))
}

func TestDevScript_Priority(t *testing.T) {
	tests := []struct {
		name    string
		scripts map[string]string
		want    string
		ok      bool
	}{
		{"dev wins", map[string]string{"start": "x", "dev": "y"}, "dev", true},
		{"start next", map[string]string{"start": "x", "serve": "y"}, "start", true},
		{"develop", map[string]string{"develop": "x"}, "develop", true},
		{"serve last", map[string]string{"serve": "x"}, "serve", true},
		{"none", map[string]string{"build": "x", "test": "y"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg := &packageJSON{Scripts: tt.scripts}
			got, ok := pkg.devScript()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFrameworkPort(t *testing.T) {
	tests := []struct {
		name string
		pkg  packageJSON
		want int
	}{
		{"next", packageJSON{Dependencies: map[string]string{"next": "14.0.0"}}, 3000},
		{"vite dev dep", packageJSON{DevDependencies: map[string]string{"vite": "5.0.0"}}, 5173},
		{"react-scripts", packageJSON{Dependencies: map[string]string{"react-scripts": "5.0.1"}}, 3000},
		{"angular", packageJSON{Dependencies: map[string]string{"@angular/core": "17.0.0"}}, 4200},
		{"vue", packageJSON{Dependencies: map[string]string{"vue": "3.4.0"}}, 8080},
		{"unknown", packageJSON{}, 3000},
		// next also depends on react; detection order matters
		{"next beats vite", packageJSON{
			Dependencies:    map[string]string{"next": "14.0.0"},
			DevDependencies: map[string]string{"vite": "5.0.0"},
		}, 3000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pkg.frameworkPort())
		})
	}
}

func TestReadPackageJSON(t *testing.T) {
	dir := testutil.TempDir(t)

	_, err := readPackageJSON(dir)
	assert.Error(t, err, "missing file")

	writePackageJSON(t, dir, `{"scripts": {"dev": "next dev"}, "dependencies": {"next": "14"}}`)
	pkg, err := readPackageJSON(dir)
	require.NoError(t, err)
	assert.Equal(t, "next dev", pkg.Scripts["dev"])
	assert.True(t, pkg.hasDep("next"))

	writePackageJSON(t, dir, `{broken`)
	_, err = readPackageJSON(dir)
	assert.Error(t, err, "malformed json")
}

// freePort reserves an ephemeral port and returns it along with a
// release function. While held, the port reads as busy.
func freePort(t *testing.T) (int, func()) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return l.Addr().(*net.TCPAddr).Port, func() { l.Close() }
}

func TestPickPort(t *testing.T) {
	preferred, releasePreferred := freePort(t)
	alt, releaseAlt := freePort(t)
	releaseAlt()

	c := NewController(testutil.TempDir(t), Config{AltPorts: []int{alt}}, logging.NewNop())

	// Preferred busy, alternative free.
	port, err := c.pickPort(preferred)
	require.NoError(t, err)
	assert.Equal(t, alt, port)

	// Preferred free again.
	releasePreferred()
	port, err = c.pickPort(preferred)
	require.NoError(t, err)
	assert.Equal(t, preferred, port)
}

func TestPickPort_AllBusy(t *testing.T) {
	p1, release1 := freePort(t)
	p2, release2 := freePort(t)
	defer release1()
	defer release2()

	c := NewController(testutil.TempDir(t), Config{AltPorts: []int{p2}}, logging.NewNop())

	_, err := c.pickPort(p1)
	require.Error(t, err)

	var domErr *core.DomainError
	require.True(t, errors.As(err, &domErr))
	assert.Equal(t, core.CodeNoFreePort, domErr.Code)
}

func TestClearCache(t *testing.T) {
	dir := testutil.TempDir(t)
	for _, name := range []string{".next", "dist", "src"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0o755))
	}

	c := NewController(dir, Config{}, logging.NewNop())
	c.clearCache()

	for _, name := range []string{".next", "dist"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), "%s must be removed", name)
	}
	_, err := os.Stat(filepath.Join(dir, "src"))
	assert.NoError(t, err, "source dirs stay")
}

func TestEnsureDeps_SkipsWhenPresent(t *testing.T) {
	dir := testutil.TempDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))

	c := NewController(dir, Config{}, logging.NewNop())
	assert.NoError(t, c.ensureDeps(context.Background()))
}

func TestStart_NoDevScript(t *testing.T) {
	dir := testutil.TempDir(t)
	writePackageJSON(t, dir, `{"scripts": {"build": "tsc"}}`)

	c := NewController(dir, Config{}, logging.NewNop())
	_, err := c.Start(context.Background(), Options{})
	require.Error(t, err)

	var domErr *core.DomainError
	require.True(t, errors.As(err, &domErr))
	assert.Equal(t, "NO_DEV_SCRIPT", domErr.Code)
}

func TestStart_NoPackageJSON(t *testing.T) {
	c := NewController(testutil.TempDir(t), Config{}, logging.NewNop())
	_, err := c.Start(context.Background(), Options{})
	require.Error(t, err)
	assert.Equal(t, core.ErrCatExecution, core.GetCategory(err))
}

func TestLastLines(t *testing.T) {
	assert.Equal(t, "b\nc", lastLines("a\nb\nc\n", 2))
	assert.Equal(t, "a", lastLines("a", 5))
}

func TestFailureErr_CarriesOutput(t *testing.T) {
	err := failureErr(FailCompileHang, []string{"compiling...", "still compiling"})

	var domErr *core.DomainError
	require.True(t, errors.As(err, &domErr))
	assert.Equal(t, core.CodeCompileHang, domErr.Code)
	assert.Contains(t, domErr.Details["output"], "still compiling")
}
