package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/kairon/internal/correction"
	"github.com/roach88/kairon/internal/engine"
	"github.com/roach88/kairon/internal/oracle"
	"github.com/roach88/kairon/internal/registry"
	"github.com/roach88/kairon/internal/service"
	"github.com/roach88/kairon/internal/store"
)

// LoadCatalog loads a plan catalog. An empty path returns the embedded
// default. A directory path concatenates every .cue file in it, sorted
// by name for deterministic compilation order.
func LoadCatalog(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.Default(), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("catalog path: %w", err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("scan catalog dir: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".cue") {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(files)
		if len(files) == 0 {
			return nil, fmt.Errorf("no CUE files found in %s", path)
		}
	} else {
		files = []string{path}
	}

	var src strings.Builder
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read catalog file: %w", err)
		}
		src.Write(data)
		src.WriteString("\n")
	}
	return registry.Load(src.String())
}

// openService assembles a Service over a SQLite database. The returned
// cleanup closes the store after draining in-flight chains.
func openService(dbPath, catalogPath string) (*service.Service, func(), error) {
	reg, err := LoadCatalog(catalogPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	eng := engine.New(st, oracle.HeuristicOracle{})
	run := engine.NewRunner()
	coord := correction.New(st, eng, run, reg)
	svc := service.New(st, eng, run, reg, coord)

	cleanup := func() {
		st.Close()
	}
	return svc, cleanup, nil
}
