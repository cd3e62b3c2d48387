// omeshd is the Omesh node daemon: it owns the document store and
// inverted index core and exposes the flags its external mesh and HTTP
// collaborators are started with (spec §1, §6). The mesh transport and
// HTTP server themselves are out of scope for this binary; only their
// configuration surface lives here.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/omesh/omesh/pkg/docstore"
	"github.com/omesh/omesh/pkg/ftsindex"
)

// Exit codes (spec §6).
const (
	exitClean    = 0
	exitInitFail = 1
	exitArgError = 2
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	os.Exit(run(os.Args[1:], os.Environ(), os.Stdout, os.Stderr, sigCh))
}

func run(args, env []string, out, errOut io.Writer, sigCh <-chan os.Signal) int {
	fs := flag.NewFlagSet("omeshd", flag.ContinueOnError)
	fs.SetOutput(errOut)

	httpPort := fs.Int("http", 0, "HTTP server port (external collaborator)")
	meshPort := fs.Int("mesh-port", 0, "mesh transport port (external collaborator)")
	peers := fs.StringArray("peer", nil, "mesh peer address HOST:PORT, repeatable")
	setup := fs.Bool("setup", false, "run the interactive setup wizard and exit")
	dataDir := fs.String("data-dir", "", "override the configured data directory")
	configPath := fs.String("config", "", "path to the node config file")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitClean
		}
		return exitArgError
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = defaultConfigPath(env)
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitInitFail
	}

	if *setup {
		if err := runSetup(out, cfgPath, cfg); err != nil {
			fmt.Fprintf(errOut, "error: %v\n", err)
			return exitInitFail
		}
		return exitClean
	}

	if *httpPort != 0 {
		cfg.HTTPPort = *httpPort
	}
	if *meshPort != 0 {
		cfg.MeshPort = *meshPort
	}
	if len(*peers) > 0 {
		cfg.Peers = *peers
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	node, err := initNode(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitInitFail
	}

	fmt.Fprintf(out, "omeshd: data_dir=%s http=%d mesh=%d peers=%v\n",
		cfg.DataDir, cfg.HTTPPort, cfg.MeshPort, cfg.Peers)

	// Single-threaded cooperative scheduling model (spec §5): the core
	// polls a shutdown flag between request boundaries rather than being
	// interrupted mid-operation. With no external event loop driving
	// requests in this binary, waiting on the signal channel is that
	// boundary.
	<-sigCh

	if err := node.shutdown(); err != nil {
		fmt.Fprintf(errOut, "error during shutdown: %v\n", err)
		return exitInitFail
	}

	fmt.Fprintln(out, "omeshd: clean shutdown")

	return exitClean
}

// node owns the process-wide document store and index singletons (spec
// §5 Shared resources: "File descriptors and mmaps are owned exclusively
// by their component").
type node struct {
	store *docstore.Store
	index *ftsindex.Index
}

func initNode(cfg config) (*node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}

	store, err := docstore.Init(filepath.Join(cfg.DataDir, "docs"))
	if err != nil {
		return nil, fmt.Errorf("init document store: %w", err)
	}

	index, err := ftsindex.Init(filepath.Join(cfg.DataDir, "index"))
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, fmt.Errorf("init inverted index: %w", err)
	}

	return &node{store: store, index: index}, nil
}

func (n *node) shutdown() error {
	if err := n.index.Save(); err != nil {
		return fmt.Errorf("save index: %w", err)
	}
	if err := n.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}

	if err := n.store.Sync(); err != nil {
		return fmt.Errorf("sync document store: %w", err)
	}
	if err := n.store.Close(); err != nil {
		return fmt.Errorf("close document store: %w", err)
	}

	return nil
}
