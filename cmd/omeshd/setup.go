package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/peterh/liner"
)

// runSetup is an interactive wizard, in the style of the teacher's sloty
// REPL, that prompts for the daemon's local settings and writes them to
// configPath. It never touches the mesh or HTTP collaborators directly
// (spec §1 Non-goals); it only records the ports and peers those
// external processes will later be started with.
func runSetup(out io.Writer, configPath string, existing config) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Fprintln(out, "omeshd setup — press enter to keep the bracketed default")

	dataDir, err := promptDefault(line, "data directory", existing.DataDir)
	if err != nil {
		return err
	}

	httpPort, err := promptInt(line, "http port", existing.HTTPPort)
	if err != nil {
		return err
	}

	meshPort, err := promptInt(line, "mesh port", existing.MeshPort)
	if err != nil {
		return err
	}

	peersLine, err := promptDefault(line, "peer addresses (comma separated)", strings.Join(existing.Peers, ","))
	if err != nil {
		return err
	}

	cfg := config{
		DataDir:  dataDir,
		HTTPPort: httpPort,
		MeshPort: meshPort,
		Peers:    splitPeers(peersLine),
	}

	if err := saveConfig(configPath, cfg); err != nil {
		return err
	}

	fmt.Fprintf(out, "wrote %s\n", configPath)

	return nil
}

func promptDefault(line *liner.State, label, def string) (string, error) {
	prompt := fmt.Sprintf("%s [%s]: ", label, def)

	answer, err := line.Prompt(prompt)
	if err != nil {
		if err == liner.ErrPromptAborted || err == io.EOF {
			return def, nil
		}
		return "", fmt.Errorf("reading %s: %w", label, err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return def, nil
	}

	return answer, nil
}

func promptInt(line *liner.State, label string, def int) (int, error) {
	answer, err := promptDefault(line, label, strconv.Itoa(def))
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(answer)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", label, err)
	}

	return n, nil
}

func splitPeers(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}
