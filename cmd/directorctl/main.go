// Command directorctl is a tiny read-only client for directord's status
// surface: it fetches the backend list and fuzzy-matches a name fragment,
// which is handy when a cluster has dozens of similarly-named backends.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"gopkg.in/yaml.v3"
)

type backendView struct {
	Name    string `json:"name" yaml:"name"`
	Role    string `json:"role" yaml:"role"`
	Health  string `json:"health" yaml:"health"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

func main() {
	var addr string
	var query string
	var format string
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&addr, "addr", "http://localhost:9200", "directord status server address")
	fs.StringVar(&query, "find", "", "fuzzy-match backend names against this fragment")
	fs.StringVar(&format, "format", "table", "output format: table, json or yaml")
	_ = fs.Parse(os.Args[1:])

	backends, err := fetchBackends(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "directorctl: %v\n", err)
		os.Exit(1)
	}

	if query != "" {
		names := make([]string, len(backends))
		for i, b := range backends {
			names[i] = b.Name
		}
		matches := fuzzy.RankFindFold(query, names)
		sort.Sort(matches)

		var matched []backendView
		for _, m := range matches {
			matched = append(matched, backends[m.OriginalIndex])
		}
		backends = matched
	}

	if err := render(format, backends); err != nil {
		fmt.Fprintf(os.Stderr, "directorctl: %v\n", err)
		os.Exit(1)
	}
}

// render writes backends to stdout in the requested format. yaml and json
// are handy for scripting against directorctl; table is for a human.
func render(format string, backends []backendView) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(backends)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(backends)
	default:
		printBackends(backends)
		return nil
	}
}

func fetchBackends(addr string) ([]backendView, error) {
	resp, err := http.Get(addr + "/status/backends")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var views []backendView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		return nil, err
	}
	return views, nil
}

func printBackends(views []backendView) {
	for _, v := range views {
		enabled := "enabled"
		if !v.Enabled {
			enabled = "disabled"
		}
		fmt.Printf("%-20s role=%-10s health=%-10s %s\n", v.Name, v.Role, v.Health, enabled)
	}
}
