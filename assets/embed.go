// Package assets embeds the files the server ships with: SQL migrations and
// the rules screen text.
package assets

import (
	"bufio"
	"embed"
	"io/fs"
	"strings"
)

//go:embed rules.txt sql/*.sql
var FS embed.FS

func readLines(name string) ([]string, error) {
	f, err := FS.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		out = append(out, s)
	}
	return out, sc.Err()
}

// RulesLines returns the rules screen, one paragraph per line.
func RulesLines() ([]string, error) {
	return readLines("rules.txt")
}

// Migrations returns the embedded sql directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(FS, "sql")
	if err != nil {
		panic(err) // the directory is embedded at build time
	}
	return sub
}
