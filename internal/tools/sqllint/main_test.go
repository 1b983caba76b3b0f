package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = "package q\n\n" +
	"const QGood = `--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7\nselect 1;\n`\n\n" +
	"const QBad = `select 2;`\n\n" +
	"const QAgain = `--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7\nupdate t set x = 1;\n`\n\n" +
	"const notSQL = \"hello\"\n"

func TestLintSource(t *testing.T) {
	queries, violations, err := lintSource("q.go", []byte(sample))
	if err != nil {
		t.Fatalf("lintSource: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("queries = %+v", queries)
	}
	if len(violations) != 1 || violations[0].name != "QBad" {
		t.Fatalf("violations = %+v", violations)
	}

	dups := duplicateMarkers(queries)
	if len(dups) != 1 || dups[0].name != "QAgain" || !strings.Contains(dups[0].message, "QGood") {
		t.Fatalf("duplicates = %+v", dups)
	}
}

func TestGoFilesSkipsTestsAndHiddenDirs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.go", "a_test.go", "_skip/b.go", ".hidden/c.go", "sub/d.go"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("package x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	files, err := goFiles(dir)
	if err != nil {
		t.Fatalf("goFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %v", files)
	}
}

func TestRepositoryQueriesAreMarked(t *testing.T) {
	files, err := goFiles(filepath.Join("..", "..", "sqlinline"))
	if err != nil {
		t.Fatalf("goFiles: %v", err)
	}
	var all []query
	for _, path := range files {
		src, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		qs, vs, err := lintSource(path, src)
		if err != nil {
			t.Fatal(err)
		}
		for _, v := range vs {
			t.Errorf("%s", v)
		}
		all = append(all, qs...)
	}
	for _, v := range duplicateMarkers(all) {
		t.Errorf("%s", v)
	}
	if len(all) == 0 {
		t.Fatal("no queries found")
	}
}
