package protection

import (
	"strings"
	"sync"
	"testing"
)

func assertClass(t *testing.T, sql string, want Class) Verdict {
	t.Helper()
	v := Classify(sql)
	if v.Class != want {
		t.Fatalf("expected %s for SQL %q, got %s (reason %q)", want, sql, v.Class, v.Reason)
	}
	return v
}

// --- Read-only ---

func TestClassify_SelectIsReadOnly(t *testing.T) {
	t.Parallel()
	for _, sql := range []string{
		"SELECT 1",
		"select * from users",
		"   Select id FROM t WHERE x = 1",
		"\n\tSELECT\nname FROM t",
		"SELECT(1)",
		"select count(*) from orders;",
	} {
		assertClass(t, sql, ReadOnly)
	}
}

func TestClassify_WithIsReadOnly(t *testing.T) {
	t.Parallel()
	assertClass(t, "WITH x AS (SELECT 1) SELECT * FROM x", ReadOnly)
	assertClass(t, "with recursive r(n) as (select 1 union all select n+1 from r where n < 3) select * from r", ReadOnly)
}

// The CTE entry point is accepted as-is; a data-modifying CTE is still read-only
// to the lexical classifier.
func TestClassify_WithDataModifyingCTEIsStillReadOnly(t *testing.T) {
	t.Parallel()
	assertClass(t, "WITH d AS (DELETE FROM t RETURNING *) SELECT * FROM d", ReadOnly)
}

// --- Mutating ---

func TestClassify_MutatingVerbs(t *testing.T) {
	t.Parallel()
	for _, sql := range []string{
		"INSERT INTO t VALUES (1)",
		"update t set a = 1 where id = 2",
		"DELETE FROM t WHERE id = 1",
		"CREATE TABLE t (id int)",
		"ALTER TABLE t ADD COLUMN b int",
		"DROP TABLE t",
		"TRUNCATE t",
		"GRANT SELECT ON t TO reader",
		"REVOKE SELECT ON t FROM reader",
		"  insert\ninto t values (1)",
	} {
		assertClass(t, sql, Mutating)
	}
}

// --- Forbidden ---

func TestClassify_ForbiddenPhrases(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"DROP DATABASE prod":            "drop database",
		"drop schema public cascade":    "drop schema",
		"DROP USER alice":               "drop user",
		"drop role admin":               "drop role",
		"ALTER SYSTEM SET work_mem = 1": "alter system",
		"SELECT pg_catalog.shutdown()":  "shutdown",
		"select 'restart' as action":    "restart",
	}
	for sql, phrase := range cases {
		v := Classify(sql)
		if v.Class != Forbidden {
			t.Fatalf("expected forbidden for SQL %q, got %s", sql, v.Class)
		}
		if v.Phrase != phrase {
			t.Fatalf("expected phrase %q for SQL %q, got %q", phrase, sql, v.Phrase)
		}
		if !strings.Contains(v.Reason, phrase) {
			t.Fatalf("expected reason to mention %q, got %q", phrase, v.Reason)
		}
	}
}

func TestClassify_DropDatabaseAnywhereIsForbidden(t *testing.T) {
	t.Parallel()
	for _, sql := range []string{
		"drop database x",
		"SELECT 1; DROP DATABASE x",
		"insert into audit(note) values ('about to drop database')",
		"with a as (select 1) select 'DROP DATABASE'",
		"update t set x = 'Drop Database'",
	} {
		v := assertClass(t, sql, Forbidden)
		if v.Phrase != "drop database" {
			t.Fatalf("expected phrase 'drop database' for %q, got %q", sql, v.Phrase)
		}
	}
}

// Extra whitespace between the words defeats the substring match; this is the
// documented lexical limitation.
func TestClassify_WhitespaceSplitPhraseNotDetected(t *testing.T) {
	t.Parallel()
	v := Classify("DROP   DATABASE x")
	if v.Class != Mutating {
		t.Fatalf("expected mutating (drop verb) for split phrase, got %s", v.Class)
	}
}

func TestClassify_Unrecognized(t *testing.T) {
	t.Parallel()
	for _, sql := range []string{
		"",
		"   ",
		"EXPLAIN SELECT 1",
		"SET search_path = foo",
		"VACUUM",
		"COPY t TO STDOUT",
		"-- comment\nSELECT 1",
		"/* x */ DELETE FROM t",
		"DO $$ BEGIN END $$",
	} {
		v := assertClass(t, sql, Forbidden)
		if v.Reason != ReasonUnrecognized {
			t.Fatalf("expected reason %q for %q, got %q", ReasonUnrecognized, sql, v.Reason)
		}
		if v.Phrase != "" {
			t.Fatalf("expected empty phrase for %q, got %q", sql, v.Phrase)
		}
	}
}

// The mutating verb must be a whole whitespace-delimited token.
func TestClassify_VerbWithTrailingPunctuationIsUnrecognized(t *testing.T) {
	t.Parallel()
	for _, sql := range []string{
		"delete;",
		"DELETE;",
		"truncate(t)",
		"insert/**/into t values (1)",
		"drop\"t\"",
	} {
		v := assertClass(t, sql, Forbidden)
		if v.Reason != ReasonUnrecognized {
			t.Fatalf("expected %q for %q, got %q", ReasonUnrecognized, sql, v.Reason)
		}
	}
	assertClass(t, "delete\tfrom t;", Mutating)
	assertClass(t, "TRUNCATE t;", Mutating)
}

func TestClassify_PhraseCheckRunsBeforeVerb(t *testing.T) {
	t.Parallel()
	v := assertClass(t, "SELECT * FROM t WHERE note = 'shutdown'", Forbidden)
	if v.Phrase != "shutdown" {
		t.Fatalf("expected phrase 'shutdown', got %q", v.Phrase)
	}
}

func TestLeadingVerb(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"INSERT INTO t": "insert",
		"  update t":    "update",
		"select(1)":     "select",
		"(select 1)":    "",
		"":              "",
		"Truncate;":     "truncate",
	}
	for sql, want := range cases {
		if got := LeadingVerb(sql); got != want {
			t.Fatalf("LeadingVerb(%q): expected %q, got %q", sql, want, got)
		}
	}
}

func TestClassString(t *testing.T) {
	t.Parallel()
	if ReadOnly.String() != "read-only" || Mutating.String() != "mutating" || Forbidden.String() != "forbidden" {
		t.Fatalf("unexpected class names: %s %s %s", ReadOnly, Mutating, Forbidden)
	}
}

func TestClassify_Concurrent(t *testing.T) {
	queries := []string{
		"SELECT * FROM users",
		"INSERT INTO users (name) VALUES ('test')",
		"DROP DATABASE x",
		"EXPLAIN SELECT 1",
	}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = Classify(queries[(id+j)%len(queries)])
			}
		}(i)
	}
	wg.Wait()
}
