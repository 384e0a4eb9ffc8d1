package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/joeycumines/go-sitemigrate/phpserial"
	"github.com/joeycumines/go-sitemigrate/replace"
	"github.com/joeycumines/go-sitemigrate/sql/export"
	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T, name string, statements ...string) *sql.DB {
	t.Helper()
	db, err := sql.Open(`sqlite3`, filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(stmt, err)
		}
	}
	return db
}

func expectText(t *testing.T, actual, expected string) {
	t.Helper()
	if actual != expected {
		t.Errorf("unexpected value: %q\n%s", actual, fmt.Sprint(gotextdiff.ToUnified(
			`expected`,
			`actual`,
			expected,
			myers.ComputeEdits(span.URIFromPath(`expected`), expected, actual),
		)))
	}
}

func TestDialect_snippets(t *testing.T) {
	d := &Dialect{}
	table := export.Table{Name: `wp_"options`}
	for _, tc := range [...]struct {
		Name    string
		Fn      func() (*export.Snippet, error)
		Snippet *export.Snippet
	}{
		{
			Name:    `list tables`,
			Fn:      func() (*export.Snippet, error) { return d.ListTables(&export.ListTables{}) },
			Snippet: &export.Snippet{SQL: `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\' ORDER BY name`},
		},
		{
			Name:    `list tables attached`,
			Fn:      func() (*export.Snippet, error) { return d.ListTables(&export.ListTables{Schema: `other`}) },
			Snippet: &export.Snippet{SQL: `SELECT name FROM "other".sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\' ORDER BY name`},
		},
		{
			Name:    `show create table`,
			Fn:      func() (*export.Snippet, error) { return d.ShowCreateTable(&export.ShowCreateTable{Table: table}) },
			Snippet: &export.Snippet{
				SQL:  `SELECT group_concat(sql, ';' || char(10)) FROM (SELECT sql FROM sqlite_master WHERE tbl_name = ? AND type IN ('table', 'index') AND sql IS NOT NULL ORDER BY type <> 'table', rowid)`,
				Args: []any{`wp_"options`},
			},
		},
		{
			Name: `show triggers`,
			Fn: func() (*export.Snippet, error) {
				return d.ShowTriggers(&export.ShowTriggers{Table: export.Table{Schema: `other`, Name: `t`}})
			},
			Snippet: &export.Snippet{
				SQL:  `SELECT sql FROM "other".sqlite_master WHERE tbl_name = ? AND type = 'trigger' AND sql IS NOT NULL ORDER BY rowid`,
				Args: []any{`t`},
			},
		},
		{
			Name: `primary key`,
			Fn:   func() (*export.Snippet, error) { return d.PrimaryKey(&export.PrimaryKey{Table: table}) },
			Snippet: &export.Snippet{
				SQL:  `SELECT name, pk FROM pragma_table_info(?) WHERE pk > 0 UNION ALL SELECT 'rowid', 0 WHERE NOT EXISTS (SELECT 1 FROM pragma_table_info(?) WHERE pk > 0) ORDER BY 2`,
				Args: []any{`wp_"options`, `wp_"options`},
			},
		},
		{
			Name: `primary key attached`,
			Fn: func() (*export.Snippet, error) {
				return d.PrimaryKey(&export.PrimaryKey{Table: export.Table{Schema: `other`, Name: `t`}})
			},
			Snippet: &export.Snippet{
				SQL:  `SELECT name, pk FROM pragma_table_info(?, ?) WHERE pk > 0 UNION ALL SELECT 'rowid', 0 WHERE NOT EXISTS (SELECT 1 FROM pragma_table_info(?, ?) WHERE pk > 0) ORDER BY 2`,
				Args: []any{`t`, `other`, `t`, `other`},
			},
		},
		{
			Name: `select ordered page`,
			Fn: func() (*export.Snippet, error) {
				return d.SelectPage(&export.SelectPage{Table: table, OrderBy: []string{`a`, `b"c`}, Limit: 10})
			},
			Snippet: &export.Snippet{SQL: `SELECT * FROM "wp_""options" ORDER BY "a", "b""c" LIMIT ? OFFSET ?`, Args: []any{int64(10), int64(0)}},
		},
		{
			Name:    `select page`,
			Fn:      func() (*export.Snippet, error) { return d.SelectPage(&export.SelectPage{Table: table, Limit: 10, Offset: 20}) },
			Snippet: &export.Snippet{SQL: `SELECT * FROM "wp_""options" LIMIT ? OFFSET ?`, Args: []any{int64(10), int64(20)}},
		},
		{
			Name:    `select all`,
			Fn:      func() (*export.Snippet, error) { return d.SelectPage(&export.SelectPage{Table: table}) },
			Snippet: &export.Snippet{SQL: `SELECT * FROM "wp_""options"`},
		},
		{
			Name:    `count rows`,
			Fn:      func() (*export.Snippet, error) { return d.CountRows(&export.CountRows{Table: table}) },
			Snippet: &export.Snippet{SQL: `SELECT COUNT(*) FROM "wp_""options"`},
		},
		{
			Name:    `drop table`,
			Fn:      func() (*export.Snippet, error) { return d.DropTable(&export.DropTable{Table: export.Table{Schema: `main`, Name: `t`}}) },
			Snippet: &export.Snippet{SQL: `DROP TABLE IF EXISTS "main"."t"`},
		},
		{
			Name: `insert rows`,
			Fn: func() (*export.Snippet, error) {
				return d.InsertRows(&export.InsertRows{
					Table:   export.Table{Name: `t`},
					Columns: []string{`a`, `b`},
					Rows: [][][]byte{
						{[]byte(`it's`), nil},
						{[]byte("back\\slash\n"), []byte("nul\x00")},
					},
				})
			},
			Snippet: &export.Snippet{SQL: "INSERT INTO \"t\" (\"a\",\"b\") VALUES ('it''s',NULL),('back\\slash\n',X'6e756c00')"},
		},
		{
			Name:    `header`,
			Fn:      func() (*export.Snippet, error) { return d.Header(&export.Header{}) },
			Snippet: &export.Snippet{SQL: "PRAGMA foreign_keys = OFF;\n"},
		},
		{
			Name:    `footer`,
			Fn:      func() (*export.Snippet, error) { return d.Footer(&export.Footer{}) },
			Snippet: &export.Snippet{SQL: "PRAGMA foreign_keys = ON;\n"},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			snippet, err := tc.Fn()
			if err != nil {
				t.Fatal(err)
			}
			if diff := deep.Equal(snippet, tc.Snippet); diff != nil {
				t.Error(diff)
			}
		})
	}
}

func TestDialect_nil(t *testing.T) {
	d := (*Dialect)(nil)
	if v, err := d.InsertRows(nil); err != nil || v != nil {
		t.Error(v, err)
	}
	if v, err := d.Header(nil); err != nil || v != nil {
		t.Error(v, err)
	}
	if v, err := d.SelectPage(nil); err != nil || v != nil {
		t.Error(v, err)
	}
	if v, err := d.PrimaryKey(nil); err != nil || v != nil {
		t.Error(v, err)
	}
	if v, err := d.ShowTriggers(nil); err != nil || v != nil {
		t.Error(v, err)
	}
}

const (
	testOptionsDDL = `CREATE TABLE wp_options (option_id INTEGER PRIMARY KEY, option_name TEXT NOT NULL, option_value TEXT)`
	testPostsDDL   = `CREATE TABLE wp_posts (ID INTEGER PRIMARY KEY, post_content TEXT)`
	testWidget     = `a:2:{s:3:"url";s:22:"http://old.example.com";s:4:"text";s:8:"it's old";}`
)

func TestExporter_Export_sqlite(t *testing.T) {
	db := openTestDB(
		t,
		`source.db`,
		testOptionsDDL,
		testPostsDDL,
		`INSERT INTO wp_options VALUES (1, 'siteurl', 'http://old.example.com')`,
		`INSERT INTO wp_options VALUES (2, 'widget', `+string(AppendLiteral(nil, []byte(testWidget)))+`)`,
		`INSERT INTO wp_options VALUES (3, 'empty', NULL)`,
	)

	replacer, err := replace.New(replace.Map{{Find: `old.example.com`, Replace: `new-site.example.org`}})
	if err != nil {
		t.Fatal(err)
	}

	var (
		sink     bytes.Buffer
		progress []export.Progress
		now      = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	)

	result, err := (&export.Exporter{
		Source:         &export.DatabaseSource{Reader: export.NewReader(&Dialect{}, db)},
		Dialect:        &Dialect{},
		Sink:           &sink,
		RowTransformer: export.ReplaceRows(replacer),
		Now:            func() time.Time { return now },
		SourceVersion:  `sqlite`,
		BatchSize:      2,
		OnProgress: func(p export.Progress) {
			if p.State == export.StateData {
				progress = append(progress, p)
			}
		},
	}).Export(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	expectText(t, sink.String(), `-- go-sitemigrate Database Export
-- Generated on: 2026-01-02T03:04:05Z
-- Source version: sqlite
-- Backslash escapes: off

PRAGMA foreign_keys = OFF;

-- Table structure for table wp_options

DROP TABLE IF EXISTS "wp_options";
`+testOptionsDDL+`;

-- Dumping data for table wp_options

INSERT INTO "wp_options" ("option_id","option_name","option_value") VALUES ('1','siteurl','http://new-site.example.org'),('2','widget','a:2:{s:3:"url";s:27:"http://new-site.example.org";s:4:"text";s:8:"it''s old";}');
INSERT INTO "wp_options" ("option_id","option_name","option_value") VALUES ('3','empty',NULL);

-- Table structure for table wp_posts

DROP TABLE IF EXISTS "wp_posts";
`+testPostsDDL+`;

-- Dumping data for table wp_posts


PRAGMA foreign_keys = ON;

-- Dump completed on: 2026-01-02T03:04:05Z
`)

	if diff := deep.Equal(result, &export.Result{
		Tables: []export.TableResult{
			{Table: export.Table{Name: `wp_options`}, Rows: 3},
			{Table: export.Table{Name: `wp_posts`}},
		},
		Rows:  3,
		Bytes: int64(sink.Len()),
		State: export.StateComplete,
	}); diff != nil {
		t.Error(diff)
	}

	// the first report for each table is the state change, then once per page
	var rows []int64
	for _, p := range progress {
		if p.Table.Name == `wp_options` {
			rows = append(rows, p.Rows, p.Total)
		}
	}
	if diff := deep.Equal(rows, []int64{0, -1, 2, 3, 3, 3}); diff != nil {
		t.Error(diff)
	}

	// the dump must load into a fresh database as-is
	target := openTestDB(t, `target.db`, sink.String())
	var value string
	if err := target.QueryRow(`SELECT option_value FROM wp_options WHERE option_id = 2`).Scan(&value); err != nil {
		t.Fatal(err)
	}
	v, err := phpserial.Decode([]byte(value))
	if err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(v, phpserial.Value(phpserial.Array{Entries: []phpserial.Entry{
		{Key: phpserial.NewString(`url`), Value: phpserial.NewString(`http://new-site.example.org`)},
		{Key: phpserial.NewString(`text`), Value: phpserial.NewString(`it's old`)},
	}})); diff != nil {
		t.Error(diff)
	}
}

func TestAppendLiteral(t *testing.T) {
	for _, tc := range [...]struct {
		Name     string
		Value    []byte
		Expected string
	}{
		{`nil`, nil, `NULL`},
		{`empty`, []byte{}, `''`},
		{`quotes`, []byte(`''a'`), `'''''a'''`},
		{`blob`, []byte{0, 1, 0xff}, `X'0001ff'`},
		{`invalid utf-8`, []byte{'a', 0xc3, 0x28}, `X'61c328'`},
		{`utf-8`, []byte(`café`), `'café'`},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			if actual := string(AppendLiteral(nil, tc.Value)); actual != tc.Expected {
				t.Errorf("expected %s, got %s", tc.Expected, actual)
			}
		})
	}
}

// Indexes, triggers, and the order of rows in tables without a rowid must survive a round trip.
func TestExporter_Export_sqliteSchemaObjects(t *testing.T) {
	const pages = `CREATE TABLE pages (slug TEXT NOT NULL, lang TEXT NOT NULL, title TEXT, PRIMARY KEY (lang, slug)) WITHOUT ROWID`
	source := openTestDB(t, `source.db`,
		`CREATE TABLE counts (name TEXT PRIMARY KEY, n INTEGER NOT NULL)`,
		`INSERT INTO counts VALUES ('pages', 0)`,
		pages,
		`CREATE INDEX pages_title ON pages (title)`,
		`CREATE UNIQUE INDEX pages_title_lang ON pages (title, lang)`,
		`CREATE TRIGGER pages_count AFTER INSERT ON pages BEGIN UPDATE counts SET n = n + 1 WHERE name = 'pages'; SELECT 1; END`,
		`INSERT INTO pages VALUES ('b', 'en', 'B'), ('a', 'fr', 'A fr'), ('a', 'en', 'A'), ('c', 'de', 'C')`,
	)

	var sink bytes.Buffer
	if _, err := (&export.Exporter{
		Source:    &export.DatabaseSource{Reader: export.NewReader(&Dialect{}, source)},
		Dialect:   &Dialect{},
		Sink:      &sink,
		BatchSize: 1,
	}).Export(context.Background()); err != nil {
		t.Fatal(err)
	}

	// pages are ordered by the primary key
	if i, j := bytes.Index(sink.Bytes(), []byte(`('a','en','A')`)), bytes.Index(sink.Bytes(), []byte(`('c','de','C')`)); i == -1 || j == -1 || j > i {
		t.Errorf("unexpected row order:\n%s", sink.String())
	}
	// triggers follow the data, so they don't fire on import
	if i, j := bytes.Index(sink.Bytes(), []byte(`CREATE TRIGGER pages_count`)), bytes.LastIndex(sink.Bytes(), []byte(`INSERT INTO "pages"`)); i == -1 || i < j {
		t.Errorf("unexpected trigger position:\n%s", sink.String())
	}

	target := openTestDB(t, `target.db`, sink.String())

	rows, err := target.Query(`SELECT type, name FROM sqlite_master WHERE tbl_name = 'pages' ORDER BY type, name`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var objects []string
	for rows.Next() {
		var typ, name string
		if err := rows.Scan(&typ, &name); err != nil {
			t.Fatal(err)
		}
		objects = append(objects, typ+` `+name)
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	if diff := deep.Equal(objects, []string{
		`index pages_title`,
		`index pages_title_lang`,
		`table pages`,
		`trigger pages_count`,
	}); diff != nil {
		t.Error(diff)
	}

	var n, count int64
	if err := target.QueryRow(`SELECT n FROM counts WHERE name = 'pages'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if err := target.QueryRow(`SELECT COUNT(*) FROM pages`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if n != 4 || count != 4 {
		t.Error(n, count)
	}
}
