package replace

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-test/deep"
	"github.com/joeycumines/go-sitemigrate/phpserial"
)

func mustNew(t testing.TB, m Map, opts ...Option) *Replacer {
	t.Helper()
	r, err := New(m, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestReplacer_Replace(t *testing.T) {
	const (
		oldHost = `old.example.com`
		oldURL  = `http://old.example.com`
		newURL  = `http://new-site.example.org`
	)
	for _, tc := range [...]struct {
		Name     string
		Map      Map
		Input    string
		Expected string
	}{
		{
			Name:     `plain`,
			Map:      Map{{oldHost, `new.example.com`}},
			Input:    `visit http://old.example.com today`,
			Expected: `visit http://new.example.com today`,
		},
		{
			Name:     `pass per pair`,
			Map:      Map{{`a`, `b`}, {`b`, `c`}},
			Input:    `ab`,
			Expected: `cc`,
		},
		{
			Name:     `pass per pair reversed`,
			Map:      Map{{`b`, `c`}, {`a`, `b`}},
			Input:    `ab`,
			Expected: `bc`,
		},
		{
			Name:     `no rescan within a pass`,
			Map:      Map{{`a`, `aa`}},
			Input:    `aba`,
			Expected: `aabaa`,
		},
		{
			Name:     `scheme then host`,
			Map:      Map{{`http://old.example.com`, `https://old.example.com`}, {oldHost, `new.example.com`}},
			Input:    `see http://old.example.com`,
			Expected: `see https://new.example.com`,
		},
		{
			Name:     `scheme then host serialized`,
			Map:      Map{{`http://old.example.com`, `https://old.example.com`}, {oldHost, `new.example.com`}},
			Input:    `a:1:{s:3:"url";s:22:"http://old.example.com";}`,
			Expected: `a:1:{s:3:"url";s:23:"https://new.example.com";}`,
		},
		{
			Name:     `earlier pair first`,
			Map:      Map{{`ab`, `X`}, {`abc`, `Y`}},
			Input:    `abcab`,
			Expected: `XcX`,
		},
		{
			Name:     `serialized same length`,
			Map:      Map{{oldHost, `new.example.com`}},
			Input:    `a:2:{s:3:"url";s:22:"http://old.example.com";s:4:"text";s:9:"old stuff";}`,
			Expected: `a:2:{s:3:"url";s:22:"http://new.example.com";s:4:"text";s:9:"old stuff";}`,
		},
		{
			Name:     `serialized length change`,
			Map:      Map{{oldURL, newURL}},
			Input:    `a:2:{s:3:"url";s:22:"http://old.example.com";s:4:"text";s:9:"old stuff";}`,
			Expected: `a:2:{s:3:"url";s:27:"http://new-site.example.org";s:4:"text";s:9:"old stuff";}`,
		},
		{
			Name:     `array keys`,
			Map:      Map{{oldHost, `example.org`}},
			Input:    `a:1:{s:15:"old.example.com";b:1;}`,
			Expected: `a:1:{s:11:"example.org";b:1;}`,
		},
		{
			Name:     `object`,
			Map:      Map{{oldHost, `example.org`}},
			Input:    `O:15:"old.example.com":2:{s:15:"old.example.com";s:15:"old.example.com";s:4:"size";i:15;}`,
			Expected: `O:15:"old.example.com":2:{s:11:"example.org";s:11:"example.org";s:4:"size";i:15;}`,
		},
		{
			Name:     `double serialized`,
			Map:      Map{{oldURL, newURL}},
			Input:    `s:40:"a:1:{i:0;s:22:"http://old.example.com";}";`,
			Expected: `s:45:"a:1:{i:0;s:27:"http://new-site.example.org";}";`,
		},
		{
			Name:     `non string leaves untouched`,
			Map:      Map{{`old`, `new`}},
			Input:    `a:3:{i:0;E:8:"old:Case";i:1;s:3:"old";i:2;d:1.0E+25;}`,
			Expected: `a:3:{i:0;E:8:"old:Case";i:1;s:3:"new";i:2;d:1.0E+25;}`,
		},
		{
			Name:     `whitespace preserved`,
			Map:      Map{{`old`, `new-1`}},
			Input:    " s:3:\"old\";\n",
			Expected: " s:5:\"new-1\";\n",
		},
		{
			Name:     `corrupt falls back to plain`,
			Map:      Map{{oldHost, `new.example.com`}},
			Input:    `s:20:"http://old.example.com";`,
			Expected: `s:20:"http://new.example.com";`,
		},
		{
			Name:     `no match`,
			Map:      Map{{oldHost, `new.example.com`}},
			Input:    `s:5:"hello";`,
			Expected: `s:5:"hello";`,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			r := mustNew(t, tc.Map)
			actual := string(r.Replace([]byte(tc.Input)))
			if actual != tc.Expected {
				t.Errorf("unexpected output\nexpected: %q\nactual: %q", tc.Expected, actual)
			}
			if phpserial.IsSerialized([]byte(tc.Input)) && !phpserial.IsSerialized([]byte(actual)) {
				t.Errorf("output is no longer serialized: %q", actual)
			}
		})
	}
}

func TestReplacer_Replace_repair(t *testing.T) {
	r := mustNew(t, Map{{`old.example.com`, `new-site.example.org`}}, WithRepair(true))
	if actual := string(r.Replace([]byte(`a:1:{i:0;s:20:"http://old.example.com";}`))); actual != `a:1:{i:0;s:27:"http://new-site.example.org";}` {
		t.Errorf("unexpected output: %q", actual)
	}
	if actual := string(r.Replace([]byte(`a:1:{i:0;x:"old.example.com";}`))); actual != `a:1:{i:0;x:"new-site.example.org";}` {
		t.Errorf("unexpected output: %q", actual)
	}
	if diff := deep.Equal(r.Stats(), Counters{Cells: 2, Serialized: 1, Repaired: 1, Fallbacks: 1}); diff != nil {
		t.Error(strings.Join(diff, "\n"))
	}
}

func TestReplacer_Replace_fastPath(t *testing.T) {
	r := mustNew(t, Map{{`find`, `replace`}})
	input := []byte(`s:5:"value";`)
	output := r.Replace(input)
	if &output[0] != &input[0] {
		t.Error(`expected input to be returned as-is`)
	}
	if diff := deep.Equal(r.Stats(), Counters{Cells: 1}); diff != nil {
		t.Error(strings.Join(diff, "\n"))
	}
}

func TestReplacer_ReplaceRow(t *testing.T) {
	r := mustNew(t, Map{{`old`, `new`}})
	columns := []string{`old_id`, `old_value`, `empty`, `serialized`}
	row := Row{
		Columns: columns,
		Values: [][]byte{
			nil,
			[]byte(`old value`),
			{},
			[]byte(`a:1:{s:3:"old";s:4:"gold";}`),
		},
	}
	actual := r.ReplaceRow(row)
	expected := Row{
		Columns: []string{`old_id`, `old_value`, `empty`, `serialized`},
		Values: [][]byte{
			nil,
			[]byte(`new value`),
			{},
			[]byte(`a:1:{s:3:"new";s:4:"gnew";}`),
		},
	}
	if diff := deep.Equal(actual, expected); diff != nil {
		t.Error(strings.Join(diff, "\n"))
	}
	if actual.Values[0] != nil {
		t.Error(`expected nil to pass through`)
	}
	if actual.Values[2] == nil {
		t.Error(`expected empty to remain non-nil`)
	}
	if string(row.Values[1]) != `old value` {
		t.Error(`input row was modified`)
	}
	if diff := deep.Equal(r.Stats(), Counters{Cells: 3, Plain: 1, Serialized: 1}); diff != nil {
		t.Error(strings.Join(diff, "\n"))
	}
}

func TestNew_emptyFind(t *testing.T) {
	if _, err := New(Map{{`a`, `b`}, {``, `c`}}); !errors.Is(err, ErrEmptyFind) {
		t.Fatalf("expected ErrEmptyFind, got %v", err)
	}
	r, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	if actual := string(r.Replace([]byte(`anything`))); actual != `anything` {
		t.Fatal(actual)
	}
}

func TestParseMap(t *testing.T) {
	for _, tc := range [...]struct {
		Name     string
		Input    []string
		Expected Map
		Err      bool
	}{
		{
			Name:     `valid`,
			Input:    []string{`a=b`, `x==y`, `del=`},
			Expected: Map{{`a`, `b`}, {`x`, `=y`}, {`del`, ``}},
		},
		{
			Name:  `missing separator`,
			Input: []string{`nope`},
			Err:   true,
		},
		{
			Name:  `empty find`,
			Input: []string{`=x`},
			Err:   true,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			m, err := ParseMap(tc.Input)
			if (err != nil) != tc.Err {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := deep.Equal(m, tc.Expected); diff != nil {
				t.Error(strings.Join(diff, "\n"))
			}
		})
	}
}

func TestMap_Reverse(t *testing.T) {
	if diff := deep.Equal(Map{{`a`, `b`}, {`c`, `d`}}.Reverse(), Map{{`d`, `c`}, {`b`, `a`}}); diff != nil {
		t.Error(strings.Join(diff, "\n"))
	}

	m := Map{{`http://old.example.com`, `https://old.example.com`}, {`old.example.com`, `new.example.com`}}
	const input = `see http://old.example.com`
	forward := mustNew(t, m).Replace([]byte(input))
	if s := string(forward); s != `see https://new.example.com` {
		t.Fatal(s)
	}
	if s := string(mustNew(t, m.Reverse()).Replace(forward)); s != input {
		t.Error(s)
	}
}

func FuzzReplacer_Replace(f *testing.F) {
	for _, s := range []string{
		`a:2:{s:3:"url";s:22:"http://old.example.com";s:4:"text";s:9:"old stuff";}`,
		`s:40:"a:1:{i:0;s:22:"http://old.example.com";}";`,
		`O:8:"stdClass":1:{s:3:"old";s:3:"old";}`,
		`old`,
	} {
		f.Add([]byte(s))
	}
	r := mustNew(f, Map{{`old`, `new-value`}, {`example`, `x`}})
	f.Fuzz(func(t *testing.T, data []byte) {
		output := r.Replace(data)
		if !phpserial.IsSerialized(data) {
			return
		}
		v, err := phpserial.Decode(phpserial.TrimSpace(output))
		if err != nil {
			t.Fatalf("replace corrupted %q: %q: %v", data, output, err)
		}
		if encoded := phpserial.Encode(v); strings.Contains(string(encoded), `old`) && !strings.Contains(string(data), `E:`) && !strings.Contains(string(data), `O:`) && !strings.Contains(string(data), `C:`) {
			t.Fatalf("replacement incomplete: %q", encoded)
		}
	})
}
