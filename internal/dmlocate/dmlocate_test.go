package dmlocate

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/dev/mapper/vg-lv", "vg-lv"},
		{"/dev/vg/lv", "vg-lv"},
		{"vg/lv", "vg-lv"},
		{"/dev/my-vg/my-lv", "my--vg-my--lv"},
		{"my-vg/my-lv", "my--vg-my--lv"},
		{"vg-lv", "vg-lv"}, // already canonical, passed through unchanged
	}
	for _, c := range cases {
		if got := Canonicalize(c.in); got != c.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseList(t *testing.T) {
	out := []byte("vg-lv\t(254, 0)\nvg-lv-real\t(254:1)\nnot a match\n")
	l := parseList(out)
	if l["vg-lv"] != (Devnum{254, 0}) {
		t.Errorf("vg-lv devnum = %+v", l["vg-lv"])
	}
	if l["vg-lv-real"] != (Devnum{254, 1}) {
		t.Errorf("vg-lv-real devnum = %+v", l["vg-lv-real"])
	}
	if len(l) != 2 {
		t.Errorf("len(l) = %d, want 2", len(l))
	}
}

func TestParseTable(t *testing.T) {
	out := []byte("vg-lv: 0 2097152 snapshot 254:1 254:2 P 8\nvg-lv-real: 0 2097152 linear 8:16 384\n")
	tbl := parseTable(out)
	entries := tbl["vg-lv"]
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Type != "snapshot" {
		t.Errorf("Type = %q, want snapshot", e.Type)
	}
	want := []string{"254:1", "254:2", "P", "8"}
	if len(e.Args) != len(want) {
		t.Fatalf("Args = %v, want %v", e.Args, want)
	}
	for i := range want {
		if e.Args[i] != want[i] {
			t.Errorf("Args[%d] = %q, want %q", i, e.Args[i], want[i])
		}
	}
}

func TestListByDevnum(t *testing.T) {
	l := list{"vg-lv-real": {254, 1}, "vg-other": {254, 2}}
	name, ok := l.byDevnum(Devnum{254, 1})
	if !ok || name != "vg-lv-real" {
		t.Errorf("byDevnum = %q, %v, want vg-lv-real, true", name, ok)
	}
	if _, ok := l.byDevnum(Devnum{99, 99}); ok {
		t.Errorf("byDevnum unexpectedly found a match for an unknown devnum")
	}
}

func TestMapperPath(t *testing.T) {
	if got, want := MapperPath("vg-lv"), "/dev/mapper/vg-lv"; got != want {
		t.Errorf("MapperPath = %q, want %q", got, want)
	}
}
