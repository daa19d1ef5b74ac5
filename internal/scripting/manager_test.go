//go:build !no_scripting

package scripting

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "scripts"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerListEmpty(t *testing.T) {
	m := newTestManager(t)
	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 0 {
		t.Errorf("list count = %d, want 0", len(scripts))
	}
}

func TestManagerSaveAndGet(t *testing.T) {
	m := newTestManager(t)
	saved, err := m.Save(&Script{
		Meta: Meta{Name: "Evening Lights", Description: "dim at night", Enabled: true},
		Code: `hue.log("hello")`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "evening_lights" {
		t.Errorf("id = %q, want evening_lights", saved.ID)
	}

	got, err := m.Get(saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta != saved.Meta {
		t.Errorf("meta = %+v, want %+v", got.Meta, saved.Meta)
	}
	if got.Code != "hue.log(\"hello\")\n" {
		t.Errorf("code = %q", got.Code)
	}

	data, err := os.ReadFile(got.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	first, _, _ := strings.Cut(string(data), "\n")
	if !strings.HasPrefix(first, `-- {"name":"Evening Lights"`) {
		t.Errorf("header = %q", first)
	}
}

func TestManagerUniqueID(t *testing.T) {
	m := newTestManager(t)
	a, _ := m.Save(&Script{Meta: Meta{Name: "Dup"}})
	b, _ := m.Save(&Script{Meta: Meta{Name: "Dup"}})
	c, _ := m.Save(&Script{Meta: Meta{Name: "Dup"}})
	if a.ID != "dup" || b.ID != "dup_1" || c.ID != "dup_2" {
		t.Errorf("ids = %s %s %s", a.ID, b.ID, c.ID)
	}

	anon, err := m.Save(&Script{Meta: Meta{Name: "???"}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(anon.ID, "script_") {
		t.Errorf("anonymous id = %q", anon.ID)
	}
}

func TestManagerListSkipsBadFiles(t *testing.T) {
	m := newTestManager(t)
	m.Save(&Script{ID: "b", Meta: Meta{Name: "B"}})
	m.Save(&Script{ID: "a", Meta: Meta{Name: "A"}})
	os.WriteFile(filepath.Join(m.dir, "broken.lua"), []byte("-- {not json\n"), 0o644)
	os.WriteFile(filepath.Join(m.dir, "plain.lua"), []byte("hue.log('x')\n"), 0o644)
	os.WriteFile(filepath.Join(m.dir, "notes.txt"), []byte("x"), 0o644)

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, s := range scripts {
		ids = append(ids, s.ID)
	}
	if strings.Join(ids, ",") != "a,b,plain" {
		t.Errorf("ids = %v, want [a b plain]", ids)
	}
	if scripts[2].Code != "hue.log('x')\n" || scripts[2].Meta.Enabled {
		t.Errorf("headerless script = %+v", scripts[2])
	}
}

func TestManagerDelete(t *testing.T) {
	m := newTestManager(t)
	s, _ := m.Save(&Script{Meta: Meta{Name: "gone"}})
	if err := m.Delete(s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete err = %v", err)
	}
	if err := m.Delete(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestManagerRejectsPathIDs(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"../x", "a/b", `a\b`, ".."} {
		if _, err := m.Get(id); err == nil {
			t.Errorf("Get(%q) accepted", id)
		}
		if _, err := m.Save(&Script{ID: id}); err == nil {
			t.Errorf("Save(%q) accepted", id)
		}
		if err := m.Delete(id); err == nil {
			t.Errorf("Delete(%q) accepted", id)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello World", "hello_world"},
		{"  Motion -> Hall  ", "motion_hall"},
		{"ÄÖÜ", ""},
		{strings.Repeat("a", 50), strings.Repeat("a", 40)},
	}
	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
