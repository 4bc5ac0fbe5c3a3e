package traceio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/histree/pkg/interval"
)

func TestRegistry_AssignsDenseQuarks(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()

	for i, name := range []string{"cpu0", "cpu1", "cpu0", "mem", "cpu1"} {
		q, err := reg.Quark(name)
		require.NoError(t, err)

		want := map[string]interval.Quark{"cpu0": 0, "cpu1": 1, "mem": 2}[name]
		assert.Equal(t, want, q, "call %d", i)
	}

	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, []string{"cpu0", "cpu1", "mem"}, reg.Names())

	name, ok := reg.Name(2)
	assert.True(t, ok)
	assert.Equal(t, "mem", name)

	_, ok = reg.Name(3)
	assert.False(t, ok)

	_, ok = reg.Lookup("disk")
	assert.False(t, ok)

	assert.Equal(t, "#9", reg.NameOr(9))
	assert.Equal(t, "cpu1", reg.NameOr(1))
}

func TestRegistry_SaveLoad(t *testing.T) {
	t.Parallel()

	path := SidecarPath(filepath.Join(t.TempDir(), "store.ht"))
	assert.True(t, strings.HasSuffix(path, "store.ht.attrs.yaml"))

	reg := NewRegistry()
	for _, name := range []string{"a", "b/c", "d e"} {
		_, err := reg.Quark(name)
		require.NoError(t, err)
	}

	id := uuid.New()
	require.NoError(t, reg.Save(path, id))

	loaded, loadedID, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, id, loadedID)
	assert.Equal(t, reg.Names(), loaded.Names())

	q, ok := loaded.Lookup("b/c")
	assert.True(t, ok)
	assert.Equal(t, interval.Quark(1), q)
}

func TestLoadRegistry_Invalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	id := uuid.New().String()

	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "attributes: [\n"},
		{"bad id", "store_id: nope\nattributes: []\n"},
		{"gap", "store_id: " + id + "\nattributes:\n  - {name: a, quark: 1}\n"},
		{"duplicate quark", "store_id: " + id + "\nattributes:\n  - {name: a, quark: 0}\n  - {name: b, quark: 0}\n"},
		{"duplicate name", "store_id: " + id + "\nattributes:\n  - {name: a, quark: 0}\n  - {name: a, quark: 1}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			_, _, err := LoadRegistry(path)
			require.ErrorIs(t, err, ErrInvalidRegistry)
		})
	}
}
