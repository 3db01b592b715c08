package doc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		dotted  string
		fanOut  bool
		wantErr bool
	}{
		{"single field", "amount", "amount", false, false},
		{"nested", "status.name", "status.name", false, false},
		{"array segment", "items[].sku", "items.sku", true, false},
		{"array tail", "items[]", "items", true, false},
		{"nested array", "order.lines[].qty", "order.lines.qty", true, false},
		{"empty", "", "", false, true},
		{"empty segment", "a..b", "", false, true},
		{"two arrays", "a[].b[].c", "", false, true},
		{"bare marker", "[].a", "", false, true},
		{"stray bracket", "a[0].b", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePath(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrPathSyntax)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dotted, p.Dotted())
			assert.Equal(t, tt.fanOut, p.FanOut())
			assert.Equal(t, tt.in, p.String())
		})
	}
}

func TestArrayField(t *testing.T) {
	array, rest := MustPath("order.lines[].item.sku").ArrayField()
	assert.Equal(t, "order.lines", array)
	assert.Equal(t, "item.sku", rest)

	array, rest = MustPath("status.name").ArrayField()
	assert.Empty(t, array)
	assert.Empty(t, rest)
}

func TestNestedPath(t *testing.T) {
	assert.Equal(t, "items[].sku", NestedPath("items", "sku"))
	assert.Equal(t, "sku", NestedPath("", "sku"))
}

func TestGet(t *testing.T) {
	d := Document{
		"status": map[string]any{"name": "Approved"},
		"amount": 100,
		"empty":  nil,
		"items": []any{
			map[string]any{"sku": "A", "qty": 1},
			map[string]any{"sku": "B"},
			"not-an-object",
		},
		"tags": []any{"x", "y"},
	}

	t.Run("scalar", func(t *testing.T) {
		v, ok := Get(d, MustPath("amount"))
		require.True(t, ok)
		assert.Equal(t, 100, v)
	})

	t.Run("nested object", func(t *testing.T) {
		v, ok := Get(d, MustPath("status.name"))
		require.True(t, ok)
		assert.Equal(t, "Approved", v)
	})

	t.Run("explicit null is present", func(t *testing.T) {
		v, ok := Get(d, MustPath("empty"))
		assert.True(t, ok)
		assert.Nil(t, v)
	})

	t.Run("missing intermediate is absent", func(t *testing.T) {
		_, ok := Get(d, MustPath("customer.name"))
		assert.False(t, ok)
	})

	t.Run("through scalar is absent", func(t *testing.T) {
		_, ok := Get(d, MustPath("amount.value"))
		assert.False(t, ok)
	})

	t.Run("fan-out", func(t *testing.T) {
		v, ok := Get(d, MustPath("items[].qty"))
		require.True(t, ok)
		assert.Equal(t, []any{1, nil, nil}, v)
	})

	t.Run("fan-out of elements", func(t *testing.T) {
		v, ok := Get(d, MustPath("tags[]"))
		require.True(t, ok)
		assert.Equal(t, []any{"x", "y"}, v)
	})

	t.Run("fan-out over missing array", func(t *testing.T) {
		_, ok := Get(d, MustPath("lines[].sku"))
		assert.False(t, ok)
	})

	t.Run("fan-out over non-list", func(t *testing.T) {
		_, ok := Get(d, MustPath("status[].name"))
		assert.False(t, ok)
	})

	t.Run("zero path", func(t *testing.T) {
		_, ok := Get(d, Path{})
		assert.False(t, ok)
	})
}

func TestSet(t *testing.T) {
	t.Run("creates intermediates", func(t *testing.T) {
		d := Document{}
		require.NoError(t, Set(d, MustPath("a.b.c"), 1))
		v, ok := Get(d, MustPath("a.b.c"))
		require.True(t, ok)
		assert.Equal(t, 1, v)
	})

	t.Run("keeps siblings", func(t *testing.T) {
		d := Document{"a": map[string]any{"x": 1}}
		require.NoError(t, Set(d, MustPath("a.y"), 2))
		assert.Equal(t, map[string]any{"x": 1, "y": 2}, d["a"])
	})

	t.Run("conflict with scalar", func(t *testing.T) {
		d := Document{"a": 5}
		err := Set(d, MustPath("a.b"), 1)
		assert.ErrorIs(t, err, ErrPathConflict)
	})

	t.Run("fan-out grows array", func(t *testing.T) {
		d := Document{}
		require.NoError(t, Set(d, MustPath("lines[].code"), []any{"A", "B"}))
		require.NoError(t, Set(d, MustPath("lines[].qty"), []any{1, 2}))
		assert.Equal(t, []any{
			Document{"code": "A", "qty": 1},
			Document{"code": "B", "qty": 2},
		}, d["lines"])
	})

	t.Run("fan-out preserves existing element fields", func(t *testing.T) {
		d := Document{"lines": []any{map[string]any{"uid": 7}}}
		require.NoError(t, Set(d, MustPath("lines[].code"), []any{"A"}))
		assert.Equal(t, []any{map[string]any{"uid": 7, "code": "A"}}, d["lines"])
	})

	t.Run("fan-out needs a list", func(t *testing.T) {
		err := Set(Document{}, MustPath("lines[].code"), "A")
		assert.ErrorIs(t, err, ErrPathConflict)
	})

	t.Run("fan-out whole elements", func(t *testing.T) {
		d := Document{}
		require.NoError(t, Set(d, MustPath("tags[]"), []any{"x", "y"}))
		assert.Equal(t, []any{"x", "y"}, d["tags"])
	})

	t.Run("fan-out into non-object element", func(t *testing.T) {
		d := Document{"lines": []any{"x"}}
		err := Set(d, MustPath("lines[].code"), []any{"A"})
		assert.ErrorIs(t, err, ErrPathConflict)
	})
}

func TestGetPath(t *testing.T) {
	d := Document{"a": map[string]any{"b": 1}}
	v, ok := GetPath(d, "a.b")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = GetPath(d, "a..b")
	assert.False(t, ok)
}
