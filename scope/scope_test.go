package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalogFilter(t *testing.T) {
	catalog := NewCatalog([]string{"read", "write", "admin"})

	tests := []struct {
		name      string
		requested []string
		want      []string
	}{
		{
			name:      "all known scopes pass through",
			requested: []string{"read", "write"},
			want:      []string{"read", "write"},
		},
		{
			name:      "unknown scopes dropped silently",
			requested: []string{"write", "delete"},
			want:      []string{"write"},
		},
		{
			name:      "nothing recognized yields empty set",
			requested: []string{"delete", "impersonate"},
			want:      []string{},
		},
		{
			name:      "duplicates collapsed",
			requested: []string{"read", "read", "write"},
			want:      []string{"read", "write"},
		},
		{
			name:      "request order preserved",
			requested: []string{"admin", "read"},
			want:      []string{"admin", "read"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, catalog.Filter(tt.requested))
		})
	}
}

func TestCatalogContains(t *testing.T) {
	catalog := NewCatalog([]string{"read", "write"})

	assert.True(t, catalog.Contains("read"))
	assert.False(t, catalog.Contains("delete"))
	assert.False(t, catalog.Contains(""))
}

func TestCatalogAllReturnsCopy(t *testing.T) {
	catalog := NewCatalog([]string{"read", "write"})

	all := catalog.All()
	all[0] = "mutated"

	assert.Equal(t, []string{"read", "write"}, catalog.All())
}

func TestParse(t *testing.T) {
	assert.Equal(t, []string{"read", "write"}, Parse("read write"))
	assert.Equal(t, []string{"read"}, Parse("  read  "))
	assert.Empty(t, Parse(""))
	assert.Empty(t, Parse("   "))
}

func TestIntersect(t *testing.T) {
	// The canonical scenario: read write ∩ write delete = write
	granted := Intersect(Parse("write delete"), Parse("read write"))
	assert.Equal(t, []string{"write"}, granted)

	assert.Empty(t, Intersect(Parse("a b"), Parse("c d")))
	assert.Equal(t, []string{"a"}, Intersect(Parse("a a"), Parse("a")))
}

func TestSubset(t *testing.T) {
	assert.True(t, Subset(Parse("read"), Parse("read write")))
	assert.True(t, Subset(nil, Parse("read")))
	assert.False(t, Subset(Parse("read admin"), Parse("read write")))
}

func TestHas(t *testing.T) {
	assert.True(t, Has([]string{"read", "write"}, "write"))
	assert.False(t, Has([]string{"read"}, "write"))
	assert.True(t, Has([]string{Wildcard}, "anything"))
	assert.False(t, Has(nil, "read"))
}
