package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkResourcesIsUnion(t *testing.T) {
	p := &Project{ResourceIDs: []string{"r1"}}

	added := p.LinkResources([]string{"r1", "r2", "r2", ""})
	assert.Equal(t, []string{"r2"}, added)
	assert.Equal(t, []string{"r1", "r2"}, []string(p.ResourceIDs))

	added = p.LinkResources([]string{"r2", "r1"})
	assert.Empty(t, added)
	assert.Len(t, p.ResourceIDs, 2)
}

func TestOverlaps(t *testing.T) {
	p := &Project{ResourceIDs: []string{"r1", "r2"}}
	assert.True(t, p.Overlaps([]string{"r9", "r2"}))
	assert.False(t, p.Overlaps([]string{"r9"}))
	assert.False(t, (&Project{}).Overlaps([]string{"r1"}))
}
