package enrich_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/listing-enricher/internal/enrich"
)

func TestBuildPromptIncludesReferenceAndRules(t *testing.T) {
	t.Parallel()

	p := enrich.BuildPrompt(" セイコー 腕時計 ", "送料無料。ケース径 38cm", []string{"Brand", "Case Size"})
	assert.Contains(t, p, "Reference title: セイコー 腕時計\n")
	assert.Contains(t, p, "Reference description: 送料無料。ケース径 38cm\n")
	assert.Contains(t, p, "Item specifics: Brand, Case Size\n")
	assert.Contains(t, p, "80 characters")
	assert.Contains(t, p, `"N/A"`)
	assert.Contains(t, p, "inches")
}

func TestResponseSchemaListsAttributes(t *testing.T) {
	t.Parallel()

	s := enrich.ResponseSchema([]string{"Brand", "Color"})
	props, ok := s["properties"].(map[string]any)
	require.True(t, ok)
	specifics, ok := props["ItemSpecifics"].(map[string]any)
	require.True(t, ok)
	attrProps, ok := specifics["properties"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, attrProps, 2)
	assert.Contains(t, attrProps, "Brand")
	assert.Contains(t, attrProps, "Color")
	assert.Equal(t, []string{"NewTitle", "NewDescription"}, s["required"])
}

func TestImageDataURI(t *testing.T) {
	t.Parallel()

	img := &enrich.Image{Data: []byte{0xff, 0xd8, 0xff}}
	assert.Equal(t, "data:image/jpeg;base64,/9j/", img.DataURI())
}
