package enrich_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/listing-enricher/internal/enrich"
	"github.com/shpitdev/listing-enricher/pkg/pipeline/core"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	got, err := enrich.Decode("openai", "```json\n"+`{
		"NewTitle": " Seiko Automatic Watch ",
		"NewDescription": "Vintage watch.",
		"ItemSpecifics": {"Brand": "Seiko", "Case Size": 1.5, "Water Resistant": true, "Features": ["Date", "Luminous"], "Model": null}
	}`+"\n```")
	require.NoError(t, err)
	assert.Equal(t, "Seiko Automatic Watch", got.Title)
	assert.Equal(t, "Vintage watch.", got.Description)
	assert.Equal(t, map[string]string{
		"Brand":           "Seiko",
		"Case Size":       "1.5",
		"Water Resistant": "true",
		"Features":        "Date, Luminous",
		"Model":           "",
	}, got.Attributes)
}

func TestDecodeFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":           "  ",
		"not json":        "sorry, I cannot help",
		"missing title":   `{"NewDescription":"d"}`,
		"missing desc":    `{"NewTitle":"t"}`,
		"title not text":  `{"NewTitle":1,"NewDescription":"d"}`,
		"specifics array": `{"NewTitle":"t","NewDescription":"d","ItemSpecifics":[1]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := enrich.Decode("gemini", payload)
			require.Error(t, err)
			var de *core.DecodeError
			assert.ErrorAs(t, err, &de)
			assert.Equal(t, "decode", core.Stage(err))
			assert.False(t, core.IsRateLimited(err))
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `{"a":1}`, enrich.StripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, enrich.StripCodeFence("```{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, enrich.StripCodeFence(` {"a":1} `))
}
