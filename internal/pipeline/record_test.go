package pipeline_test

import (
	"testing"

	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedpipe/feedpipe/internal/pipeline"
)

func fullItem() map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"id":          &ddbtypes.AttributeValueMemberS{Value: "8e6e8e1a"},
		"timestamp":   &ddbtypes.AttributeValueMemberS{Value: "2025-05-01T12:00:00Z"},
		"name":        &ddbtypes.AttributeValueMemberS{Value: "ACME Corp"},
		"price":       &ddbtypes.AttributeValueMemberN{Value: "101.25"},
		"source_file": &ddbtypes.AttributeValueMemberS{Value: "sample-quotes.csv"},
	}
}

func TestMissingFields(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		drop []string

		want []string
	}{
		"Complete record":        {},
		"Missing price":          {drop: []string{"price"}, want: []string{"price"}},
		"Missing source file":    {drop: []string{"source_file"}, want: []string{"source_file"}},
		"Missing several fields": {drop: []string{"id", "timestamp"}, want: []string{"id", "timestamp"}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			item := fullItem()
			for _, f := range tc.drop {
				delete(item, f)
			}

			assert.Equal(t, tc.want, pipeline.MissingFields(item))
		})
	}
}

func TestMissingFieldsIgnoresExtraAttributes(t *testing.T) {
	t.Parallel()

	item := fullItem()
	item["currency"] = &ddbtypes.AttributeValueMemberS{Value: "USD"}

	assert.Empty(t, pipeline.MissingFields(item), "extra attributes must not be flagged")
}

func TestDecodeRecords(t *testing.T) {
	t.Parallel()

	records, err := pipeline.DecodeRecords([]map[string]ddbtypes.AttributeValue{fullItem()})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "8e6e8e1a", records[0].ID)
	assert.Equal(t, "ACME Corp", records[0].Name)
	assert.InDelta(t, 101.25, records[0].Price, 0.001)
	assert.Equal(t, "sample-quotes.csv", records[0].SourceFile)
}
