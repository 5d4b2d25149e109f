package pipeline

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// RequiredFields are the attributes a derived quote record must carry.
// Validation is a presence check against this list, not a schema.
var RequiredFields = []string{"id", "timestamp", "name", "price", "source_file"}

// Record is a derived quote record as the processing function writes it to the
// managed table.
type Record struct {
	ID         string  `dynamodbav:"id"`
	Timestamp  string  `dynamodbav:"timestamp"`
	Name       string  `dynamodbav:"name"`
	Price      float64 `dynamodbav:"price"`
	SourceFile string  `dynamodbav:"source_file"`
}

// MissingFields returns the required attribute names absent from the raw item,
// in RequiredFields order.
func MissingFields(item map[string]ddbtypes.AttributeValue) []string {
	var missing []string
	for _, f := range RequiredFields {
		if _, ok := item[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// DecodeRecords unmarshals raw table items into Records.
func DecodeRecords(items []map[string]ddbtypes.AttributeValue) ([]Record, error) {
	var records []Record
	if err := attributevalue.UnmarshalListOfMaps(items, &records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %v", err)
	}
	return records, nil
}
