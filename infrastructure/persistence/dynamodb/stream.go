package dynamodb

import (
	"fmt"
	"strings"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/monorist/monorise/application/ports"
	"github.com/monorist/monorise/domain/keys"
	"github.com/monorist/monorise/infrastructure/persistence/table"
)

const mutualReplicationPrefix = "MUTUAL#"

// DecodeStreamRecord turns a DynamoDB stream record of the table into a
// replication record. Entity metadata and mutual items are decoded into their
// domain types as well.
func DecodeStreamRecord(rec awsevents.DynamoDBEventRecord) (ports.ReplicationRecord, error) {
	out := ports.ReplicationRecord{
		EventID:   rec.EventID,
		EventName: rec.EventName,
		ChangedAt: rec.Change.ApproximateCreationDateTime.Time,
	}

	newImage, err := streamImage(rec.Change.NewImage)
	if err != nil {
		return out, fmt.Errorf("new image: %w", err)
	}
	oldImage, err := streamImage(rec.Change.OldImage)
	if err != nil {
		return out, fmt.Errorf("old image: %w", err)
	}
	keyImage, err := streamImage(rec.Change.Keys)
	if err != nil {
		return out, fmt.Errorf("keys: %w", err)
	}

	if out.NewImage, err = plainImage(newImage); err != nil {
		return out, err
	}
	if out.OldImage, err = plainImage(oldImage); err != nil {
		return out, err
	}
	out.PK = stringAttr(keyImage, keys.AttrPK)
	out.SK = stringAttr(keyImage, keys.AttrSK)

	if len(newImage) == 0 {
		return out, nil
	}
	switch {
	case out.SK == keys.MetadataSK:
		item, err := unmarshalItem[EntityItem](newImage)
		if err != nil {
			return out, err
		}
		out.Entity = item.toEntity()
	case strings.HasPrefix(stringAttr(newImage, keys.AttrR2PK), mutualReplicationPrefix):
		item, err := unmarshalItem[MutualItem](newImage)
		if err != nil {
			return out, err
		}
		out.Mutual = item.toMutual()
	}
	return out, nil
}

func streamImage(image map[string]awsevents.DynamoDBAttributeValue) (table.Item, error) {
	if len(image) == 0 {
		return nil, nil
	}
	item := make(table.Item, len(image))
	for name, value := range image {
		av, err := streamValue(value)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		item[name] = av
	}
	return item, nil
}

func streamValue(v awsevents.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch v.DataType() {
	case awsevents.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}, nil
	case awsevents.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}, nil
	case awsevents.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}, nil
	case awsevents.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case awsevents.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}, nil
	case awsevents.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}, nil
	case awsevents.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}, nil
	case awsevents.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}, nil
	case awsevents.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, 0, len(list))
		for _, elem := range list {
			av, err := streamValue(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, av)
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	case awsevents.DataTypeMap:
		m, err := streamImage(v.Map())
		if err != nil {
			return nil, err
		}
		if m == nil {
			m = table.Item{}
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	}
	return nil, fmt.Errorf("unsupported stream data type %v", v.DataType())
}

func plainImage(item table.Item) (map[string]interface{}, error) {
	if len(item) == 0 {
		return nil, nil
	}
	var out map[string]interface{}
	if err := attributevalue.UnmarshalMap(item, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal image: %w", err)
	}
	return out, nil
}

func stringAttr(item table.Item, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}
