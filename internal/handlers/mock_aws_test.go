package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// mockDynamo keeps items per table keyed by order_id or idempotency_key and
// understands the update placeholders used by the orders and idempotency stores.
type mockDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) table(name string) map[string]map[string]types.AttributeValue {
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = map[string]map[string]types.AttributeValue{}
	}
	return m.tables[name]
}

func primaryKey(attrs map[string]types.AttributeValue) (string, error) {
	for _, k := range []string{"idempotency_key", "order_id"} {
		if v, ok := attrs[k].(*types.AttributeValueMemberS); ok {
			return v.Value, nil
		}
	}
	return "", errors.New("no primary key")
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, err := primaryKey(params.Item)
	if err != nil {
		return nil, err
	}
	m.table(*params.TableName)[pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, err := primaryKey(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table(*params.TableName)[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

var placeholderAttrs = map[string]string{
	":new":    "status",
	":done":   "status",
	":failed": "status",
	":rb":     "response_body",
	":rs":     "response_status",
	":n":      "note",
	":ua":     "updated_at",
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, err := primaryKey(params.Key)
	if err != nil {
		return nil, err
	}
	tbl := m.table(*params.TableName)
	item, exists := tbl[pk]
	if params.ConditionExpression != nil {
		switch *params.ConditionExpression {
		case "attribute_exists(order_id)":
			if !exists {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case "attribute_exists(order_id) AND attribute_not_exists(metadata.#guard)":
			if !exists || metadataHasKey(item, params.ExpressionAttributeNames["#guard"]) {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case "#s = :expected":
			curr, _ := item["status"].(*types.AttributeValueMemberS)
			want := params.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS)
			if !exists || curr == nil || curr.Value != want.Value {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}
	if !exists {
		item = map[string]types.AttributeValue{}
		for k, v := range params.Key {
			item[k] = v
		}
	}
	for placeholder, attr := range placeholderAttrs {
		if v, ok := params.ExpressionAttributeValues[placeholder]; ok {
			item[attr] = v
		}
	}
	applyMetadataUpdate(item, params)
	tbl[pk] = item
	return &dyn.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

// applyMetadataUpdate mirrors the nested metadata paths orders.Store writes:
// #kN = :vN always, #dN = :dN only when absent, :empty initialises the map.
func applyMetadataUpdate(item map[string]types.AttributeValue, in *dyn.UpdateItemInput) {
	vals := in.ExpressionAttributeValues
	if v, ok := vals[":empty"]; ok {
		if _, has := item["metadata"]; !has {
			item["metadata"] = v
		}
	}
	meta := map[string]types.AttributeValue{}
	if m, ok := item["metadata"].(*types.AttributeValueMemberM); ok {
		for k, v := range m.Value {
			meta[k] = v
		}
	}
	changed := false
	for name, key := range in.ExpressionAttributeNames {
		switch {
		case strings.HasPrefix(name, "#k"):
			meta[key] = vals[":v"+name[2:]]
			changed = true
		case strings.HasPrefix(name, "#d"):
			if _, set := meta[key]; !set {
				meta[key] = vals[":d"+name[2:]]
				changed = true
			}
		}
	}
	if changed {
		item["metadata"] = &types.AttributeValueMemberM{Value: meta}
	}
}

func metadataHasKey(item map[string]types.AttributeValue, key string) bool {
	meta, ok := item["metadata"].(*types.AttributeValueMemberM)
	if !ok {
		return false
	}
	_, set := meta.Value[key]
	return set
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range params.TransactItems {
		p := it.Put
		if p == nil || p.ConditionExpression == nil {
			continue
		}
		pk, err := primaryKey(p.Item)
		if err != nil {
			return nil, err
		}
		if _, exists := m.table(*p.TableName)[pk]; exists {
			return nil, &types.TransactionCanceledException{}
		}
	}
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			pk, err := primaryKey(p.Item)
			if err != nil {
				return nil, err
			}
			m.table(*p.TableName)[pk] = p.Item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

type mockSQS struct {
	mu     sync.Mutex
	inputs []*sqs.SendMessageInput
	err    error
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}
