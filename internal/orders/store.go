package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/imrishuroy/go-orderflow-workflow/internal/aws"
)

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// CreateWithIdempotencyTransaction atomically creates:
//   - idempotency record in idempotencyTable (with ConditionExpression attribute_not_exists(idempotency_key))
//   - order record in orders table
//
// It marshals both items and issues a TransactWriteItems call.
// idempotencyItem must be a serializable struct with attribute idempotency_key present.
// order is the Order struct to persist; order.OrderID must be set by caller.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, dynamo aws.DynamoDBAPI, idempotencyTable string, idempotencyItem interface{}, order Order, ttlWindow time.Duration) error {
	// marshal idempotency item
	idempMap, err := attributevalue.MarshalMap(idempotencyItem)
	if err != nil {
		return fmt.Errorf("marshal idempotency item: %w", err)
	}
	// ensure idempotency TTL if needed: caller can include expires_at field; if not present, add it
	if _, ok := idempMap["expires_at"]; !ok && ttlWindow > 0 {
		expires := time.Now().Add(ttlWindow).Unix()
		idempMap["expires_at"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expires)}
	}

	// marshal order item
	// set CreatedAt/UpdatedAt if empty
	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	// build transact items: Put idempotency with condition, Put order in orders table
	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &idempotencyTable,
				Item:                idempMap,
				ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
			},
		},
		{
			Put: &types.Put{
				TableName: &s.tableName,
				Item:      orderMap,
				// we could guard here if needed: ConditionExpression attribute_not_exists(order_id)
			},
		},
	}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	}

	_, err = dynamo.TransactWriteItems(ctx, input)
	if err != nil {
		// detect transaction canceled / conditional failure
		var tce *types.TransactionCanceledException
		var api smithy.APIError
		if errors.As(err, &tce) || (errors.As(err, &api) && api.ErrorCode() == "TransactionCanceledException") {
			return fmt.Errorf("transaction canceled (likely idempotency key exists): %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       orderKey(orderID),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ErrStatusMismatch is returned by UpdateStatus when the order is not in the expected status.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// ErrNotFound is returned when the order does not exist.
var ErrNotFound = errors.New("order not found")

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns nil on success, ErrStatusMismatch if condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if conditionFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// SetStatus unconditionally sets the order status. Setting the same status
// twice is not an error. Returns ErrNotFound if the order does not exist.
func (s *Store) SetStatus(ctx context.Context, orderID, status string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new": &types.AttributeValueMemberS{Value: status},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("attribute_exists(order_id)"),
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		if conditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("update item (set status): %w", err)
	}
	return nil
}

// ErrInstanceRecorded is returned by RecordInstance when the order already
// carries a workflow instance.
var ErrInstanceRecorded = errors.New("workflow instance already recorded")

// MergeMetadata sets each of fields inside the order's metadata map. Only the
// named keys are written, so concurrent writers of different keys never drop
// each other's values; writers of the same key are last-write-wins. Returns
// the updated order, or ErrNotFound.
func (s *Store) MergeMetadata(ctx context.Context, orderID string, fields map[string]string) (*Order, error) {
	return s.setMetadata(ctx, orderID, fields, nil, "")
}

// RecordInstance writes fields like MergeMetadata, but only while metadata
// has no instanceKey entry. Keys in defaults are written only when absent, so
// a stage reported by a fast worker is not rolled back. It returns
// ErrInstanceRecorded when another writer got there first, or ErrNotFound.
func (s *Store) RecordInstance(ctx context.Context, orderID, instanceKey string, fields, defaults map[string]string) (*Order, error) {
	order, err := s.setMetadata(ctx, orderID, fields, defaults, instanceKey)
	if errors.Is(err, errConditionFailed) {
		current, getErr := s.Get(ctx, orderID)
		if getErr != nil {
			return nil, getErr
		}
		if current == nil {
			return nil, ErrNotFound
		}
		return current, ErrInstanceRecorded
	}
	return order, err
}

var errConditionFailed = errors.New("metadata condition failed")

func (s *Store) setMetadata(ctx context.Context, orderID string, fields, defaults map[string]string, absentKey string) (*Order, error) {
	if err := s.ensureMetadata(ctx, orderID); err != nil {
		return nil, err
	}

	now := s.nowFunc()
	names := map[string]string{}
	values := map[string]types.AttributeValue{
		":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
	}
	var sets []string
	for i, k := range sortedKeys(fields) {
		name, value := fmt.Sprintf("#k%d", i), fmt.Sprintf(":v%d", i)
		names[name] = k
		values[value] = &types.AttributeValueMemberS{Value: fields[k]}
		sets = append(sets, fmt.Sprintf("metadata.%s = %s", name, value))
	}
	for i, k := range sortedKeys(defaults) {
		if _, ok := fields[k]; ok {
			continue
		}
		name, value := fmt.Sprintf("#d%d", i), fmt.Sprintf(":d%d", i)
		names[name] = k
		values[value] = &types.AttributeValueMemberS{Value: defaults[k]}
		sets = append(sets, fmt.Sprintf("metadata.%s = if_not_exists(metadata.%s, %s)", name, name, value))
	}
	sets = append(sets, "updated_at = :ua")

	condition := "attribute_exists(order_id)"
	if absentKey != "" {
		names["#guard"] = absentKey
		condition += " AND attribute_not_exists(metadata.#guard)"
	}

	input := &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       orderKey(orderID),
		UpdateExpression:          awsString("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       awsString(condition),
		ReturnValues:              types.ReturnValueAllNew,
	}

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if conditionFailed(err) {
			if absentKey != "" {
				return nil, errConditionFailed
			}
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update item (metadata): %w", err)
	}

	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ensureMetadata creates an empty metadata map so nested paths can be set.
func (s *Store) ensureMetadata(ctx context.Context, orderID string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              orderKey(orderID),
		UpdateExpression: awsString("SET metadata = if_not_exists(metadata, :empty)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}},
		},
		ConditionExpression: awsString("attribute_exists(order_id)"),
	})
	if err != nil {
		if conditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("update item (init metadata): %w", err)
	}
	return nil
}

// IncrementAttempts increases the attempts counter by 1. The trigger uses it
// to count how many times a process start was attempted for an order.
func (s *Store) IncrementAttempts(ctx context.Context, orderID string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       orderKey(orderID),
		UpdateExpression:          awsString("SET attempts = if_not_exists(attempts, :zero) + :inc, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":zero": &types.AttributeValueMemberN{Value: "0"}, ":inc": &types.AttributeValueMemberN{Value: "1"}, ":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)}},
		ReturnValues:              types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }

// conditionFailed reports whether err is a DynamoDB conditional check failure,
// either as the typed exception or as a bare API error code.
func conditionFailed(err error) bool {
	var cc *types.ConditionalCheckFailedException
	if errors.As(err, &cc) {
		return true
	}
	var api smithy.APIError
	return errors.As(err, &api) && api.ErrorCode() == "ConditionalCheckFailedException"
}
