package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ecolens-api/internal/domain"
)

// OTPRepo manages one-time codes.
// PK: user_id, SK: type. expires_at is the table's TTL attribute.
type OTPRepo struct {
	client    API
	tableName string
}

func NewOTPRepo(client API, tableName string) *OTPRepo {
	return &OTPRepo{client: client, tableName: tableName}
}

// Upsert replaces the (user, purpose) record in one PutItem.
func (r *OTPRepo) Upsert(ctx context.Context, c *domain.OneTimeCode) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal otp: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *OTPRepo) Get(ctx context.Context, userID string, purpose domain.OTPPurpose) (*domain.OneTimeCode, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            r.key(userID, purpose),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("otp not found: %w", domain.ErrNotFound)
	}
	var c domain.OneTimeCode
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal otp: %w", err)
	}
	return &c, nil
}

// IncrementAttempts bumps the counter atomically. A missing record yields domain.ErrNotFound.
func (r *OTPRepo) IncrementAttempts(ctx context.Context, userID string, purpose domain.OTPPurpose) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      r.key(userID, purpose),
		UpdateExpression:         aws.String("ADD #a :one"),
		ConditionExpression:      aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#a": fieldAttempts, "#pk": fieldUserID},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("otp not found: %w", domain.ErrNotFound)
	}
	return err
}

// Consume deletes the record only if it still carries codeHash.
func (r *OTPRepo) Consume(ctx context.Context, userID string, purpose domain.OTPPurpose, codeHash string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      r.key(userID, purpose),
		ConditionExpression:      aws.String("#h = :h"),
		ExpressionAttributeNames: map[string]string{"#h": fieldCodeHash},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": &types.AttributeValueMemberS{Value: codeHash},
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("otp already consumed: %w", domain.ErrNotFound)
	}
	return err
}

func (r *OTPRepo) Delete(ctx context.Context, userID string, purpose domain.OTPPurpose) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(userID, purpose),
	})
	return err
}

// DeleteAll removes every purpose stored for userID.
func (r *OTPRepo) DeleteAll(ctx context.Context, userID string) error {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(r.tableName),
		KeyConditionExpression:   aws.String("#pk = :u"),
		ProjectionExpression:     aws.String("#pk, #t"),
		ExpressionAttributeNames: map[string]string{"#pk": fieldUserID, "#t": fieldType},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return err
	}
	for _, item := range out.Items {
		t, ok := item[fieldType].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		if err := r.Delete(ctx, userID, domain.OTPPurpose(t.Value)); err != nil {
			return fmt.Errorf("delete %s otp: %w", t.Value, err)
		}
	}
	return nil
}

func (r *OTPRepo) key(userID string, purpose domain.OTPPurpose) map[string]types.AttributeValue {
	return compositeKey(fieldUserID, userID, fieldType, string(purpose))
}
