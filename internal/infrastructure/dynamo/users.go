package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ecolens-api/internal/config"
	"github.com/ecolens-api/internal/domain"
)

// emailClaim is the user_emails item that reserves an address for one user.
type emailClaim struct {
	Email  string `dynamodbav:"email"`
	UserID string `dynamodbav:"user_id"`
}

// UserRepo provides typed DynamoDB operations for users and their email claims.
type UserRepo struct {
	client API
	tables config.DynamoTables
}

func NewUserRepo(client API, tables config.DynamoTables) *UserRepo {
	return &UserRepo{client: client, tables: tables}
}

func (r *UserRepo) Get(ctx context.Context, userID string) (*domain.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tables.Users),
		Key:            strKey(fieldUserID, userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// GetByEmail resolves the address through its claim item, which is read
// consistently, so a login right after registration sees the new account.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tables.UserEmails),
		Key:            strKey(fieldEmail, email),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	var claim emailClaim
	if err := attributevalue.UnmarshalMap(out.Item, &claim); err != nil {
		return nil, fmt.Errorf("unmarshal email claim: %w", err)
	}
	return r.Get(ctx, claim.UserID)
}

// CreateWithOTP writes the email claim, the user and the user's first code in
// a single transaction. A taken email cancels the whole write with domain.ErrConflict.
func (r *UserRepo) CreateWithOTP(ctx context.Context, u *domain.User, c *domain.OneTimeCode) error {
	userItem, err := attributevalue.MarshalMap(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	claimItem, err := attributevalue.MarshalMap(emailClaim{Email: u.Email, UserID: u.UserID})
	if err != nil {
		return fmt.Errorf("marshal email claim: %w", err)
	}

	items := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:                aws.String(r.tables.UserEmails),
			Item:                     claimItem,
			ConditionExpression:      aws.String("attribute_not_exists(#e)"),
			ExpressionAttributeNames: map[string]string{"#e": fieldEmail},
		}},
		{Put: &types.Put{
			TableName:                aws.String(r.tables.Users),
			Item:                     userItem,
			ConditionExpression:      aws.String("attribute_not_exists(#u)"),
			ExpressionAttributeNames: map[string]string{"#u": fieldUserID},
		}},
	}
	if c != nil {
		otpItem, err := attributevalue.MarshalMap(c)
		if err != nil {
			return fmt.Errorf("marshal otp: %w", err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(r.tables.OTPs),
			Item:      otpItem,
		}})
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if cancelledOnCondition(err) {
		return fmt.Errorf("email already registered: %w", domain.ErrConflict)
	}
	return err
}

// DeleteRegistration removes the user and releases the email claim.
// The claim is only released while it still points at this user.
func (r *UserRepo) DeleteRegistration(ctx context.Context, u *domain.User) error {
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{
				TableName: aws.String(r.tables.Users),
				Key:       strKey(fieldUserID, u.UserID),
			}},
			{Delete: &types.Delete{
				TableName:                 aws.String(r.tables.UserEmails),
				Key:                       strKey(fieldEmail, u.Email),
				ConditionExpression:       aws.String("attribute_not_exists(#e) OR #u = :u"),
				ExpressionAttributeNames:  map[string]string{"#e": fieldEmail, "#u": fieldUserID},
				ExpressionAttributeValues: map[string]types.AttributeValue{":u": &types.AttributeValueMemberS{Value: u.UserID}},
			}},
		},
	})
	return err
}

func (r *UserRepo) MarkVerified(ctx context.Context, userID string, at time.Time) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldIsVerified: true,
		fieldVerifiedAt: at,
		fieldUpdatedAt:  at,
	})
	if err != nil {
		return err
	}
	ue.Names["#pk"] = fieldUserID
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tables.Users),
		Key:                       strKey(fieldUserID, userID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	return err
}

// AppendToken adds an issued access token to the user's token list and
// stamps updated_at with the token's issue time.
func (r *UserRepo) AppendToken(ctx context.Context, userID string, t domain.IssuedToken) error {
	entry, err := attributevalue.Marshal([]domain.IssuedToken{t})
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	now, err := attributevalue.Marshal(t.CreatedAt.UTC())
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tables.Users),
		Key:                 strKey(fieldUserID, userID),
		UpdateExpression:    aws.String("SET #t = list_append(if_not_exists(#t, :empty), :tok), #up = :now"),
		ConditionExpression: aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{
			"#t":  fieldTokens,
			"#up": fieldUpdatedAt,
			"#pk": fieldUserID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":tok":   entry,
			":now":   now,
		},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	return err
}
