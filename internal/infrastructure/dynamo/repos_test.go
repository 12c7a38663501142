package dynamo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ecolens-api/internal/config"
	"github.com/ecolens-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockAPI struct{ mock.Mock }

func (m *mockAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}
func (m *mockAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}
func (m *mockAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}
func (m *mockAPI) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.DeleteItemOutput)
	return out, args.Error(1)
}
func (m *mockAPI) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}
func (m *mockAPI) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.TransactWriteItemsOutput)
	return out, args.Error(1)
}

// --- helpers ---

var testTables = config.DynamoTables{Users: "users", UserEmails: "user_emails", OTPs: "otps"}

func conflictErr() error {
	return &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: aws.String("ConditionalCheckFailed")}},
	}
}

// --- UserRepo ---

func TestCreateWithOTP_WritesThreeItemsAtomically(t *testing.T) {
	api := &mockAPI{}
	repo := NewUserRepo(api, testTables)
	u := &domain.User{UserID: "u1", Email: "a@b.com", Role: domain.RoleUser}
	c := &domain.OneTimeCode{UserID: "u1", Purpose: domain.PurposeEmailVerification, CodeHash: "h", ExpiresAt: 10}

	api.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
		if len(in.TransactItems) != 3 {
			return false
		}
		claim := in.TransactItems[0].Put
		return *claim.TableName == "user_emails" &&
			*claim.ConditionExpression == "attribute_not_exists(#e)" &&
			*in.TransactItems[1].Put.TableName == "users" &&
			*in.TransactItems[2].Put.TableName == "otps"
	})).Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	require.NoError(t, repo.CreateWithOTP(context.Background(), u, c))
	api.AssertExpectations(t)
}

func TestCreateWithOTP_TakenEmailIsConflict(t *testing.T) {
	api := &mockAPI{}
	repo := NewUserRepo(api, testTables)
	api.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, conflictErr())

	err := repo.CreateWithOTP(context.Background(), &domain.User{UserID: "u1", Email: "a@b.com"}, nil)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestGetByEmail_ResolvesClaim(t *testing.T) {
	api := &mockAPI{}
	repo := NewUserRepo(api, testTables)

	claim, err := attributevalue.MarshalMap(emailClaim{Email: "a@b.com", UserID: "u1"})
	require.NoError(t, err)
	user, err := attributevalue.MarshalMap(domain.User{UserID: "u1", Email: "a@b.com", IsVerified: true})
	require.NoError(t, err)

	api.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return *in.TableName == "user_emails"
	})).Return(&dynamodb.GetItemOutput{Item: claim}, nil)
	api.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return *in.TableName == "users"
	})).Return(&dynamodb.GetItemOutput{Item: user}, nil)

	u, err := repo.GetByEmail(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.UserID)
	assert.True(t, u.IsVerified)
}

func TestGetByEmail_NotFound(t *testing.T) {
	api := &mockAPI{}
	repo := NewUserRepo(api, testTables)
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := repo.GetByEmail(context.Background(), "nobody@b.com")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestMarkVerified_MissingUser(t *testing.T) {
	api := &mockAPI{}
	repo := NewUserRepo(api, testTables)
	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return *in.ConditionExpression == "attribute_exists(#pk)" && in.ExpressionAttributeNames["#pk"] == "user_id"
	})).Return(nil, &types.ConditionalCheckFailedException{})

	err := repo.MarkVerified(context.Background(), "u1", time.Now())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCreateWithOTP_NewUserHasNoNullTokens(t *testing.T) {
	api := &mockAPI{}
	repo := NewUserRepo(api, testTables)
	u := &domain.User{UserID: "u1", Email: "a@b.com", Role: domain.RoleUser}

	var written map[string]types.AttributeValue
	api.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			in := args.Get(1).(*dynamodb.TransactWriteItemsInput)
			written = in.TransactItems[1].Put.Item
		}).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	require.NoError(t, repo.CreateWithOTP(context.Background(), u, nil))
	require.NotNil(t, written)
	if tok, ok := written["tokens"]; ok {
		_, isList := tok.(*types.AttributeValueMemberL)
		assert.True(t, isList, "tokens must be absent or a list, got %T", tok)
	}
	_, isNull := written["tokens"].(*types.AttributeValueMemberNULL)
	assert.False(t, isNull)
}

func TestAppendToken_UsesListAppend(t *testing.T) {
	api := &mockAPI{}
	repo := NewUserRepo(api, testTables)
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	want, err := attributevalue.Marshal(issued)
	require.NoError(t, err)

	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return *in.UpdateExpression == "SET #t = list_append(if_not_exists(#t, :empty), :tok), #up = :now" &&
			assert.ObjectsAreEqual(want, in.ExpressionAttributeValues[":now"])
	})).Return(&dynamodb.UpdateItemOutput{}, nil)

	require.NoError(t, repo.AppendToken(context.Background(), "u1", domain.IssuedToken{Token: "t", CreatedAt: issued}))
	api.AssertExpectations(t)
}

// --- OTPRepo ---

func TestOTPRepo_ConsumeLostRace(t *testing.T) {
	api := &mockAPI{}
	repo := NewOTPRepo(api, "otps")
	api.On("DeleteItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.DeleteItemInput) bool {
		h, ok := in.ExpressionAttributeValues[":h"].(*types.AttributeValueMemberS)
		return ok && h.Value == "hash" && *in.ConditionExpression == "#h = :h"
	})).Return(nil, &types.ConditionalCheckFailedException{})

	err := repo.Consume(context.Background(), "u1", domain.PurposeEmailVerification, "hash")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestOTPRepo_IncrementAttempts(t *testing.T) {
	api := &mockAPI{}
	repo := NewOTPRepo(api, "otps")
	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return *in.UpdateExpression == "ADD #a :one"
	})).Return(&dynamodb.UpdateItemOutput{}, nil).Once()
	api.On("UpdateItem", mock.Anything, mock.Anything).Return(nil, &types.ConditionalCheckFailedException{}).Once()

	require.NoError(t, repo.IncrementAttempts(context.Background(), "u1", domain.PurposeEmailVerification))
	err := repo.IncrementAttempts(context.Background(), "u1", domain.PurposeEmailVerification)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestOTPRepo_GetRoundTrip(t *testing.T) {
	api := &mockAPI{}
	repo := NewOTPRepo(api, "otps")
	stored := domain.OneTimeCode{UserID: "u1", Purpose: domain.PurposeEmailVerification, CodeHash: "h", ExpiresAt: 42, Attempts: 3}
	item, err := attributevalue.MarshalMap(stored)
	require.NoError(t, err)
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: item}, nil)

	got, err := repo.Get(context.Background(), "u1", domain.PurposeEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, "h", got.CodeHash)
	assert.Equal(t, int64(42), got.ExpiresAt)
	assert.Equal(t, 3, got.Attempts)
}

func TestOTPRepo_DeleteAll(t *testing.T) {
	api := &mockAPI{}
	repo := NewOTPRepo(api, "otps")
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		compositeKey("user_id", "u1", "type", "email_verification"),
		compositeKey("user_id", "u1", "type", "password_reset"),
	}}, nil)
	api.On("DeleteItem", mock.Anything, mock.Anything).Return(&dynamodb.DeleteItemOutput{}, nil)

	require.NoError(t, repo.DeleteAll(context.Background(), "u1"))
	api.AssertNumberOfCalls(t, "DeleteItem", 2)
}
