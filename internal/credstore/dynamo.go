package credstore

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/session-gateway/internal/domain"
	"github.com/aelexs/session-gateway/internal/dynamo"
	"github.com/aelexs/session-gateway/internal/session"
)

var _ session.CredentialStore = (*DynamoStore)(nil)

// credentialsDynamoDB is the subset of the DynamoDB client the store uses.
// The *dynamodb.Client satisfies this interface.
type credentialsDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamo.DeleteItemInput, optFns ...func(*dynamo.Options)) (*dynamo.DeleteItemOutput, error)
}

// credentialsItem is the DynamoDB item shape for the credentials table.
type credentialsItem struct {
	Profile      string `dynamodbav:"profile"`
	AccessToken  string `dynamodbav:"access_token"`
	RefreshToken string `dynamodbav:"refresh_token"`
	IssuedAt     int64  `dynamodbav:"issued_at"` // unix nanoseconds
	TTL          int64  `dynamodbav:"ttl"`       // unix seconds, DynamoDB TTL attribute
}

// DynamoStore keeps one item per profile. Writes are conditional on the
// stored pair not being newer, so a slow writer cannot roll back a pair
// another process has already rotated.
type DynamoStore struct {
	db      credentialsDynamoDB
	table   string
	profile string
	ttl     time.Duration
	clock   domain.Clock
}

// NewDynamoStore creates a DynamoStore. A zero ttl uses domain.CredentialTTL.
func NewDynamoStore(db credentialsDynamoDB, table, profile string, ttl time.Duration, clock domain.Clock) *DynamoStore {
	if ttl <= 0 {
		ttl = domain.CredentialTTL
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &DynamoStore{db: db, table: table, profile: profile, ttl: ttl, clock: clock}
}

func (s *DynamoStore) key() map[string]dynamo.AttributeValue {
	return map[string]dynamo.AttributeValue{
		"profile": &dynamo.AttributeValueMemberS{Value: s.profile},
	}
}

func (s *DynamoStore) Get(ctx context.Context) (session.CredentialPair, bool, error) {
	ctx, span := tracer.Start(ctx, "dynamo.credentials.get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "GetItem"),
	)

	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName:      dynamo.String(s.table),
		Key:            s.key(),
		ConsistentRead: dynamo.Bool(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return session.CredentialPair{}, false, fmt.Errorf("credential store: get: %w: %w", domain.ErrStoreUnavailable, err)
	}
	if len(out.Item) == 0 {
		return session.CredentialPair{}, false, nil
	}

	var item credentialsItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		return session.CredentialPair{}, false, fmt.Errorf("credential store: unmarshal: %w", err)
	}
	// DynamoDB deletes expired items lazily.
	if item.TTL > 0 && s.clock.Now().Unix() >= item.TTL {
		return session.CredentialPair{}, false, nil
	}

	return session.CredentialPair{
		AccessToken:  domain.Token(item.AccessToken),
		RefreshToken: domain.Token(item.RefreshToken),
		IssuedAt:     time.Unix(0, item.IssuedAt).UTC(),
	}, true, nil
}

func (s *DynamoStore) Set(ctx context.Context, pair session.CredentialPair) error {
	ctx, span := tracer.Start(ctx, "dynamo.credentials.set")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "PutItem"),
	)

	issued := pair.IssuedAt
	if issued.IsZero() {
		issued = s.clock.Now()
	}
	item := credentialsItem{
		Profile:      s.profile,
		AccessToken:  pair.AccessToken.Reveal(),
		RefreshToken: pair.RefreshToken.Reveal(),
		IssuedAt:     issued.UnixNano(),
		TTL:          s.clock.Now().Add(s.ttl).Unix(),
	}

	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("credential store: marshal: %w", err)
	}

	cond := dynamo.AttributeNotExists(dynamo.Name("profile")).
		Or(dynamo.Name("issued_at").LessThanEqual(dynamo.Value(item.IssuedAt)))
	expr, err := dynamo.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("credential store: build condition: %w", err)
	}

	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName:                 dynamo.String(s.table),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if dynamo.IsConditionalCheckFailed(err) {
		// A newer pair is already stored; keep it.
		span.AddEvent("newer credentials already stored")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("credential store: put: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *DynamoStore) Clear(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "dynamo.credentials.clear")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "DeleteItem"),
	)

	_, err := s.db.DeleteItem(ctx, &dynamo.DeleteItemInput{
		TableName: dynamo.String(s.table),
		Key:       s.key(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("credential store: delete: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}
