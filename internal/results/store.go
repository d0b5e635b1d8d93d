package results

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"

	"github.com/loanly/loanly-platform/pkg/logging"
)

// Record is one finalized interview outcome. The table is append-only: one
// record per finalized session, never updated.
type Record struct {
	ID              string `dynamodbav:"id" json:"id"`
	Name            string `dynamodbav:"name" json:"name"`
	PhoneNumber     string `dynamodbav:"phoneNumber" json:"phone_number"`
	ApplicationType string `dynamodbav:"applicationType" json:"application_type"`
	Decision        string `dynamodbav:"decision" json:"decision"`
	AnsweredCount   int    `dynamodbav:"answeredCount" json:"answered_count"`
	CallSID         string `dynamodbav:"callSid,omitempty" json:"call_sid,omitempty"`
	CreatedAt       string `dynamodbav:"createdAt" json:"created_at"`
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Store appends result records to DynamoDB.
type Store struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewStore builds a store backed by the provided DynamoDB client.
func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("results: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("results: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Append persists one record. Missing ID and CreatedAt are filled in.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("results: record required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("results: marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("results: put record: %w", err)
	}

	s.logger.Info("result persisted",
		"phone_number", rec.PhoneNumber,
		"application_type", rec.ApplicationType,
		"decision", rec.Decision,
	)
	return nil
}
