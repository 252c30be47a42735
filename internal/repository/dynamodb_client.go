package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"copilot-connector/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	skMeta       = "META#"
	ttlDuration  = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client writes the exchange transcript to a DynamoDB table. The transcript is
// an audit log; nothing reads it back to resume a conversation.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// turnSK returns the sort key for a turn using the given timestamp.
func turnSK(ts time.Time) string {
	return skPrefixTurn + ts.UTC().Format(time.RFC3339Nano)
}

// SaveTurn writes the turn and bumps the conversation meta in one transaction.
func (c *Client) SaveTurn(ctx context.Context, turn domain.TranscriptTurn) error {
	if strings.TrimSpace(turn.ConversationID) == "" {
		return errors.New("repository: SaveTurn: conversation id is required")
	}

	now := c.now().UTC()
	ttl := now.Add(ttlDuration).Unix()
	turn.PK = convPK(turn.ConversationID)
	turn.SK = turnSK(now)
	turn.TTL = ttl

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(turn),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: metaUpdate(c.tableName, domain.ConversationMeta{
					PK:             turn.PK,
					SK:             skMeta,
					ConversationID: turn.ConversationID,
					LastActivity:   now.Format(time.RFC3339),
					LastWatermark:  turn.Watermark,
					TTL:            ttl,
				}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

func turnItem(turn domain.TranscriptTurn) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: turn.PK},
		"SK":             &types.AttributeValueMemberS{Value: turn.SK},
		"conversationId": &types.AttributeValueMemberS{Value: turn.ConversationID},
		"query":          &types.AttributeValueMemberS{Value: turn.Query},
		"reply":          &types.AttributeValueMemberS{Value: turn.Reply},
		"hasCard":        &types.AttributeValueMemberBOOL{Value: turn.HasCard},
		"watermark":      &types.AttributeValueMemberS{Value: turn.Watermark},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.TTL, 10)},
	}
	if turn.CorrelationID != "" {
		item["correlationId"] = &types.AttributeValueMemberS{Value: turn.CorrelationID}
	}
	return item
}

// metaUpdate increments the turn counter atomically, creating the record on
// the first turn.
func metaUpdate(table string, meta domain.ConversationMeta) *types.Update {
	return &types.Update{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: meta.PK},
			"SK": &types.AttributeValueMemberS{Value: meta.SK},
		},
		UpdateExpression: aws.String("SET conversationId = :cid, lastActivity = :ts, lastWatermark = :wm, #ttl = :ttl " +
			"ADD turns :one"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: meta.ConversationID},
			":ts":  &types.AttributeValueMemberS{Value: meta.LastActivity},
			":wm":  &types.AttributeValueMemberS{Value: meta.LastWatermark},
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(meta.TTL, 10)},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	}
}
