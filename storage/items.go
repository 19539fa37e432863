package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/logging"
)

// FeedbackItemStorage is the document store client for feedback items.
// One collection per board: all items of a board share the board id as
// partition key. Update is optimistic: it fails with ErrConflict when the
// stored revision no longer matches the one the caller read.
type FeedbackItemStorage interface {
	Create(ctx context.Context, item *FeedbackItem) error
	Get(ctx context.Context, boardID, itemID string) (*FeedbackItem, error)
	GetAll(ctx context.Context, boardID string) ([]*FeedbackItem, error)
	Update(ctx context.Context, item *FeedbackItem) error
	Delete(ctx context.Context, boardID, itemID string) error
}

type DynamoFeedbackItemStorage struct {
	Client    *dynamodb.Client
	TableName string
}

func (s *DynamoFeedbackItemStorage) Create(ctx context.Context, item *FeedbackItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.Rev = 1

	doc, err := attributevalue.MarshalMap(item)
	if err != nil {
		logging.Log.Errorf("ITEM: failed to marshal item: %v", err)
		return err
	}

	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.TableName,
		Item:                doc,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		logging.Log.Errorf("ITEM: failed to create item %s: %v", item.ID, err)
		if isConditionalCheckFailed(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *DynamoFeedbackItemStorage) Get(ctx context.Context, boardID, itemID string) (*FeedbackItem, error) {
	out, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.TableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: boardID},
			"SK": &types.AttributeValueMemberS{Value: itemID},
		},
	})
	if err != nil {
		logging.Log.Errorf("ITEM: GET storage failed: %v", err)
		return nil, err
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var item *FeedbackItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		logging.Log.Errorf("ITEM: failed to unmarshal result: %v", err)
		return nil, err
	}
	return item, nil
}

func (s *DynamoFeedbackItemStorage) GetAll(ctx context.Context, boardID string) ([]*FeedbackItem, error) {
	out, err := s.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.TableName,
		KeyConditionExpression: aws.String("PK = :board"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":board": &types.AttributeValueMemberS{Value: boardID},
		},
	})
	if err != nil {
		logging.Log.Errorf("ITEM: failed to query items for board %s: %v", boardID, err)
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, ErrCollectionMissing
	}

	var items []*FeedbackItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		logging.Log.Errorf("ITEM: failed to unmarshal item list: %v", err)
		return nil, err
	}
	return items, nil
}

func (s *DynamoFeedbackItemStorage) Update(ctx context.Context, item *FeedbackItem) error {
	prev := item.Rev
	item.Rev = prev + 1

	doc, err := attributevalue.MarshalMap(item)
	if err != nil {
		item.Rev = prev
		logging.Log.Errorf("ITEM: failed to marshal item: %v", err)
		return err
	}

	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.TableName,
		Item:                doc,
		ConditionExpression: aws.String("Rev = :prev"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberN{Value: strconv.Itoa(prev)},
		},
	})
	if err != nil {
		item.Rev = prev
		logging.Log.Errorf("ITEM: failed to update item %s: %v", item.ID, err)
		if isConditionalCheckFailed(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *DynamoFeedbackItemStorage) Delete(ctx context.Context, boardID, itemID string) error {
	_, err := s.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.TableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: boardID},
			"SK": &types.AttributeValueMemberS{Value: itemID},
		},
	})
	if err != nil {
		logging.Log.Errorf("ITEM: DEL storage item failed: %v", err)
		return err
	}
	return nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
