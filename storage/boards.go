package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/microsoft/vsts-extension-retrospectives-sub000/logging"
)

// FeedbackBoardStorage is the document store client for boards.
// One collection per team: all boards of a team share the team id as
// partition key.
type FeedbackBoardStorage interface {
	Create(ctx context.Context, board *FeedbackBoard) error
	Get(ctx context.Context, teamID, boardID string) (*FeedbackBoard, error)
	GetAll(ctx context.Context, teamID string) ([]*FeedbackBoard, error)
	Update(ctx context.Context, board *FeedbackBoard) error
	Delete(ctx context.Context, teamID, boardID string) error
}

type DynamoFeedbackBoardStorage struct {
	Client    *dynamodb.Client
	TableName string
}

func (s *DynamoFeedbackBoardStorage) Create(ctx context.Context, board *FeedbackBoard) error {
	if board.CreatedAt.IsZero() {
		board.CreatedAt = time.Now().UTC()
	}
	board.Rev = 1

	doc, err := attributevalue.MarshalMap(board)
	if err != nil {
		logging.Log.Errorf("BOARD: failed to marshal board: %v", err)
		return err
	}

	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.TableName,
		Item:                doc,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		logging.Log.Errorf("BOARD: failed to create board %s: %v", board.ID, err)
		if isConditionalCheckFailed(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *DynamoFeedbackBoardStorage) Get(ctx context.Context, teamID, boardID string) (*FeedbackBoard, error) {
	out, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.TableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: teamID},
			"SK": &types.AttributeValueMemberS{Value: boardID},
		},
	})
	if err != nil {
		logging.Log.Errorf("BOARD: GET storage failed: %v", err)
		return nil, err
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var board *FeedbackBoard
	if err := attributevalue.UnmarshalMap(out.Item, &board); err != nil {
		logging.Log.Errorf("BOARD: failed to unmarshal result: %v", err)
		return nil, err
	}
	return board, nil
}

func (s *DynamoFeedbackBoardStorage) GetAll(ctx context.Context, teamID string) ([]*FeedbackBoard, error) {
	out, err := s.Client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.TableName,
		KeyConditionExpression: aws.String("PK = :team"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":team": &types.AttributeValueMemberS{Value: teamID},
		},
	})
	if err != nil {
		logging.Log.Errorf("BOARD: failed to query boards for team %s: %v", teamID, err)
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, ErrCollectionMissing
	}

	var boards []*FeedbackBoard
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &boards); err != nil {
		logging.Log.Errorf("BOARD: failed to unmarshal board list: %v", err)
		return nil, err
	}
	return boards, nil
}

func (s *DynamoFeedbackBoardStorage) Update(ctx context.Context, board *FeedbackBoard) error {
	prev := board.Rev
	board.Rev = prev + 1

	doc, err := attributevalue.MarshalMap(board)
	if err != nil {
		board.Rev = prev
		logging.Log.Errorf("BOARD: failed to marshal board: %v", err)
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
		board.Rev = prev
		logging.Log.Errorf("BOARD: failed to update board %s: %v", board.ID, err)
		if isConditionalCheckFailed(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *DynamoFeedbackBoardStorage) Delete(ctx context.Context, teamID, boardID string) error {
	_, err := s.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.TableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: teamID},
			"SK": &types.AttributeValueMemberS{Value: boardID},
		},
	})
	if err != nil {
		logging.Log.Errorf("BOARD: DEL storage item failed: %v", err)
		return err
	}
	return nil
}
