package storage

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	presence "github.com/Mayor78/mtbm-attendance-sub000"
	"github.com/Mayor78/mtbm-attendance-sub000/common"
	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

const tableCreationRetries = 3
const tableCreationWait = 3 * time.Second

// DynamoQueueStore is the queue persistence used when the gateway runs
// server-hosted instead of on a device. One table, partition key "id".
type DynamoQueueStore struct {
	client     *dynamodb.Client
	queueTable string
	logger     models.Logger
}

type queueRecord struct {
	Id        string    `dynamodbav:"id"`
	SessionId string    `dynamodbav:"sid"`
	StudentId string    `dynamodbav:"stu"`
	Code      string    `dynamodbav:"code"`
	Timestamp time.Time `dynamodbav:"ts,unixtime"`
	Attempts  int       `dynamodbav:"attempts"`
	CreatedAt time.Time `dynamodbav:"createdAt,unixtime"`
}

func toQueueRecord(item *models.QueueItem) *queueRecord {
	return &queueRecord{
		Id:        item.Id.String(),
		SessionId: item.Payload.SessionId,
		StudentId: item.Payload.StudentId,
		Code:      item.Payload.Code,
		Timestamp: item.Payload.Timestamp,
		Attempts:  item.Attempts,
		CreatedAt: item.CreatedAt,
	}
}

func (r *queueRecord) toQueueItem() (*models.QueueItem, error) {
	id, err := uuid.Parse(r.Id)
	if err != nil {
		return nil, err
	}
	return &models.QueueItem{
		Id: id,
		Payload: models.PresencePayload{
			SessionId: r.SessionId,
			StudentId: r.StudentId,
			Code:      r.Code,
			Timestamp: r.Timestamp,
		},
		Attempts:  r.Attempts,
		CreatedAt: r.CreatedAt,
	}, nil
}

func NewDynamoQueueStore(ctx context.Context, client *dynamodb.Client, logger models.Logger) (*DynamoQueueStore, error) {
	env := os.Getenv(presence.Env_Env)
	store := DynamoQueueStore{
		client:     client,
		queueTable: "presence-" + env + "-queue",
		logger:     logger,
	}
	if err := store.createQueueTable(ctx); err != nil {
		return nil, err
	}
	return &store, nil
}

func (s *DynamoQueueStore) createQueueTable(ctx context.Context) error {
	createQueueTableInput := dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("id"),
				AttributeType: "S",
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("id"),
				KeyType:       "HASH",
			},
		},
		TableName:   aws.String(s.queueTable),
		BillingMode: types.BillingModePayPerRequest,
	}
	return s.createTable(ctx, &createQueueTableInput)
}

func (s *DynamoQueueStore) createTable(ctx context.Context, createTableIn *dynamodb.CreateTableInput) error {
	if exists, err := s.tableExists(ctx, *createTableIn.TableName); !exists {
		httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
		defer httpCancel()

		if _, err = s.client.CreateTable(httpCtx, createTableIn); err != nil {
			return err
		}
		for i := 0; i < tableCreationRetries; i++ {
			if exists, err = s.tableExists(ctx, *createTableIn.TableName); exists {
				return nil
			}
			time.Sleep(tableCreationWait)
		}
		return err
	}
	return nil
}

func (s *DynamoQueueStore) tableExists(ctx context.Context, table string) (bool, error) {
	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	if output, err := s.client.DescribeTable(httpCtx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}); err != nil {
		s.logger.Infof("table does not exist: %v", table)
		return false, err
	} else {
		return output.Table.TableStatus == types.TableStatusActive, nil
	}
}

func (s *DynamoQueueStore) Load(ctx context.Context) ([]*models.QueueItem, error) {
	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	var items []*models.QueueItem
	var lastEvaluatedKey map[string]types.AttributeValue
	for {
		scanIn := dynamodb.ScanInput{
			TableName:         aws.String(s.queueTable),
			ExclusiveStartKey: lastEvaluatedKey,
		}
		scanOut, err := s.client.Scan(httpCtx, &scanIn)
		if err != nil {
			return nil, err
		}
		for _, attrs := range scanOut.Items {
			record := new(queueRecord)
			if err = attributevalue.UnmarshalMapWithOptions(attrs, record); err != nil {
				return nil, err
			}
			item, err := record.toQueueItem()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		if scanOut.LastEvaluatedKey == nil {
			break
		}
		lastEvaluatedKey = scanOut.LastEvaluatedKey
	}
	sortQueueItems(items)
	return items, nil
}

func (s *DynamoQueueStore) Put(ctx context.Context, item *models.QueueItem) error {
	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	attrs, err := attributevalue.MarshalMapWithOptions(toQueueRecord(item))
	if err != nil {
		return err
	}
	putItemIn := dynamodb.PutItemInput{
		TableName: aws.String(s.queueTable),
		Item:      attrs,
	}
	_, err = s.client.PutItem(httpCtx, &putItemIn)
	return err
}

func (s *DynamoQueueStore) Remove(ctx context.Context, id uuid.UUID) error {
	httpCtx, httpCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer httpCancel()

	deleteItemIn := dynamodb.DeleteItemInput{
		TableName: aws.String(s.queueTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id.String()},
		},
	}
	_, err := s.client.DeleteItem(httpCtx, &deleteItemIn)
	return err
}
