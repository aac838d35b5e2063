package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

const tableCreateWait = 2 * time.Minute

// dynamoBackend stores one item per player keyed by the canonical id.
type dynamoBackend struct {
	cfg    DynamoConfig
	client *dynamodb.Client
}

func newDynamoBackend(cfg DynamoConfig) *dynamoBackend {
	return &dynamoBackend{cfg: cfg}
}

func (b *dynamoBackend) Name() BackendType {
	return BackendDynamo
}

func (b *dynamoBackend) Open(ctx context.Context) error {
	if err := b.cfg.validate(); err != nil {
		return err
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(b.cfg.Region))
	if b.cfg.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(b.cfg.Endpoint))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return newError(KindDriverUnavailable, fmt.Errorf("loading AWS config: %w", err))
	}
	client := dynamodb.NewFromConfig(awsCfg)

	if err := b.ensureTable(ctx, client); err != nil {
		return newError(KindConnectionFailed, err)
	}
	b.client = client
	return nil
}

func (b *dynamoBackend) ensureTable(ctx context.Context, client *dynamodb.Client) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.cfg.Table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("DescribeTable: %w", err)
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(b.cfg.Table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return fmt.Errorf("CreateTable: %w", err)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(b.cfg.Table)}, tableCreateWait); err != nil {
		return fmt.Errorf("waiting for table %s: %w", b.cfg.Table, err)
	}
	return nil
}

func (b *dynamoBackend) key(id uuid.UUID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id.String()},
	}
}

func (b *dynamoBackend) Get(ctx context.Context, id uuid.UUID) (Record, bool, error) {
	if b.client == nil {
		return Record{}, false, fmt.Errorf("storage is not configured")
	}
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.cfg.Table),
		Key:            b.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("GetItem: %w", err)
	}
	if out.Item == nil {
		return Record{}, false, nil
	}

	rec, err := unmarshalRecord(id, out.Item)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (b *dynamoBackend) Upsert(ctx context.Context, id uuid.UUID, excluded bool, at time.Time) error {
	if b.client == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := b.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(b.cfg.Table),
		Key:              b.key(id),
		UpdateExpression: aws.String("SET excluded = :e, updated_at = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":e":   &types.AttributeValueMemberBOOL{Value: excluded},
			":now": &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("UpdateItem: %w", err)
	}
	return nil
}

func (b *dynamoBackend) Count(ctx context.Context) (int, error) {
	if b.client == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	p := dynamodb.NewScanPaginator(b.client, &dynamodb.ScanInput{
		TableName: aws.String(b.cfg.Table),
		Select:    types.SelectCount,
	})
	total := 0
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("Scan: %w", err)
		}
		total += int(page.Count)
	}
	return total, nil
}

// Close is a no-op; the SDK client holds no long-lived connection state.
func (b *dynamoBackend) Close() error {
	return nil
}

// unmarshalRecord extracts the preference fields from a DynamoDB item.
func unmarshalRecord(id uuid.UUID, item map[string]types.AttributeValue) (Record, error) {
	rec := Record{ID: id, Excluded: true}

	if attr, ok := item["excluded"]; ok {
		v, ok := attr.(*types.AttributeValueMemberBOOL)
		if !ok {
			return Record{}, fmt.Errorf("excluded attribute is not a bool")
		}
		rec.Excluded = v.Value
	}
	if attr, ok := item["updated_at"]; ok {
		v, ok := attr.(*types.AttributeValueMemberS)
		if !ok {
			return Record{}, fmt.Errorf("updated_at attribute is not a string")
		}
		t, err := time.Parse(time.RFC3339Nano, v.Value)
		if err != nil {
			return Record{}, fmt.Errorf("parse updated_at: %w", err)
		}
		rec.UpdatedAt = t
	}
	return rec, nil
}
