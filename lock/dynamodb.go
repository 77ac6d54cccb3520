package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Compile time check to ensure DynamoDB satisfies the Locker interface.
var _ Locker = (*DynamoDB)(nil)

// DDBClient is the subset of the DynamoDB API the locker needs.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBOptions configures a DynamoDB locker.
type DynamoDBOptions struct {
	// LeaseDuration is how long a lease is valid without renewal. Expired
	// leases may be taken over by other owners.
	LeaseDuration time.Duration

	// RenewInterval is how often a held lease is extended. Zero disables
	// renewal.
	RenewInterval time.Duration

	// PollInterval is the delay between attempts on a held lock.
	PollInterval time.Duration

	// Logger receives renewal and release failures.
	Logger *slog.Logger

	// Now returns the current time.
	Now func() time.Time
}

// DynamoDB locks keys with lease rows in a DynamoDB table.
//
// Table schema:
//   - Partition key: lock_key (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name localvec-locks \
//	  --attribute-definitions AttributeName=lock_key,AttributeType=S \
//	  --key-schema AttributeName=lock_key,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type DynamoDB struct {
	client DDBClient
	table  string
	opts   DynamoDBOptions
}

// NewDynamoDB returns a locker using table.
func NewDynamoDB(client DDBClient, table string, optFns ...func(o *DynamoDBOptions)) *DynamoDB {
	opts := DynamoDBOptions{
		LeaseDuration: 30 * time.Second,
		RenewInterval: 10 * time.Second,
		PollInterval:  100 * time.Millisecond,
		Now:           time.Now,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}

	return &DynamoDB{client: client, table: table, opts: opts}
}

func (d *DynamoDB) millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (d *DynamoDB) tryAcquire(ctx context.Context, key, owner string) (bool, error) {
	now := d.opts.Now()

	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item: map[string]types.AttributeValue{
			"lock_key":   &types.AttributeValueMemberS{Value: key},
			"owner":      &types.AttributeValueMemberS{Value: owner},
			"expires_at": &types.AttributeValueMemberN{Value: d.millis(now.Add(d.opts.LeaseDuration))},
		},
		ConditionExpression: aws.String("attribute_not_exists(lock_key) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: d.millis(now)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}

		return false, fmt.Errorf("lock: put lease: %w", err)
	}

	return true, nil
}

func (d *DynamoDB) renew(ctx context.Context, key, owner string) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"lock_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    aws.String("SET expires_at = :exp"),
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":exp":   &types.AttributeValueMemberN{Value: d.millis(d.opts.Now().Add(d.opts.LeaseDuration))},
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})

	return err
}

func (d *DynamoDB) release(ctx context.Context, key, owner string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"lock_key": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		// The lease expired and was taken over.
		return nil
	}

	return err
}

// Lock acquires key. While held, the lease is renewed in the background.
func (d *DynamoDB) Lock(ctx context.Context, key string) (func(), error) {
	owner := uuid.NewString()

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := d.tryAcquire(ctx, key, owner)
		if err != nil {
			return nil, err
		}

		if ok {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, timeout(ctx, key)
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		if d.opts.RenewInterval <= 0 {
			<-stop
			return
		}

		t := time.NewTicker(d.opts.RenewInterval)
		defer t.Stop()

		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if err := d.renew(context.Background(), key, owner); err != nil {
					d.opts.Logger.Warn("lease renewal failed", "key", key, "error", err)
				}
			}
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() {
			close(stop)
			<-done

			if err := d.release(context.Background(), key, owner); err != nil {
				d.opts.Logger.Warn("lease release failed", "key", key, "error", err)
			}
		})
	}, nil
}
