package data

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backtester/internal/domain/market"
)

// batchWriteLimit is the item cap of one BatchWriteItem call
const batchWriteLimit = 25

// DynamoConfig selects a table keyed by symbol (partition) and date (sort, YYYY-MM-DD)
type DynamoConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // e.g. http://localhost:8000 for DynamoDB Local
}

// DefaultDynamoConfig returns the default table name
func DefaultDynamoConfig() DynamoConfig {
	return DynamoConfig{Table: "daily_bars"}
}

// dynamoAPI is the subset of the DynamoDB client the source calls
type dynamoAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// dynamoBar is one item of the bars table
type dynamoBar struct {
	Symbol string  `dynamodbav:"symbol"`
	Date   string  `dynamodbav:"date"`
	Open   float64 `dynamodbav:"open"`
	High   float64 `dynamodbav:"high"`
	Low    float64 `dynamodbav:"low"`
	Close  float64 `dynamodbav:"close"`
	Volume float64 `dynamodbav:"volume"`
}

// DynamoSource reads daily bars from DynamoDB
type DynamoSource struct {
	client dynamoAPI
	table  string
}

// OpenDynamo loads the default AWS credential chain
func OpenDynamo(ctx context.Context, cfg DynamoConfig) (*DynamoSource, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewDynamoSource(client, cfg.Table), nil
}

// NewDynamoSource wraps an existing client
func NewDynamoSource(client dynamoAPI, table string) *DynamoSource {
	if table == "" {
		table = "daily_bars"
	}
	return &DynamoSource{client: client, table: table}
}

// Name identifies the source in logs and errors
func (d *DynamoSource) Name() string { return "dynamodb" }

// Load queries one symbol's partition; the sort key keeps dates ascending
func (d *DynamoSource) Load(ctx context.Context, symbol string, from, to time.Time) (market.Series, error) {
	in := &dynamodb.QueryInput{
		TableName:                aws.String(d.table),
		KeyConditionExpression:   aws.String(keyCondition(from, to)),
		ExpressionAttributeNames: map[string]string{"#s": "symbol"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: symbol},
		},
		ScanIndexForward: aws.Bool(true),
	}
	// "date" is a reserved word
	if !from.IsZero() || !to.IsZero() {
		in.ExpressionAttributeNames["#d"] = "date"
	}
	if !from.IsZero() {
		in.ExpressionAttributeValues[":f"] = &types.AttributeValueMemberS{Value: from.Format(market.DateLayout)}
	}
	if !to.IsZero() {
		in.ExpressionAttributeValues[":t"] = &types.AttributeValueMemberS{Value: to.Format(market.DateLayout)}
	}

	var s market.Series
	for {
		out, err := d.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("failed to query bars for %s: %w", symbol, err)
		}
		var page []dynamoBar
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bars for %s: %w", symbol, err)
		}
		for _, b := range page {
			date, err := market.ParseDate(b.Date)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", symbol, err)
			}
			s = append(s, market.PricePoint{Date: date, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	log.Debug().Str("symbol", symbol).Int("bars", len(s)).Msg("loaded dynamodb series")
	return finish(symbol, s, time.Time{}, time.Time{})
}

func keyCondition(from, to time.Time) string {
	switch {
	case !from.IsZero() && !to.IsZero():
		return "#s = :s AND #d BETWEEN :f AND :t"
	case !from.IsZero():
		return "#s = :s AND #d >= :f"
	case !to.IsZero():
		return "#s = :s AND #d <= :t"
	default:
		return "#s = :s"
	}
}

// WriteSeries upserts a series in batches of 25, resubmitting unprocessed items
func (d *DynamoSource) WriteSeries(ctx context.Context, symbol string, s market.Series) error {
	for start := 0; start < len(s); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(s))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, p := range s[start:end] {
			item, err := attributevalue.MarshalMap(dynamoBar{
				Symbol: symbol,
				Date:   p.Date.Format(market.DateLayout),
				Open:   p.Open,
				High:   p.High,
				Low:    p.Low,
				Close:  p.Close,
				Volume: p.Volume,
			})
			if err != nil {
				return fmt.Errorf("failed to marshal %s bar: %w", symbol, err)
			}
			reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		}
		if err := d.batchWrite(ctx, map[string][]types.WriteRequest{d.table: reqs}); err != nil {
			return fmt.Errorf("failed to write %s bars: %w", symbol, err)
		}
	}
	log.Info().Str("symbol", symbol).Int("bars", len(s)).Str("table", d.table).Msg("series written to dynamodb")
	return nil
}

func (d *DynamoSource) batchWrite(ctx context.Context, items map[string][]types.WriteRequest) error {
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: items})
		if err != nil {
			return err
		}
		if len(out.UnprocessedItems) == 0 {
			return nil
		}
		items = out.UnprocessedItems
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%d items still unprocessed after retries", len(items[d.table]))
}
