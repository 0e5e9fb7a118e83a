package data

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/backtester/internal/domain/market"
)

// fakeDynamo keeps written items in memory and pages queries two items at a time
type fakeDynamo struct {
	items     []map[string]types.AttributeValue
	queries   []*dynamodb.QueryInput
	batches   int
	unprocess int // items to bounce back on the first batch
	queryErr  error
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	f.queries = append(f.queries, in)
	start := 0
	if in.ExclusiveStartKey != nil {
		n, _ := strconv.Atoi(in.ExclusiveStartKey["offset"].(*types.AttributeValueMemberN).Value)
		start = n
	}
	end := min(start+2, len(f.items))
	out := &dynamodb.QueryOutput{Items: f.items[start:end]}
	if end < len(f.items) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"offset": &types.AttributeValueMemberN{Value: strconv.Itoa(end)},
		}
	}
	return out, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batches++
	out := &dynamodb.BatchWriteItemOutput{}
	for table, reqs := range in.RequestItems {
		if f.unprocess > 0 && len(reqs) > f.unprocess {
			out.UnprocessedItems = map[string][]types.WriteRequest{table: reqs[len(reqs)-f.unprocess:]}
			reqs = reqs[:len(reqs)-f.unprocess]
			f.unprocess = 0
		}
		for _, r := range reqs {
			f.items = append(f.items, r.PutRequest.Item)
		}
	}
	return out, nil
}

func TestDynamoSource_WriteAndLoad(t *testing.T) {
	fake := &fakeDynamo{unprocess: 2}
	src := NewDynamoSource(fake, "")
	ctx := context.Background()

	series := make(market.Series, 30)
	for i := range series {
		c := 100 + float64(i)
		series[i] = market.PricePoint{Date: day("2024-01-01").AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	require.NoError(t, src.WriteSeries(ctx, "AAPL", series))
	assert.Len(t, fake.items, 30)
	assert.Equal(t, 3, fake.batches, "two chunks plus one resubmission")

	got, err := src.Load(ctx, "AAPL", day("2024-01-05"), day("2024-01-10"))
	require.NoError(t, err)
	require.Len(t, got, 6, "range applied after the unfiltered fake pages")
	assert.Equal(t, series[4], got[0])
	assert.Equal(t, series[9], got[5])

	require.NotEmpty(t, fake.queries)
	first := fake.queries[0]
	assert.Equal(t, "daily_bars", *first.TableName)
	assert.Equal(t, "#s = :s AND #d BETWEEN :f AND :t", *first.KeyConditionExpression)
	assert.Equal(t, "date", first.ExpressionAttributeNames["#d"])
	assert.Equal(t, "2024-01-05", first.ExpressionAttributeValues[":f"].(*types.AttributeValueMemberS).Value)
	assert.Len(t, fake.queries, 15, "query follows LastEvaluatedKey")
}

func TestDynamoSource_LoadErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewDynamoSource(&fakeDynamo{}, "bars").Load(ctx, "AAPL", day("2024-01-01"), day("2024-02-01"))
	assert.ErrorIs(t, err, ErrNoData)

	_, err = NewDynamoSource(&fakeDynamo{queryErr: errors.New("throttled")}, "bars").Load(ctx, "AAPL", day("2024-01-01"), day("2024-02-01"))
	assert.ErrorContains(t, err, "throttled")

	bad := &fakeDynamo{items: []map[string]types.AttributeValue{{
		"symbol": &types.AttributeValueMemberS{Value: "AAPL"},
		"date":   &types.AttributeValueMemberS{Value: "01/02/2024"},
		"close":  &types.AttributeValueMemberN{Value: "10"},
	}}}
	_, err = NewDynamoSource(bad, "bars").Load(ctx, "AAPL", day("2024-01-01"), day("2024-02-01"))
	assert.ErrorContains(t, err, "invalid date")
}

func TestKeyCondition(t *testing.T) {
	from, to := day("2024-01-01"), day("2024-02-01")
	assert.Equal(t, "#s = :s", keyCondition(day(""), day("")))
	assert.Equal(t, "#s = :s AND #d >= :f", keyCondition(from, day("")))
	assert.Equal(t, "#s = :s AND #d <= :t", keyCondition(day(""), to))
}
