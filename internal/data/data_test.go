package data

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/backtester/internal/domain/market"
)

const sampleCSV = `date,open,high,low,close,volume
2024-01-02,10,11,9,10.5,1000
2024-01-03,10.5,12,10,11.5,1500
2024-01-04,11.5,12,11,11,900
`

func day(s string) time.Time {
	d, _ := market.ParseDate(s)
	return d
}

func TestReadCSV(t *testing.T) {
	s, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, s, 3)
	assert.Equal(t, day("2024-01-03"), s[1].Date)
	assert.Equal(t, 11.5, s[1].Close)
	assert.Equal(t, 1500.0, s[1].Volume)
}

func TestReadCSV_ReorderedHeader(t *testing.T) {
	in := "Close,Date,Volume,Open,Low,High\n5,2024-02-01,10,4,3,6\n"
	s, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, s, 1)
	assert.Equal(t, market.PricePoint{Date: day("2024-02-01"), Open: 4, High: 6, Low: 3, Close: 5, Volume: 10}, s[0])
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "no price data"},
		{"missing column", "date,open,high,low,close\n", `missing column "volume"`},
		{"bad date", "date,open,high,low,close,volume\n01/02/2024,1,1,1,1,1\n", "line 2"},
		{"bad number", "date,open,high,low,close,volume\n2024-01-02,1,x,1,1,1\n", "column high"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	s, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, s))
	assert.Equal(t, sampleCSV, buf.String())
}

func TestCSVSource_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAA.csv"), []byte(sampleCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bbb.csv"), []byte(sampleCSV), 0o644))
	src := NewCSVSource(dir)

	u, err := src.LoadDir(context.Background(), day("2024-01-03"), time.Time{})
	require.NoError(t, err)
	require.Len(t, u, 2)
	assert.Len(t, u["AAA"], 2)
	assert.Len(t, u["BBB"], 2)

	_, err = src.Load(context.Background(), "ZZZ", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrNoData)

	_, err = src.Load(context.Background(), "AAA", day("2025-01-01"), time.Time{})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestCSVSource_RejectsUnorderedDates(t *testing.T) {
	dir := t.TempDir()
	bad := "date,open,high,low,close,volume\n2024-01-02,1,1,1,1,1\n2024-01-02,1,1,1,1,1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "DUP.csv"), []byte(bad), 0o644))

	_, err := NewCSVSource(dir).Load(context.Background(), "DUP", time.Time{}, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly ascending")
}

func TestNormalizeSymbols(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT"}, NormalizeSymbols([]string{" msft", "AAPL", "", "aapl"}))
}

func newMockPostgres(t *testing.T) (*PostgresSource, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewPostgresSource(sqlx.NewDb(mockDB, "postgres"), "", time.Second), mock
}

func barColumns() []string {
	return []string{"symbol", "date", "open", "high", "low", "close", "volume"}
}

func TestPostgresSource_Load(t *testing.T) {
	src, mock := newMockPostgres(t)
	rows := sqlmock.NewRows(barColumns()).
		AddRow("AAA", day("2024-01-02"), 10.0, 11.0, 9.0, 10.5, 1000.0).
		AddRow("AAA", day("2024-01-03"), 10.5, 12.0, 10.0, 11.5, 1500.0)
	mock.ExpectQuery(`SELECT symbol, date, open, high, low, close, volume\s+FROM "daily_bars"\s+WHERE symbol = \$1`).
		WithArgs("AAA", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	s, err := src.Load(context.Background(), "AAA", day("2024-01-01"), time.Time{})
	require.NoError(t, err)
	require.Len(t, s, 2)
	assert.Equal(t, 11.5, s[1].Close)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_LoadMany(t *testing.T) {
	src, mock := newMockPostgres(t)
	rows := sqlmock.NewRows(barColumns()).
		AddRow("AAA", day("2024-01-02"), 10.0, 11.0, 9.0, 10.5, 1000.0).
		AddRow("BBB", day("2024-01-02"), 20.0, 21.0, 19.0, 20.5, 500.0).
		AddRow("BBB", day("2024-01-03"), 20.5, 22.0, 20.0, 21.5, 700.0)
	mock.ExpectQuery(`WHERE symbol = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	u, err := src.LoadMany(context.Background(), []string{"bbb", "AAA"}, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, u["AAA"], 1)
	assert.Len(t, u["BBB"], 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_Errors(t *testing.T) {
	src, mock := newMockPostgres(t)
	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("connection reset"))
	_, err := src.Load(context.Background(), "AAA", time.Time{}, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows(barColumns()))
	_, err = src.Load(context.Background(), "AAA", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrNoData)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func providerHandler(t *testing.T, status *atomic.Int32, hits *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if code := int(status.Load()); code != http.StatusOK {
			http.Error(w, "unavailable", code)
			return
		}
		assert.Equal(t, "/bars/AAA", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"symbol": "AAA",
			"bars": []map[string]any{
				{"date": "2024-01-02", "open": 10, "high": 11, "low": 9, "close": 10.5, "volume": 1000},
				{"date": "2024-01-03", "open": 10.5, "high": 12, "low": 10, "close": 11.5, "volume": 1500},
			},
		})
	}
}

func newTestProvider(t *testing.T, url string) *HTTPSource {
	t.Helper()
	src, err := NewHTTPSource(ProviderConfig{BaseURL: url, APIKey: "secret", RPS: 1000, Burst: 100, FailureThreshold: 3, OpenTimeout: time.Minute}, nil)
	require.NoError(t, err)
	return src
}

func TestHTTPSource_Load(t *testing.T) {
	var status, hits atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(providerHandler(t, &status, &hits))
	defer srv.Close()

	s, err := newTestProvider(t, srv.URL).Load(context.Background(), "AAA", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, s, 2)
	assert.Equal(t, day("2024-01-03"), s[1].Date)
}

func TestHTTPSource_BreakerOpens(t *testing.T) {
	var status, hits atomic.Int32
	status.Store(http.StatusBadGateway)
	srv := httptest.NewServer(providerHandler(t, &status, &hits))
	defer srv.Close()
	src := newTestProvider(t, srv.URL)

	for i := 0; i < 3; i++ {
		_, err := src.Load(context.Background(), "AAA", time.Time{}, time.Time{})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, src.BreakerState())

	_, err := src.Load(context.Background(), "AAA", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPSource_NotFoundKeepsBreakerClosed(t *testing.T) {
	var status, hits atomic.Int32
	status.Store(http.StatusNotFound)
	srv := httptest.NewServer(providerHandler(t, &status, &hits))
	defer srv.Close()
	src := newTestProvider(t, srv.URL)

	for i := 0; i < 5; i++ {
		_, err := src.Load(context.Background(), "AAA", time.Time{}, time.Time{})
		assert.ErrorIs(t, err, ErrNoData)
	}
	assert.Equal(t, gobreaker.StateClosed, src.BreakerState())
}

func TestNewHTTPSource_RequiresURL(t *testing.T) {
	_, err := NewHTTPSource(ProviderConfig{}, nil)
	assert.Error(t, err)
}

type countingSource struct {
	calls  int
	series market.Series
}

func (c *countingSource) Name() string { return "stub" }

func (c *countingSource) Load(context.Context, string, time.Time, time.Time) (market.Series, error) {
	c.calls++
	return c.series, nil
}

func TestCachedSource(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	next := &countingSource{series: s}
	cache := NewCachedSource(next, client, time.Hour, "t:")
	key := cache.Key("AAA", day("2024-01-01"), time.Time{})
	assert.Equal(t, "t:stub:AAA:2024-01-01:-", key)

	payload, err := json.Marshal(s)
	require.NoError(t, err)

	t.Run("miss loads and stores", func(t *testing.T) {
		mock.ExpectGet(key).RedisNil()
		mock.ExpectSet(key, payload, time.Hour).SetVal("OK")

		got, err := cache.Load(context.Background(), "AAA", day("2024-01-01"), time.Time{})
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.Equal(t, 1, next.calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("hit skips the source", func(t *testing.T) {
		mock.ExpectGet(key).SetVal(string(payload))

		got, err := cache.Load(context.Background(), "AAA", day("2024-01-01"), time.Time{})
		require.NoError(t, err)
		require.Len(t, got, len(s))
		assert.True(t, s[0].Date.Equal(got[0].Date))
		assert.Equal(t, 1, next.calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis failure falls through", func(t *testing.T) {
		mock.ExpectGet(key).SetErr(errors.New("redis down"))
		mock.ExpectSet(key, payload, time.Hour).SetErr(errors.New("redis down"))

		got, err := cache.Load(context.Background(), "AAA", day("2024-01-01"), time.Time{})
		require.NoError(t, err)
		assert.Len(t, got, len(s))
		assert.Equal(t, 2, next.calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
