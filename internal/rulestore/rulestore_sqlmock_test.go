package rulestore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"marketdatagw/internal/metrics"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	require.NoError(t, (<-ch).Write(m))
	return m.GetCounter().GetValue()
}

// TestRecordApplicationIsSingleRoundTrip asserts that RecordApplication
// issues exactly one SQL statement to the database, proving counts and
// successRate are computed in one round-trip rather than a Go-level
// read-then-write.
func TestRecordApplicationIsSingleRoundTrip(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	dialector := postgres.New(postgres.Config{Conn: sqlDB, PreferSimpleProtocol: true})
	db, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	store := NewGormStore(db, nil)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE mapping_rules SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.RecordApplication(context.Background(), 42, true))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestFailedQueryIncrementsErrorCounter asserts that a store-level failure is
// recorded against the error taxonomy counter when the store is instrumented.
func TestFailedQueryIncrementsErrorCounter(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	dialector := postgres.New(postgres.Config{Conn: sqlDB, PreferSimpleProtocol: true})
	db, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	store := NewGormStore(db, m)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE mapping_rules SET")).
		WillReturnError(errors.New("connection reset"))

	require.Error(t, store.RecordApplication(context.Background(), 42, true))
	assert.Equal(t, float64(1), counterValue(t, m.Errors.WithLabelValues("error")))
}
