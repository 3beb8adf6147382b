package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
)

func TestStoreSummaryUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSummaryStoreWithPool(mock, "")
	require.NoError(t, err)

	run := crawler.RunInfo{
		ID:         "0190a7a4-0000-7000-8000-000000000000",
		Domain:     "example.com",
		StartURL:   "https://example.com/",
		FinishedAt: time.Unix(1700000000, 0).UTC(),
	}
	summary := crawler.Summary{
		PagesTotal: 3,
		CrawlSecs:  12.5,
		BytesTotal: 300,
		CharsTotal: 290,
		WordsTotal: 50,
		AvgWordsPg: 16.67,
		Langs:      []string{"en", "fr"},
		Reason:     crawler.ReasonFinished,
	}

	mock.ExpectExec("INSERT INTO crawl_summaries").
		WithArgs(
			run.ID,
			run.Domain,
			run.StartURL,
			run.FinishedAt,
			summary.Reason,
			summary.PagesTotal,
			summary.CrawlSecs,
			summary.BytesTotal,
			summary.CharsTotal,
			summary.WordsTotal,
			summary.AvgWordsPg,
			summary.Langs,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.StoreSummary(context.Background(), run, summary))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSummaryNilLangs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSummaryStoreWithPool(mock, "summaries")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO summaries").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), []string{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.StoreSummary(context.Background(), crawler.RunInfo{ID: "run-1"}, crawler.Summary{Reason: crawler.ReasonShutdown})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSummaryErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSummaryStoreWithPool(mock, "")
	require.NoError(t, err)

	err = store.StoreSummary(context.Background(), crawler.RunInfo{}, crawler.Summary{})
	require.Error(t, err)

	mock.ExpectExec("INSERT INTO crawl_summaries").WillReturnError(errors.New("connection reset"))
	err = store.StoreSummary(context.Background(), crawler.RunInfo{ID: "run-1"}, crawler.Summary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSummaryStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_summaries").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConstructorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewSummaryStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewSummaryStoreWithPool(mock, "bad-name;")
	require.Error(t, err)

	_, err = NewSummaryStore(context.Background(), SummaryStoreConfig{})
	require.Error(t, err)
}
