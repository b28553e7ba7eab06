package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMessagesProcessed(t *testing.T) {
	initial := testutil.ToFloat64(MessagesProcessed)
	MessagesProcessed.Inc()
	if got := testutil.ToFloat64(MessagesProcessed); got != initial+1 {
		t.Errorf("MessagesProcessed = %v, want %v", got, initial+1)
	}
}

func TestRecordParseError(t *testing.T) {
	initial := testutil.ToFloat64(ParseErrors.WithLabelValues("mime-parse-failed"))
	RecordParseError("mime-parse-failed")
	if got := testutil.ToFloat64(ParseErrors.WithLabelValues("mime-parse-failed")); got != initial+1 {
		t.Errorf("ParseErrors[mime-parse-failed] = %v, want %v", got, initial+1)
	}
}

func TestRecordQuery(t *testing.T) {
	initial := testutil.ToFloat64(QueriesExecuted.WithLabelValues("ok"))
	RecordQuery("ok", 0.01)
	if got := testutil.ToFloat64(QueriesExecuted.WithLabelValues("ok")); got != initial+1 {
		t.Errorf("QueriesExecuted[ok] = %v, want %v", got, initial+1)
	}
}

func TestRecordBatchCommit(t *testing.T) {
	initial := testutil.ToFloat64(BatchRetries)
	RecordBatchCommit(0.02, true)
	if got := testutil.ToFloat64(BatchRetries); got != initial+1 {
		t.Errorf("BatchRetries = %v, want %v", got, initial+1)
	}

	initial = testutil.ToFloat64(BatchRetries)
	RecordBatchCommit(0.02, false)
	if got := testutil.ToFloat64(BatchRetries); got != initial {
		t.Errorf("BatchRetries changed on non-retried commit: %v -> %v", initial, got)
	}
}

func TestIndexerRunningGauge(t *testing.T) {
	IndexerRunning.Set(1)
	if got := testutil.ToFloat64(IndexerRunning); got != 1 {
		t.Errorf("IndexerRunning = %v, want 1", got)
	}
	IndexerRunning.Set(0)
	if got := testutil.ToFloat64(IndexerRunning); got != 0 {
		t.Errorf("IndexerRunning = %v, want 0", got)
	}
}
