package runner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/infra/genclient"
	"github.com/slideforge/slideforge/internal/infra/metrics"
	"github.com/slideforge/slideforge/internal/logger"
)

func TestRunner_StreamEventMetrics(t *testing.T) {
	t.Run("Should count each streamed event once", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "event: progress\ndata: {\"progress\":40}\n\n")
			fmt.Fprint(w, "event: complete\ndata: {\"file_path\":\"/tmp/m.pptx\"}\n\n")
		}))
		defer srv.Close()

		f := setup(t, 1, nil)
		client := genclient.New(genclient.Config{BaseURL: srv.URL}, logger.NewForTests())
		progress := metrics.StreamEvents.WithLabelValues("progress")
		file := metrics.StreamEvents.WithLabelValues("file")
		beforeProgress := testutil.ToFloat64(progress)
		beforeFile := testutil.ToFloat64(file)

		out := New(client, f.store, f.pub, logger.NewForTests()).Run(context.Background(), f.job(0), nil)
		require.NoError(t, out.Err)

		assert.Equal(t, 1.0, testutil.ToFloat64(progress)-beforeProgress)
		assert.Equal(t, 1.0, testutil.ToFloat64(file)-beforeFile)
	})

	t.Run("Should count events from the mock generator", func(t *testing.T) {
		f := setup(t, 1, func(int, domain.GenerateRequest) []domain.Event {
			return []domain.Event{domain.ProgressEvent{Progress: 40}, domain.FileEvent{FilePath: "/tmp/m.pptx"}}
		})
		progress := metrics.StreamEvents.WithLabelValues("progress")
		before := testutil.ToFloat64(progress)

		out := f.runner().Run(context.Background(), f.job(0), nil)
		require.NoError(t, out.Err)
		assert.Equal(t, 1.0, testutil.ToFloat64(progress)-before)
	})
}
