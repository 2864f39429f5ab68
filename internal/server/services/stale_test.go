package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dmitrijs2005/postboard/internal/logging"
	"github.com/dmitrijs2005/postboard/internal/server/models"
	"github.com/dmitrijs2005/postboard/internal/server/monitoring"
)

func TestStaleReporter_Check(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	rm := newFakeRepoManager()
	m, err := monitoring.New()
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.StalePendingAfter = 15 * time.Minute
	r := NewStaleReporter(nil, rm, cfg, logging.NewZapLogger(zap.New(core)), m)
	r.now = func() time.Time { return fixedNow }

	old := rm.attachments.add(models.Attachment{PostID: 1, StorageKey: "k1", Status: models.AttachmentPending, CreatedAt: fixedNow.Add(-time.Hour)})
	rm.attachments.add(models.Attachment{PostID: 1, StorageKey: "k2", Status: models.AttachmentPending, CreatedAt: fixedNow.Add(-time.Minute)})
	rm.attachments.add(models.Attachment{PostID: 1, StorageKey: "k3", Status: models.AttachmentReady, CreatedAt: fixedNow.Add(-time.Hour)})

	n, err := r.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries := logs.FilterMessage("attachment stuck in PENDING").All()
	require.Len(t, entries, 1)
	assert.Equal(t, old.ID, entries[0].ContextMap()["attachment_id"])

	// reporting never changes records
	assert.Equal(t, models.AttachmentPending, rm.attachments.get(old.ID).Status)
}

func TestStaleReporter_RunStopsOnCancel(t *testing.T) {
	rm := newFakeRepoManager()
	cfg := testConfig(t)
	cfg.StaleCheckInterval = time.Millisecond
	r := NewStaleReporter(nil, rm, cfg, logging.Nop{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
