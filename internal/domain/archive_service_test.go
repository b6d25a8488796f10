package domain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Vovarama1992/voice_turn/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type putCall struct {
	key         string
	data        []byte
	contentType string
}

type fakeS3 struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, key string, data []byte, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, putCall{key: key, data: data, contentType: contentType})
	return "https://s3.local/bucket/" + key, nil
}

func TestArchiveService_UploadsBothSides(t *testing.T) {
	s3 := &fakeS3{}
	svc := NewArchiveService(s3, zaptest.NewLogger(t).Sugar())

	rec := ports.TurnRecord{
		Key:          "k1",
		Outcome:      ports.OutcomeCompleted,
		StartedAt:    time.Date(2024, 3, 5, 23, 0, 0, 0, time.UTC),
		AudioIn:      []byte("in"),
		AudioInType:  "audio/wav",
		AudioInExt:   "wav",
		AudioOut:     []byte("out"),
		AudioOutType: "audio/mpeg",
	}
	require.NoError(t, svc.Archive(context.Background(), rec))

	require.Len(t, s3.calls, 2)
	assert.Equal(t, "2024-03-05/k1/in.wav", s3.calls[0].key)
	assert.Equal(t, "audio/wav", s3.calls[0].contentType)
	assert.Equal(t, "2024-03-05/k1/out.mp3", s3.calls[1].key)
	assert.Equal(t, []byte("out"), s3.calls[1].data)
}

func TestArchiveService_PropagatesUploadError(t *testing.T) {
	svc := NewArchiveService(&fakeS3{err: errors.New("denied")}, zaptest.NewLogger(t).Sugar())
	err := svc.Archive(context.Background(), ports.TurnRecord{Key: "k", AudioIn: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload recording")
}

func TestArchiveService_SkipsUnfinishedTurns(t *testing.T) {
	s3 := &fakeS3{}
	svc := NewArchiveService(s3, zaptest.NewLogger(t).Sugar())
	svc.RecordTurn(ports.TurnRecord{Key: "k", Outcome: ports.OutcomeCancelled, AudioIn: []byte("x")})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, s3.calls)
}
