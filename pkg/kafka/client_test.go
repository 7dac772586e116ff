package kafka

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/M4ORE/fda-ai-device-analyst/pkg/database"
	"github.com/M4ORE/fda-ai-device-analyst/pkg/tasks"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetchResult struct {
	msg kafkago.Message
	err error
}

// fakeReader replays a scripted sequence of fetch results and records
// committed offsets. Once the script runs out it reports io.EOF, which
// ends the consume loop.
type fakeReader struct {
	fetches   []fetchResult
	committed []kafkago.Message
}

func (f *fakeReader) FetchMessage(_ context.Context) (kafkago.Message, error) {
	if len(f.fetches) == 0 {
		return kafkago.Message{}, io.EOF
	}
	next := f.fetches[0]
	f.fetches = f.fetches[1:]
	return next.msg, next.err
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error { return nil }

type fakeProcessor struct {
	processed []tasks.ReindexTask
	err       error
}

func (p *fakeProcessor) ProcessReindex(_ context.Context, task tasks.ReindexTask) error {
	p.processed = append(p.processed, task)
	return p.err
}

func withTestRedis(t *testing.T) {
	t.Helper()
	mr := miniredis.RunT(t)
	prev := database.RDB
	database.RDB = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { database.RDB = prev })
}

func taskMessage(offset int64, submission string) kafkago.Message {
	return kafkago.Message{
		Offset: offset,
		Value:  []byte(`{"submission_number":"` + submission + `","reason":"updated"}`),
	}
}

func TestConsumeSurvivesTransientFetchErrors(t *testing.T) {
	withTestRedis(t)
	r := &fakeReader{fetches: []fetchResult{
		{err: errors.New("broker unavailable")},
		{err: errors.New("rebalance in progress")},
		{msg: taskMessage(7, "K250001")},
	}}
	p := &fakeProcessor{}

	consume(r, p, time.Millisecond)

	require.Len(t, p.processed, 1)
	assert.Equal(t, "K250001", p.processed[0].SubmissionNumber)
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(7), r.committed[0].Offset)
}

func TestConsumeStopsOnCancelledContext(t *testing.T) {
	withTestRedis(t)
	r := &fakeReader{fetches: []fetchResult{{err: context.Canceled}}}
	p := &fakeProcessor{}

	consume(r, p, time.Millisecond)

	assert.Empty(t, p.processed)
	assert.Empty(t, r.committed)
}

func TestConsumeCommitsMalformedMessage(t *testing.T) {
	withTestRedis(t)
	r := &fakeReader{fetches: []fetchResult{
		{msg: kafkago.Message{Offset: 3, Value: []byte("not json")}},
	}}
	p := &fakeProcessor{}

	consume(r, p, time.Millisecond)

	assert.Empty(t, p.processed, "malformed messages are skipped, not processed")
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(3), r.committed[0].Offset)
}

func TestConsumeCapsRedelivery(t *testing.T) {
	withTestRedis(t)
	// The same poisoned task redelivered three times. The first two
	// failures leave the offset uncommitted; the third commits it so the
	// topic is not blocked.
	m := taskMessage(11, "K259999")
	r := &fakeReader{fetches: []fetchResult{{msg: m}, {msg: m}, {msg: m}}}
	p := &fakeProcessor{err: errors.New("index unavailable")}

	consume(r, p, time.Millisecond)

	assert.Len(t, p.processed, 3)
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(11), r.committed[0].Offset)
}

func TestConsumeSuccessClearsAttemptCounter(t *testing.T) {
	withTestRedis(t)
	m := taskMessage(5, "K251234")
	failing := &fakeProcessor{err: errors.New("transient")}
	consume(&fakeReader{fetches: []fetchResult{{msg: m}}}, failing, time.Millisecond)

	attempts, err := database.RDB.Get(context.Background(), "reindex:attempts:K251234").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", attempts)

	r := &fakeReader{fetches: []fetchResult{{msg: m}}}
	consume(r, &fakeProcessor{}, time.Millisecond)

	require.Len(t, r.committed, 1)
	err = database.RDB.Get(context.Background(), "reindex:attempts:K251234").Err()
	assert.ErrorIs(t, err, redis.Nil, "counter is cleared after a successful run")
}
