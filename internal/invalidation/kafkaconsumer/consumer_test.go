package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/cutout-service/internal/cache"
	"github.com/mohammed-shakir/cutout-service/internal/invalidation"
)

type fakeCache struct {
	cache.Nop
	failFirst atomic.Bool
	prefixes  []string
	mu        sync.Mutex
}

func (f *fakeCache) DeletePrefix(_ context.Context, prefix string) (int, error) {
	f.mu.Lock()
	f.prefixes = append(f.prefixes, prefix)
	f.mu.Unlock()
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return 0, errors.New("boom")
	}
	return 1, nil
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "cutout-invalidation" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(path string) []byte {
	ev := invalidation.Event{Version: 1, Op: invalidation.OpRewrite, Path: path, TS: time.Now().UTC()}
	b, _ := json.Marshal(ev)
	return b
}

func newConsumerForTest(fc cache.Interface) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "cutout-invalidation", GroupID: "g"}
	return New(cfg, slog.Default(), fc, []string{"lsst", "ztf"})
}

func TestProcessOne_DeletesPathAndAncestorsForEverySchema(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)

	msg := &sarama.ConsumerMessage{Offset: 1, Value: eventBytes("/ztf/2024/part-0.parquet")}
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	// 4 paths (/ztf/2024/part-0.parquet, /ztf/2024, /ztf, /) x 2 schemas
	if len(fc.prefixes) != 8 {
		t.Fatalf("prefixes=%d want 8: %v", len(fc.prefixes), fc.prefixes)
	}
	for _, p := range fc.prefixes {
		if !strings.HasPrefix(p, "cutout:lsst:") && !strings.HasPrefix(p, "cutout:ztf:") {
			t.Fatalf("unexpected prefix %q", p)
		}
	}
}

func TestProcessOne_SkipsMalformedEvents(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)

	for _, v := range [][]byte{[]byte("{not json"), []byte(`{"version":1,"op":"insert","path":"/p","ts":"2025-01-01T00:00:00Z"}`)} {
		if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: v}); err != nil {
			t.Fatalf("malformed event must be skipped, got %v", err)
		}
	}
	if len(fc.prefixes) != 0 {
		t.Fatalf("malformed events reached the cache: %v", fc.prefixes)
	}
}

func TestProcessOne_SkipsReplayedEvents(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)
	ctx := context.Background()

	newer := invalidation.Event{Version: 1, Op: invalidation.OpRewrite, Path: "/a", TS: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)}
	older := newer
	older.TS = newer.TS.Add(-time.Hour)
	for _, ev := range []invalidation.Event{newer, newer, older} {
		b, _ := json.Marshal(ev)
		if err := c.ProcessOne(ctx, &sarama.ConsumerMessage{Value: b}); err != nil {
			t.Fatalf("ProcessOne: %v", err)
		}
	}
	// "/a" and "/" for two schemas, applied once
	if len(fc.prefixes) != 4 {
		t.Fatalf("prefixes=%d want 4: %v", len(fc.prefixes), fc.prefixes)
	}
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)

	g := &groupHandler{process: c.ProcessOne}
	ctx := t.Context()
	s := &sess{ctx: ctx}
	ch := make(chan *sarama.ConsumerMessage, 2)
	cl := &claim{part: 0, msgs: ch}

	ch <- &sarama.ConsumerMessage{Topic: "cutout-invalidation", Partition: 0, Offset: 10, Value: eventBytes("/a")}
	ch <- &sarama.ConsumerMessage{Topic: "cutout-invalidation", Partition: 0, Offset: 11, Value: eventBytes("/b")}
	close(ch)

	if err := g.ConsumeClaim(s, cl); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}

	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fc := &fakeCache{}
	fc.failFirst.Store(true)
	c := newConsumerForTest(fc)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "cutout-invalidation", Partition: 0, Offset: 5, Value: eventBytes("/a")}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestMultiPartition_Parallel_NoCrossOrdering(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)
	g := &groupHandler{process: c.ProcessOne}

	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: eventBytes("/a")}
	p0 <- &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 2, Value: eventBytes("/a/x")}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 1, Value: eventBytes("/b")}
	p1 <- &sarama.ConsumerMessage{Topic: "t", Partition: 1, Offset: 2, Value: eventBytes("/b/x")}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

func TestSaramaConfig_UsesClientIDAndOffsets(t *testing.T) {
	cfg := FromEnv()
	if !strings.HasPrefix(cfg.ClientID, "cutout-") {
		t.Fatalf("client id %q", cfg.ClientID)
	}
	sc := saramaConfig(cfg)
	if sc.ClientID != cfg.ClientID {
		t.Fatalf("sarama client id %q want %q", sc.ClientID, cfg.ClientID)
	}
	if sc.Consumer.Offsets.Initial != sarama.OffsetNewest {
		t.Fatalf("initial offset %d want newest", sc.Consumer.Offsets.Initial)
	}
	if err := sc.Validate(); err != nil {
		t.Fatalf("sarama config invalid: %v", err)
	}
}

func TestSplitCSV_TrimsAndSkipsEmpty(t *testing.T) {
	got := SplitCSV(" k1:9092, ,k2:9092,")
	if len(got) != 2 || got[0] != "k1:9092" || got[1] != "k2:9092" {
		t.Fatalf("got %v", got)
	}
	if SplitCSV("") != nil {
		t.Fatalf("empty input should give nil")
	}
}
