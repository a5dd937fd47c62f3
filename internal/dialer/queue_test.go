package dialer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testQueue() *Queue {
	return NewQueue(NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPriorityClassIsLIFO(t *testing.T) {
	q := testQueue()
	ctx := context.Background()

	first := NewJob("t1", "c1", "l1", "+1", 9, 3)
	second := NewJob("t1", "c1", "l2", "+2", 10, 3)
	if err := q.Enqueue(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := q.Dequeue(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != second.ID {
		t.Errorf("first dequeue = %s, want the newest urgent job %s", got.ID, second.ID)
	}
	got, err = q.Dequeue(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != first.ID {
		t.Errorf("second dequeue = %s, want %s", got.ID, first.ID)
	}
}

func TestPriorityPreemptsTenantQueues(t *testing.T) {
	q := testQueue()
	ctx := context.Background()

	normal := NewJob("t1", "c1", "l1", "+1", 5, 3)
	urgent := NewJob("t2", "c2", "l2", "+2", 8, 3)
	if err := q.Enqueue(ctx, normal); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, urgent); err != nil {
		t.Fatal(err)
	}

	got, err := q.Dequeue(ctx, []string{"t1", "t2"})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != urgent.ID {
		t.Errorf("dequeue = %s, want the priority job %s", got.ID, urgent.ID)
	}
}

func TestTenantRoundRobinIsFair(t *testing.T) {
	q := testQueue()
	ctx := context.Background()

	a1 := NewJob("t1", "c1", "la1", "+1", 5, 3)
	a2 := NewJob("t1", "c1", "la2", "+2", 5, 3)
	b1 := NewJob("t2", "c2", "lb1", "+3", 5, 3)
	for _, j := range []*Job{a1, a2, b1} {
		if err := q.Enqueue(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	tenants := []string{"t1", "t2"}
	var order []string
	for range 3 {
		job, err := q.Dequeue(ctx, tenants)
		if err != nil {
			t.Fatal(err)
		}
		order = append(order, job.LeadID)
	}

	want := []string{"la1", "lb1", "la2"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dequeue order = %v, want %v", order, want)
		}
	}
}

func TestDequeueEmptyReturnsErrEmpty(t *testing.T) {
	q := testQueue()
	if _, err := q.Dequeue(context.Background(), []string{"t1"}); !errors.Is(err, ErrEmpty) {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
}

func TestScheduleRetryChargesAttemptAndPromotes(t *testing.T) {
	q := testQueue()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	q.nowFunc = func() time.Time { return now }

	job := NewJob("t1", "c1", "l1", "+1", 5, 3)
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}
	job, err := q.Dequeue(ctx, []string{"t1"})
	if err != nil {
		t.Fatal(err)
	}

	if err := q.ScheduleRetry(ctx, job, 2*time.Minute); err != nil {
		t.Fatal(err)
	}
	if job.AttemptNumber != 1 {
		t.Errorf("attempt = %d, want 1 after retry scheduling", job.AttemptNumber)
	}
	if job.Status != JobRetryScheduled {
		t.Errorf("status = %s, want retry_scheduled", job.Status)
	}

	// Scheduling removed the job from the processing set.
	ids, err := q.Processing(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("processing set = %v, want empty", ids)
	}

	// Not yet due.
	n, err := q.ProcessScheduled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("promoted %d jobs before due time", n)
	}

	now = now.Add(3 * time.Minute)
	n, err = q.ProcessScheduled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("promoted %d jobs, want 1", n)
	}

	got, err := q.Dequeue(ctx, []string{"t1"})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != job.ID || got.AttemptNumber != 1 {
		t.Errorf("promoted job = %s attempt %d, want %s attempt 1", got.ID, got.AttemptNumber, job.ID)
	}
}

func TestDeferDoesNotChargeAttempt(t *testing.T) {
	q := testQueue()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	q.nowFunc = func() time.Time { return now }

	job := NewJob("t1", "c1", "l1", "+1", 5, 3)
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}
	job, err := q.Dequeue(ctx, []string{"t1"})
	if err != nil {
		t.Fatal(err)
	}

	if err := q.Defer(ctx, job, time.Hour); err != nil {
		t.Fatal(err)
	}
	if job.AttemptNumber != 0 {
		t.Errorf("attempt = %d, want 0 after defer", job.AttemptNumber)
	}
	if job.Status != JobSkipped {
		t.Errorf("status = %s, want skipped", job.Status)
	}

	now = now.Add(2 * time.Hour)
	n, err := q.ProcessScheduled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("promoted %d jobs, want 1", n)
	}
}

func TestScheduledPromotionPreservesPriorityClass(t *testing.T) {
	q := testQueue()
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	q.nowFunc = func() time.Time { return now }

	urgent := NewJob("t1", "c1", "l1", "+1", 9, 3)
	if err := q.Enqueue(ctx, urgent); err != nil {
		t.Fatal(err)
	}
	urgent, err := q.Dequeue(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.ScheduleRetry(ctx, urgent, time.Minute); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := q.ProcessScheduled(ctx); err != nil {
		t.Fatal(err)
	}

	// The promoted job is served from the pre-empt list, not a tenant queue.
	got, err := q.Dequeue(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != urgent.ID {
		t.Errorf("dequeue = %s, want %s from the priority class", got.ID, urgent.ID)
	}
}

func TestCompleteRemovesFromProcessing(t *testing.T) {
	q := testQueue()
	ctx := context.Background()

	job := NewJob("t1", "c1", "l1", "+1", 5, 3)
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}
	job, err := q.Dequeue(ctx, []string{"t1"})
	if err != nil {
		t.Fatal(err)
	}

	ids, err := q.Processing(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != job.ID {
		t.Fatalf("processing = %v, want [%s]", ids, job.ID)
	}

	if err := q.Complete(ctx, job, JobGoalAchieved); err != nil {
		t.Fatal(err)
	}
	if job.Status != JobGoalAchieved {
		t.Errorf("status = %s, want goal_achieved", job.Status)
	}
	if job.CompletedAt.IsZero() {
		t.Error("completed_at not set")
	}
	ids, err = q.Processing(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("processing = %v, want empty after completion", ids)
	}
}
