package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func makeJob(id string, createdAt time.Time, status Status) *GenerationJob {
	return &GenerationJob{
		ID:        id,
		ModelID:   TextToImageModelID,
		Prompt:    "prompt for " + id,
		Source:    "api",
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestMemoryStoreJobCRUD(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	job := makeJob("job-1", now, StatusQueued)
	if err := mem.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}
	if err := mem.CreateJob(ctx, job); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	job.Status = StatusRunning
	job.Progress = 35
	if err := mem.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob returned error: %v", err)
	}

	loaded, err := mem.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob returned error: %v", err)
	}
	if loaded.Status != StatusRunning || loaded.Progress != 35 {
		t.Fatalf("update not applied: %#v", loaded)
	}

	if _, err := mem.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mem.UpdateJob(ctx, makeJob("missing", now, StatusQueued)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreReturnsClones(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()

	job := makeJob("job-1", time.Now().UTC(), StatusQueued)
	job.ImageIDs = []string{"img-1"}
	if err := mem.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}

	loaded, err := mem.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob returned error: %v", err)
	}
	loaded.Status = StatusError
	loaded.ImageIDs[0] = "mutated"

	fresh, err := mem.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob returned error: %v", err)
	}
	if fresh.Status != StatusQueued || fresh.ImageIDs[0] != "img-1" {
		t.Fatalf("stored job mutated through returned copy: %#v", fresh)
	}
}

func TestMemoryStoreListOrderingAndPaging(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"job-a", "job-b", "job-c"} {
		job := makeJob(id, base.Add(time.Duration(i)*time.Minute), StatusQueued)
		if err := mem.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob returned error: %v", err)
		}
	}

	listed, err := mem.ListJobs(ctx, JobFilter{})
	if err != nil {
		t.Fatalf("ListJobs returned error: %v", err)
	}
	if len(listed) != 3 || listed[0].ID != "job-c" || listed[2].ID != "job-a" {
		t.Fatalf("unexpected ordering: %#v", listed)
	}

	page, err := mem.ListJobs(ctx, JobFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListJobs returned error: %v", err)
	}
	if len(page) != 1 || page[0].ID != "job-b" {
		t.Fatalf("unexpected page: %#v", page)
	}

	empty, err := mem.ListJobs(ctx, JobFilter{Offset: 10})
	if err != nil {
		t.Fatalf("ListJobs returned error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %#v", empty)
	}
}

func TestMemoryStoreListFilters(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	queued := makeJob("job-1", now, StatusQueued)
	done := makeJob("job-2", now.Add(time.Minute), StatusComplete)
	done.ModelID = "alice"
	done.Source = "web"
	for _, job := range []*GenerationJob{queued, done} {
		if err := mem.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob returned error: %v", err)
		}
	}

	byStatus, err := mem.ListJobs(ctx, JobFilter{Status: StatusComplete})
	if err != nil {
		t.Fatalf("ListJobs returned error: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "job-2" {
		t.Fatalf("status filter failed: %#v", byStatus)
	}

	byModel, err := mem.ListJobs(ctx, JobFilter{ModelID: "alice", Source: "web"})
	if err != nil {
		t.Fatalf("ListJobs returned error: %v", err)
	}
	if len(byModel) != 1 || byModel[0].ID != "job-2" {
		t.Fatalf("model filter failed: %#v", byModel)
	}
}

func TestMemoryStoreModels(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()

	model := &Model{ID: "alice", DisplayName: "Alice", CreatedAt: time.Now().UTC()}
	if err := mem.CreateModel(ctx, model); err != nil {
		t.Fatalf("CreateModel returned error: %v", err)
	}
	if err := mem.CreateModel(ctx, model); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	for _, id := range []string{"img-1", "img-2"} {
		err := mem.AddModelImage(ctx, &ModelImage{ID: id, ModelID: "alice", RelPath: "models/alice/" + id + ".jpg"})
		if err != nil {
			t.Fatalf("AddModelImage returned error: %v", err)
		}
	}

	images, err := mem.ListModelImages(ctx, "alice")
	if err != nil {
		t.Fatalf("ListModelImages returned error: %v", err)
	}
	// 登録順が保たれる
	if len(images) != 2 || images[0].ID != "img-1" || images[1].ID != "img-2" {
		t.Fatalf("unexpected images: %#v", images)
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusComplete, true},
		{StatusRunning, StatusComplete, true},
		{StatusRunning, StatusError, true},
		{StatusRunning, StatusQueued, false},
		{StatusComplete, StatusCancelled, false},
		{StatusCancelled, StatusRunning, false},
		{StatusError, StatusQueued, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Fatalf("CanTransitionTo(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
