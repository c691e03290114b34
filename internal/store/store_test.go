package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/confra/outreach/internal/campaign"
	"github.com/confra/outreach/internal/crm"
	"github.com/confra/outreach/internal/followup"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func activeJob(id, clientID string, stage crm.Stage, nextSendAt time.Time) *followup.Job {
	return &followup.Job{
		ID:           id,
		ClientID:     clientID,
		ConferenceID: "conf-1",
		TemplateID:   "tpl-1",
		Stage:        stage,
		MaxAttempts:  3,
		NextSendAt:   nextSendAt,
		Status:       followup.StatusActive,
		Settings: followup.JobSettings{
			Interval: crm.Interval{Value: 3, Unit: crm.UnitDays},
			Timezone: "UTC",
		},
	}
}

func TestJobCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := activeJob("job-1", "client-1", crm.StageOne, time.Now().Add(time.Hour))
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	got, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetJob() returned nil")
	}
	if got.ClientID != "client-1" || got.Stage != crm.StageOne {
		t.Errorf("GetJob() = %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set on create")
	}

	// Nonexistent id
	missing, err := s.GetJob(ctx, "nope")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if missing != nil {
		t.Error("GetJob() expected nil for nonexistent job")
	}

	got.CurrentAttempt = 1
	if err := s.UpdateJob(ctx, got); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}
	reloaded, _ := s.GetJob(ctx, "job-1")
	if reloaded.CurrentAttempt != 1 {
		t.Errorf("CurrentAttempt = %d after update, want 1", reloaded.CurrentAttempt)
	}

	if err := s.DeleteJob(ctx, "job-1"); err != nil {
		t.Fatalf("DeleteJob() error = %v", err)
	}
	deleted, _ := s.GetJob(ctx, "job-1")
	if deleted != nil {
		t.Error("job still present after delete")
	}
}

func TestCreateJobPairUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := activeJob("job-1", "client-1", crm.StageOne, time.Now())
	if err := s.CreateJob(ctx, first); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	// Same client, same stage
	dup := activeJob("job-2", "client-1", crm.StageOne, time.Now())
	if err := s.CreateJob(ctx, dup); err == nil {
		t.Error("CreateJob() succeeded for duplicate (client, stage) pair")
	}

	// Same client, different stage is fine
	other := activeJob("job-3", "client-1", crm.StageTwo, time.Now())
	if err := s.CreateJob(ctx, other); err != nil {
		t.Errorf("CreateJob() error = %v for different stage", err)
	}

	// Completing the first job frees the slot
	first.Status = followup.StatusCompleted
	if err := s.UpdateJob(ctx, first); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}
	again := activeJob("job-4", "client-1", crm.StageOne, time.Now())
	if err := s.CreateJob(ctx, again); err != nil {
		t.Errorf("CreateJob() error = %v after slot freed", err)
	}
}

func TestFindDueOrderingAndFiltering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// Inserted out of order on purpose
	jobs := []*followup.Job{
		activeJob("job-b", "client-b", crm.StageOne, now.Add(-time.Minute)),
		activeJob("job-a", "client-a", crm.StageOne, now.Add(-time.Hour)),
		activeJob("job-future", "client-c", crm.StageOne, now.Add(time.Hour)),
	}
	for _, j := range jobs {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob(%s) error = %v", j.ID, err)
		}
	}

	paused := activeJob("job-paused", "client-d", crm.StageOne, now.Add(-time.Hour))
	paused.Paused = true
	paused.Status = followup.StatusPaused
	if err := s.CreateJob(ctx, paused); err != nil {
		t.Fatalf("CreateJob(paused) error = %v", err)
	}

	due, err := s.FindDue(ctx, now)
	if err != nil {
		t.Fatalf("FindDue() error = %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("FindDue() returned %d jobs, want 2", len(due))
	}
	if due[0].ID != "job-a" || due[1].ID != "job-b" {
		t.Errorf("FindDue() order = [%s, %s], want oldest first", due[0].ID, due[1].ID)
	}
}

func TestUpdateJobMovesDueIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	job := activeJob("job-1", "client-1", crm.StageOne, now.Add(-time.Hour))
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	// Reschedule into the future: the old due entry must disappear
	job.NextSendAt = now.Add(time.Hour)
	if err := s.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}
	due, err := s.FindDue(ctx, now)
	if err != nil {
		t.Fatalf("FindDue() error = %v", err)
	}
	if len(due) != 0 {
		t.Errorf("FindDue() returned %d jobs after reschedule, want 0", len(due))
	}

	// Terminal jobs leave the index entirely
	job.NextSendAt = now.Add(-time.Hour)
	job.Status = followup.StatusFailed
	if err := s.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}
	due, _ = s.FindDue(ctx, now)
	if len(due) != 0 {
		t.Errorf("FindDue() returned terminal job")
	}
}

func TestListJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		job := activeJob(fmt.Sprintf("job-%d", i), fmt.Sprintf("client-%d", i), crm.StageOne, now)
		if i >= 3 {
			job.Stage = crm.StageTwo
			job.Status = followup.StatusCompleted
		}
		if err := s.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
	}

	active, err := s.ListJobs(ctx, followup.ListFilter{Status: followup.StatusActive})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(active) != 3 {
		t.Errorf("active jobs = %d, want 3", len(active))
	}

	stage2, _ := s.ListJobs(ctx, followup.ListFilter{Stage: crm.StageTwo})
	if len(stage2) != 2 {
		t.Errorf("stage2 jobs = %d, want 2", len(stage2))
	}

	byClient, _ := s.ListJobs(ctx, followup.ListFilter{ClientID: "client-0"})
	if len(byClient) != 1 {
		t.Errorf("jobs for client-0 = %d, want 1", len(byClient))
	}

	limited, _ := s.ListJobs(ctx, followup.ListFilter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("limited jobs = %d, want 2", len(limited))
	}

	paged, _ := s.ListJobs(ctx, followup.ListFilter{Limit: 2, Offset: 4})
	if len(paged) != 1 {
		t.Errorf("paged jobs = %d, want 1", len(paged))
	}
}

func TestJobStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	statuses := []followup.JobStatus{
		followup.StatusActive, followup.StatusActive,
		followup.StatusPaused, followup.StatusCompleted, followup.StatusFailed,
	}
	for i, status := range statuses {
		job := activeJob(fmt.Sprintf("job-%d", i), fmt.Sprintf("client-%d", i), crm.StageOne, now)
		job.Status = status
		if status == followup.StatusPaused {
			job.Paused = true
		}
		if err := s.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
	}

	stats, err := s.JobStats(ctx)
	if err != nil {
		t.Fatalf("JobStats() error = %v", err)
	}
	if stats.Total != 5 {
		t.Errorf("Total = %d, want 5", stats.Total)
	}
	if stats.Active != 2 || stats.Paused != 1 || stats.Completed != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Breakdown[crm.StageOne] != 2 {
		t.Errorf("stage1 breakdown = %d, want 2", stats.Breakdown[crm.StageOne])
	}
}

func TestIndexKeyOrdering(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(500 * time.Millisecond),
		base.Add(time.Second),
		base.Add(time.Minute),
		base.AddDate(0, 0, 1),
	}
	for i := 1; i < len(times); i++ {
		prev := string(makeIndexKey(times[i-1], "x"))
		cur := string(makeIndexKey(times[i], "x"))
		if prev >= cur {
			t.Errorf("keys out of order: %q >= %q", prev, cur)
		}
	}

	key := makeIndexKey(base, "job-1")
	if got := parseTimestampFromKey(key); !got.Equal(base) {
		t.Errorf("parseTimestampFromKey() = %v, want %v", got, base)
	}
}

func TestClientRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	client := &crm.Client{
		ID:                "client-1",
		Email:             "alice@example.com",
		FirstName:         "Alice",
		Status:            crm.StatusLead,
		CurrentStage:      crm.StageOne,
		ManualStage1Count: 2,
		IsActive:          true,
	}
	if err := s.PutClient(ctx, client); err != nil {
		t.Fatalf("PutClient() error = %v", err)
	}

	got, err := s.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.Email != "alice@example.com" || got.ManualStage1Count != 2 {
		t.Errorf("GetClient() = %+v", got)
	}

	err = s.UpdateClient(ctx, "client-1", func(c *crm.Client) error {
		c.Engagement.EmailsSent++
		c.ThreadRootMessageID = "<root@test>"
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateClient() error = %v", err)
	}
	got, _ = s.GetClient(ctx, "client-1")
	if got.Engagement.EmailsSent != 1 || got.ThreadRootMessageID != "<root@test>" {
		t.Errorf("mutation not persisted: %+v", got)
	}

	if err := s.UpdateClient(ctx, "nope", func(c *crm.Client) error { return nil }); err == nil {
		t.Error("UpdateClient() succeeded for nonexistent client")
	}
}

func TestAccountPersistsCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account := &crm.MailAccount{
		ID:             "acct-1",
		OrganizationID: "org-1",
		Email:          "outreach@org.example",
		Host:           "smtp.org.example",
		Port:           587,
		Username:       "outreach@org.example",
		Password:       "secret",
		IsActive:       true,
	}
	if err := s.PutAccount(ctx, account); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}

	accounts, err := s.ListAccounts(ctx, "org-1")
	if err != nil {
		t.Fatalf("ListAccounts() error = %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("ListAccounts() returned %d, want 1", len(accounts))
	}
	if accounts[0].Password != "secret" {
		t.Error("credentials lost in round trip")
	}

	other, _ := s.ListAccounts(ctx, "org-2")
	if len(other) != 0 {
		t.Errorf("ListAccounts(org-2) returned %d, want 0", len(other))
	}
}

func TestCampaignRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &campaign.Campaign{
		ID:             "camp-1",
		OrganizationID: "org-1",
		Name:           "Spring outreach",
		TemplateID:     "tpl-1",
		Status:         campaign.StatusDraft,
		Recipients: []campaign.Recipient{
			{ClientID: "client-1", Email: "alice@example.com", Status: campaign.RecipientPending},
		},
		Settings: campaign.Settings{ThrottleRate: 10, BatchSize: 50},
	}
	if err := s.PutCampaign(ctx, c); err != nil {
		t.Fatalf("PutCampaign() error = %v", err)
	}

	got, err := s.GetCampaign(ctx, "camp-1")
	if err != nil {
		t.Fatalf("GetCampaign() error = %v", err)
	}
	if got == nil || got.Name != "Spring outreach" || len(got.Recipients) != 1 {
		t.Errorf("GetCampaign() = %+v", got)
	}

	all, err := s.ListCampaigns(ctx)
	if err != nil {
		t.Fatalf("ListCampaigns() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListCampaigns() returned %d, want 1", len(all))
	}
}
