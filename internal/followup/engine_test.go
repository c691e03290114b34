package followup_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/confra/outreach/internal/crm"
	"github.com/confra/outreach/internal/followup"
	"github.com/confra/outreach/internal/mailer"
	"github.com/confra/outreach/internal/store"
)

type mockSender struct {
	mu      sync.Mutex
	sent    []*mailer.Message
	err     error
	blockCh chan struct{}
	seq     int
}

func (m *mockSender) Send(ctx context.Context, account *crm.MailAccount, msg *mailer.Message) (*mailer.SendResult, error) {
	if m.blockCh != nil {
		<-m.blockCh
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.seq++
	m.sent = append(m.sent, msg)
	return &mailer.SendResult{MessageID: fmt.Sprintf("<%d@test.local>", m.seq)}, nil
}

func (m *mockSender) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockSender) lastSent() *mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockSender) setError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type testEnv struct {
	store  *store.Store
	engine *followup.Engine
	sender *mockSender
}

func newTestEnv(t *testing.T, cfg followup.Config) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "outreach.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sender := &mockSender{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := followup.NewEngine(st, st, st, st, mailer.NewSelector(st), sender, cfg, logger)
	t.Cleanup(engine.Stop)

	return &testEnv{store: st, engine: engine, sender: sender}
}

func (env *testEnv) seedClient(t *testing.T, mutate func(*crm.Client)) *crm.Client {
	t.Helper()
	client := &crm.Client{
		ID:           "client-1",
		Email:        "alice@example.com",
		FirstName:    "Alice",
		LastName:     "Nguyen",
		Status:       crm.StatusLead,
		CurrentStage: crm.StageOne,
		IsActive:     true,
	}
	if mutate != nil {
		mutate(client)
	}
	if err := env.store.PutClient(context.Background(), client); err != nil {
		t.Fatalf("failed to seed client: %v", err)
	}
	return client
}

func (env *testEnv) seedConference(t *testing.T, mutate func(*crm.Conference)) *crm.Conference {
	t.Helper()
	conf := &crm.Conference{
		ID:             "conf-1",
		OrganizationID: "org-1",
		Name:           "GopherSummit 2026",
		FollowupIntervals: map[crm.Stage]crm.Interval{
			crm.StageOne: {Value: 3, Unit: crm.UnitDays},
			crm.StageTwo: {Value: 2, Unit: crm.UnitDays},
		},
		MaxAttempts: map[crm.Stage]int{
			crm.StageOne: 3,
			crm.StageTwo: 2,
		},
		StageTemplates: map[crm.Stage]string{
			crm.StageOne: "tpl-1",
			crm.StageTwo: "tpl-2",
		},
		Timezone: "UTC",
	}
	if mutate != nil {
		mutate(conf)
	}
	if err := env.store.PutConference(context.Background(), conf); err != nil {
		t.Fatalf("failed to seed conference: %v", err)
	}
	return conf
}

func (env *testEnv) seedTemplate(t *testing.T, id string) *crm.EmailTemplate {
	t.Helper()
	tmpl := &crm.EmailTemplate{
		ID:       id,
		Name:     "follow-up",
		Subject:  "Checking in, {client.firstName}",
		BodyHTML: "<p>Hello {client.firstName}, any update on {conference.name}?</p>",
		BodyText: "Hello {client.firstName}, any update on {conference.name}?",
	}
	if err := env.store.PutTemplate(context.Background(), tmpl); err != nil {
		t.Fatalf("failed to seed template: %v", err)
	}
	return tmpl
}

func (env *testEnv) seedAccount(t *testing.T) *crm.MailAccount {
	t.Helper()
	account := &crm.MailAccount{
		ID:             "acct-1",
		OrganizationID: "org-1",
		Email:          "outreach@org.example",
		DisplayName:    "Org Outreach",
		Host:           "smtp.org.example",
		Port:           587,
		Username:       "outreach@org.example",
		Password:       "secret",
		SendPriority:   1,
		IsActive:       true,
	}
	if err := env.store.PutAccount(context.Background(), account); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	return account
}

// seedDueJob creates an active job whose NextSendAt is already in the past
func (env *testEnv) seedDueJob(t *testing.T, stage crm.Stage) *followup.Job {
	t.Helper()
	job, err := env.engine.CreateJob(context.Background(), followup.CreateParams{
		ClientID:     "client-1",
		ConferenceID: "conf-1",
		Stage:        stage,
	})
	if err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	env.makeDue(t, job.ID)
	return job
}

func (env *testEnv) makeDue(t *testing.T, jobID string) {
	t.Helper()
	job, err := env.store.GetJob(context.Background(), jobID)
	if err != nil || job == nil {
		t.Fatalf("failed to load job %s: %v", jobID, err)
	}
	job.NextSendAt = time.Now().Add(-time.Minute)
	if err := env.store.UpdateJob(context.Background(), job); err != nil {
		t.Fatalf("failed to backdate job: %v", err)
	}
}

func (env *testEnv) getJob(t *testing.T, id string) *followup.Job {
	t.Helper()
	job, err := env.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load job: %v", err)
	}
	if job == nil {
		t.Fatalf("job %s not found", id)
	}
	return job
}

func (env *testEnv) getClient(t *testing.T, id string) *crm.Client {
	t.Helper()
	client, err := env.store.GetClient(context.Background(), id)
	if err != nil || client == nil {
		t.Fatalf("failed to load client %s: %v", id, err)
	}
	return client
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScanSendsDueJob(t *testing.T) {
	env := newTestEnv(t, followup.Config{})
	env.seedClient(t, nil)
	env.seedConference(t, nil)
	env.seedTemplate(t, "tpl-1")
	env.seedAccount(t)
	job := env.seedDueJob(t, crm.StageOne)

	env.engine.Scan(context.Background())

	waitFor(t, "send", func() bool { return env.sender.sentCount() == 1 })
	waitFor(t, "attempt increment", func() bool {
		return env.getJob(t, job.ID).CurrentAttempt == 1
	})

	msg := env.sender.lastSent()
	if msg.To != "alice@example.com" {
		t.Errorf("sent to %q, want alice@example.com", msg.To)
	}
	if msg.Subject != "Checking in, Alice" {
		t.Errorf("subject %q not rendered", msg.Subject)
	}

	updated := env.getJob(t, job.ID)
	if updated.Status != followup.StatusActive {
		t.Errorf("status = %s, want active", updated.Status)
	}
	if !updated.NextSendAt.After(time.Now().Add(48 * time.Hour)) {
		t.Errorf("job not rescheduled by interval, next_send_at = %v", updated.NextSendAt)
	}
	if updated.LastSentAt == nil {
		t.Error("last_sent_at not recorded")
	}

	client := env.getClient(t, "client-1")
	if client.Engagement.EmailsSent != 1 {
		t.Errorf("engagement emails_sent = %d, want 1", client.Engagement.EmailsSent)
	}
	if client.ThreadRootMessageID == "" {
		t.Error("thread root message id not captured on first send")
	}
	if client.InitialEmailSubject != "Checking in, Alice" {
		t.Errorf("initial subject = %q", client.InitialEmailSubject)
	}
}

func TestSecondSendThreadsUnderFirst(t *testing.T) {
	env := newTestEnv(t, followup.Config{})
	env.seedClient(t, func(c *crm.Client) {
		c.ThreadRootMessageID = "<root@test.local>"
		c.InitialEmailSubject = "Invitation to GopherSummit"
	})
	env.seedConference(t, nil)
	env.seedTemplate(t, "tpl-1")
	env.seedAccount(t)
	env.seedDueJob(t, crm.StageOne)

	env.engine.Scan(context.Background())
	waitFor(t, "send", func() bool { return env.sender.sentCount() == 1 })

	msg := env.sender.lastSent()
	if msg.InReplyTo != "<root@test.local>" {
		t.Errorf("in-reply-to = %q, want thread root", msg.InReplyTo)
	}
	if msg.Subject != "Re: Invitation to GopherSummit" {
		t.Errorf("subject = %q, want threaded reply subject", msg.Subject)
	}
}

func TestMaxAttemptsCompletesAndDeclines(t *testing.T) {
	tests := []struct {
		name       string
		stage      crm.Stage
		status     crm.ClientStatus
		wantStatus crm.ClientStatus
	}{
		{"stage1 lead becomes unresponsive", crm.StageOne, crm.StatusLead, crm.StatusUnresponsive},
		{"stage2 abstract becomes registration unresponsive", crm.StageTwo, crm.StatusAbstractSubmitted, crm.StatusRegistrationUnresponsive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, followup.Config{})
			env.seedClient(t, func(c *crm.Client) {
				c.Status = tt.status
				if tt.stage == crm.StageTwo {
					c.CurrentStage = crm.StageTwo
				}
			})
			env.seedConference(t, func(conf *crm.Conference) {
				conf.MaxAttempts[tt.stage] = 1
			})
			env.seedTemplate(t, "tpl-1")
			env.seedTemplate(t, "tpl-2")
			env.seedAccount(t)
			job := env.seedDueJob(t, tt.stage)

			env.engine.Scan(context.Background())
			waitFor(t, "completion", func() bool {
				return env.getJob(t, job.ID).Status == followup.StatusCompleted
			})

			updated := env.getJob(t, job.ID)
			if updated.CurrentAttempt != 1 {
				t.Errorf("attempt = %d, want 1", updated.CurrentAttempt)
			}
			if updated.CompletionReason != "max attempts reached" {
				t.Errorf("completion reason = %q", updated.CompletionReason)
			}
			if got := env.getClient(t, "client-1").Status; got != tt.wantStatus {
				t.Errorf("client status = %s, want %s", got, tt.wantStatus)
			}
		})
	}
}

func TestManualCountSeedsAttempts(t *testing.T) {
	env := newTestEnv(t, followup.Config{})
	env.seedClient(t, func(c *crm.Client) {
		c.ManualStage1Count = 2
	})
	env.seedConference(t, nil)

	job, err := env.engine.CreateJob(context.Background(), followup.CreateParams{
		ClientID:     "client-1",
		ConferenceID: "conf-1",
		Stage:        crm.StageOne,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.CurrentAttempt != 2 {
		t.Errorf("starting attempt = %d, want 2", job.CurrentAttempt)
	}
	if job.Status != followup.StatusActive {
		t.Errorf("status = %s, want active", job.Status)
	}
}

func TestManualCountAtCapCompletesWithoutSend(t *testing.T) {
	env := newTestEnv(t, followup.Config{})
	env.seedClient(t, func(c *crm.Client) {
		c.ManualStage1Count = 3
	})
	env.seedConference(t, nil)

	job, err := env.engine.CreateJob(context.Background(), followup.CreateParams{
		ClientID:     "client-1",
		ConferenceID: "conf-1",
		Stage:        crm.StageOne,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status != followup.StatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if env.sender.sentCount() != 0 {
		t.Errorf("sent %d emails, want 0", env.sender.sentCount())
	}
	if got := env.getClient(t, "client-1").Status; got != crm.StatusUnresponsive {
		t.Errorf("client status = %s, want unresponsive", got)
	}
}

func TestCreateJobValidation(t *testing.T) {
	env := newTestEnv(t, followup.Config{})
	env.seedClient(t, nil)
	env.seedConference(t, nil)

	tests := []struct {
		name   string
		params followup.CreateParams
	}{
		{"missing client id", followup.CreateParams{ConferenceID: "conf-1", Stage: crm.StageOne}},
		{"missing conference id", followup.CreateParams{ClientID: "client-1", Stage: crm.StageOne}},
		{"completed stage", followup.CreateParams{ClientID: "client-1", ConferenceID: "conf-1", Stage: crm.StageCompleted}},
		{"unknown stage", followup.CreateParams{ClientID: "client-1", ConferenceID: "conf-1", Stage: "stage9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.CreateJob(context.Background(), tt.params)
			var verr *followup.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("error = %v, want ValidationError", err)
			}
		})
	}

	t.Run("unknown client", func(t *testing.T) {
		_, err := env.engine.CreateJob(context.Background(), followup.CreateParams{
			ClientID: "nope", ConferenceID: "conf-1", Stage: crm.StageOne,
		})
		var nerr *followup.NotFoundError
		if !errors.As(err, &nerr) {
			t.Errorf("error = %v, want NotFoundError", err)
		}
	})

	t.Run("duplicate active pair", func(t *testing.T) {
		params := followup.CreateParams{ClientID: "client-1", ConferenceID: "conf-1", Stage: crm.StageOne}
		if _, err := env.engine.CreateJob(context.Background(), params); err != nil {
			t.Fatalf("first CreateJob: %v", err)
		}
		if _, err := env.engine.CreateJob(context.Background(), params); err == nil {
			t.Error("second CreateJob for same client and stage succeeded")
		}
	})
}

func TestCreateJobScheduledAtOverride(t *testing.T) {
	env := newTestEnv(t, followup.Config{})
	env.seedClient(t, nil)
	env.seedConference(t, nil)

	at := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	job, err := env.engine.CreateJob(context.Background(), followup.CreateParams{
		ClientID:     "client-1",
		ConferenceID: "conf-1",
		Stage:        crm.StageOne,
		ScheduledAt:  &at,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if !job.NextSendAt.Equal(at) {
		t.Errorf("next_send_at = %v, want %v", job.NextSendAt, at)
	}
}

func TestSkipConditionsCompleteWithoutSend(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*crm.Client)
	}{
		{"inactive client", func(c *crm.Client) { c.IsActive = false }},
		{"unsubscribed client", func(c *crm.Client) { c.IsUnsubscribed = true }},
		{"registered client", func(c *crm.Client) { c.Status = crm.StatusRegistered }},
		{"rejected client", func(c *crm.Client) { c.Status = crm.StatusRejected }},
		{"advanced past stage", func(c *crm.Client) { c.CurrentStage = crm.StageTwo }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, followup.Config{})
			env.seedClient(t, nil)
			env.seedConference(t, nil)
			env.seedTemplate(t, "tpl-1")
			env.seedAccount(t)
			job := env.seedDueJob(t, crm.StageOne)

			// State change happens after the job exists
			err := env.store.UpdateClient(context.Background(), "client-1", func(c *crm.Client) error {
				tt.mutate(c)
				return nil
			})
			if err != nil {
				t.Fatalf("failed to update client: %v", err)
			}

			env.engine.Scan(context.Background())
			waitFor(t, "completion", func() bool {
				return env.getJob(t, job.ID).Status == followup.StatusCompleted
			})

			if env.sender.sentCount() != 0 {
				t.Errorf("sent %d emails, want 0", env.sender.sentCount())
			}
			updated := env.getJob(t, job.ID)
			if updated.CurrentAttempt != 0 {
				t.Errorf("attempt = %d, want 0", updated.CurrentAttempt)
			}
			if updated.CompletionReason == "" {
				t.Error("completion reason empty")
			}
		})
	}
}

func TestNoAccountFailsJob(t *testing.T) {
	env := newTestEnv(t, followup.Config{})
	env.seedClient(t, nil)
	env.seedConference(t, nil)
	env.seedTemplate(t, "tpl-1")
	job := env.seedDueJob(t, crm.StageOne)
	due := env.getJob(t, job.ID).NextSendAt

	env.engine.Scan(context.Background())
	waitFor(t, "failure", func() bool {
		return env.getJob(t, job.ID).Status == followup.StatusFailed
	})

	updated := env.getJob(t, job.ID)
	if updated.CompletionReason != "no account configured" {
		t.Errorf("completion reason = %q", updated.CompletionReason)
	}
	if !updated.NextSendAt.Equal(due) {
		t.Errorf("next_send_at recomputed on fatal failure: %v != %v", updated.NextSendAt, due)
	}
	if env.sender.sentCount() != 0 {
		t.Errorf("sent %d emails, want 0", env.sender.sentCount())
	}
}

func TestMissingTemplateFailsJob(t *testing.T) {
	env := newTestEnv(t, followup.Config{})
	env.seedClient(t, nil)
	env.seedConference(t, nil)
	env.seedAccount(t)
	job := env.seedDueJob(t, crm.StageOne)

	env.engine.Scan(context.Background())
	waitFor(t, "failure", func() bool {
		return env.getJob(t, job.ID).Status == followup.StatusFailed
	})

	if reason := env.getJob(t, job.ID).CompletionReason; reason != "template not found" {
		t.Errorf("completion reason = %q", reason)
	}
}

func TestTemporaryFailureRetriesThenFails(t *testing.T) {
	env := newTestEnv(t, followup.Config{SendRetries: 1, RetryBackoff: time.Minute})
	env.seedClient(t, nil)
	env.seedConference(t, nil)
	env.seedTemplate(t, "tpl-1")
	env.seedAccount(t)
	job := env.seedDueJob(t, crm.StageOne)

	env.sender.setError(&mailer.SendError{Temporary: true, Message: "451 try again later"})

	env.engine.Scan(context.Background())
	waitFor(t, "retry scheduled", func() bool {
		return env.getJob(t, job.ID).RetryCount == 1
	})

	updated := env.getJob(t, job.ID)
	if updated.Status != followup.StatusActive {
		t.Fatalf("status = %s, want active after transient failure", updated.Status)
	}
	if updated.CurrentAttempt != 0 {
		t.Errorf("attempt = %d, want 0 after failed send", updated.CurrentAttempt)
	}
	if !updated.NextSendAt.After(time.Now()) {
		t.Errorf("retry not pushed into the future: %v", updated.NextSendAt)
	}

	// Retry budget exhausted: next transient failure is final
	env.makeDue(t, job.ID)
	env.engine.Scan(context.Background())
	waitFor(t, "final failure", func() bool {
		return env.getJob(t, job.ID).Status == followup.StatusFailed
	})

	if got := env.getJob(t, job.ID).LastError; got != "451 try again later" {
		t.Errorf("last error = %q", got)
	}
}

func TestPermanentFailureFailsImmediately(t *testing.T) {
	env := newTestEnv(t, followup.Config{SendRetries: 3})
	env.seedClient(t, nil)
	env.seedConference(t, nil)
	env.seedTemplate(t, "tpl-1")
	env.seedAccount(t)
	job := env.seedDueJob(t, crm.StageOne)

	env.sender.setError(&mailer.SendError{Temporary: false, Message: "550 mailbox unavailable"})

	env.engine.Scan(context.Background())
	waitFor(t, "failure", func() bool {
		return env.getJob(t, job.ID).Status == followup.StatusFailed
	})

	if got := env.getJob(t, job.ID).RetryCount; got != 0 {
		t.Errorf("retry count = %d, want 0 for permanent failure", got)
	}
}

func TestPauseBlocksProcessing(t *testing.T) {
	env := newTestEnv(t, followup.Config{})
	env.seedClient(t, nil)
	env.seedConference(t, nil)
	env.seedTemplate(t, "tpl-1")
	env.seedAccount(t)
	job := env.seedDueJob(t, crm.StageOne)

	if err := env.engine.Pause(context.Background(), job.ID, "conference postponed"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	// Second pause is a no-op
	if err := env.engine.Pause(context.Background(), job.ID, "again"); err != nil {
		t.Fatalf("repeated Pause: %v", err)
	}

	paused := env.getJob(t, job.ID)
	if !paused.Paused || paused.Status != followup.StatusPaused {
		t.Fatalf("job not paused: paused=%v status=%s", paused.Paused, paused.Status)
	}
	if paused.PauseReason != "conference postponed" {
		t.Errorf("pause reason = %q", paused.PauseReason)
	}

	env.engine.Scan(context.Background())
	time.Sleep(50 * time.Millisecond)
	if env.sender.sentCount() != 0 {
		t.Errorf("paused job was processed, sent = %d", env.sender.sentCount())
	}
}

func TestResumeKeepsSchedule(t *testing.T) {
	env := newTestEnv(t, followup.Config{})
	env.seedClient(t, nil)
	env.seedConference(t, nil)
	env.seedTemplate(t, "tpl-1")
	env.seedAccount(t)
	job := env.seedDueJob(t, crm.StageOne)

	if err := env.engine.Pause(context.Background(), job.ID, "hold"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	due := env.getJob(t, job.ID).NextSendAt

	if err := env.engine.Resume(context.Background(), job.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	resumed := env.getJob(t, job.ID)
	if resumed.Paused || resumed.Status != followup.StatusActive {
		t.Fatalf("job not resumed: paused=%v status=%s", resumed.Paused, resumed.Status)
	}
	if !resumed.NextSendAt.Equal(due) {
		t.Errorf("next_send_at recomputed on resume: %v != %v", resumed.NextSendAt, due)
	}

	// The overdue job catches up on the next scan
	env.engine.Scan(context.Background())
	waitFor(t, "catch-up send", func() bool { return env.sender.sentCount() == 1 })
}

func TestCancelCompletesJob(t *testing.T) {
	env := newTestEnv(t, followup.Config{})
	env.seedClient(t, nil)
	env.seedConference(t, nil)
	job := env.seedDueJob(t, crm.StageOne)

	if err := env.engine.Cancel(context.Background(), job.ID, "client asked to stop"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	cancelled := env.getJob(t, job.ID)
	if cancelled.Status != followup.StatusCompleted {
		t.Errorf("status = %s, want completed", cancelled.Status)
	}
	if cancelled.CompletionReason != "client asked to stop" {
		t.Errorf("completion reason = %q", cancelled.CompletionReason)
	}

	// Cancelling a terminal job is a no-op
	if err := env.engine.Cancel(context.Background(), job.ID, "again"); err != nil {
		t.Fatalf("repeated Cancel: %v", err)
	}
	if got := env.getJob(t, job.ID).CompletionReason; got != "client asked to stop" {
		t.Errorf("completion reason overwritten: %q", got)
	}
}

func TestOverlappingScansSendOnce(t *testing.T) {
	env := newTestEnv(t, followup.Config{})
	env.seedClient(t, nil)
	env.seedConference(t, nil)
	env.seedTemplate(t, "tpl-1")
	env.seedAccount(t)
	env.seedDueJob(t, crm.StageOne)

	release := make(chan struct{})
	env.sender.blockCh = release

	// First scan checks the job out and blocks inside Send; the second scan
	// must skip it.
	env.engine.Scan(context.Background())
	time.Sleep(20 * time.Millisecond)
	env.engine.Scan(context.Background())
	close(release)

	waitFor(t, "send", func() bool { return env.sender.sentCount() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if got := env.sender.sentCount(); got != 1 {
		t.Errorf("sent %d emails for one due job, want 1", got)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, followup.Config{})
	env.seedClient(t, nil)
	env.seedConference(t, nil)
	job := env.seedDueJob(t, crm.StageOne)

	other := &crm.Client{ID: "client-2", Email: "bob@example.com", Status: crm.StatusAbstractSubmitted,
		CurrentStage: crm.StageTwo, IsActive: true}
	if err := env.store.PutClient(context.Background(), other); err != nil {
		t.Fatalf("failed to seed client: %v", err)
	}
	if _, err := env.engine.CreateJob(context.Background(), followup.CreateParams{
		ClientID: "client-2", ConferenceID: "conf-1", Stage: crm.StageTwo,
	}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := env.engine.Pause(context.Background(), job.ID, "hold"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	stats, err := env.engine.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
	if stats.Active != 1 || stats.Paused != 1 {
		t.Errorf("active = %d paused = %d, want 1 and 1", stats.Active, stats.Paused)
	}
	if stats.Breakdown[crm.StageTwo] != 1 {
		t.Errorf("stage2 breakdown = %d, want 1", stats.Breakdown[crm.StageTwo])
	}
}

func TestCleanerPurgesOldTerminalJobs(t *testing.T) {
	env := newTestEnv(t, followup.Config{})
	env.seedClient(t, nil)
	env.seedConference(t, nil)
	job := env.seedDueJob(t, crm.StageOne)

	if err := env.engine.Cancel(context.Background(), job.ID, "done"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// Retention not yet expired
	deleted, err := env.store.CleanupTerminal(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("CleanupTerminal: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0 inside retention", deleted)
	}

	deleted, err = env.store.CleanupTerminal(context.Background(), time.Nanosecond)
	if err != nil {
		t.Fatalf("CleanupTerminal: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1 past retention", deleted)
	}
	got, err := env.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got != nil {
		t.Error("terminal job survived cleanup")
	}
}
