package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"regcycle/internal/config"
	"regcycle/internal/domain"
	"regcycle/internal/engine"
)

const (
	relayTick      = 2 * time.Second
	relayTimeout   = 5 * time.Second
	relayBatchSize = 100
)

// auditRelay tails the audit trail and pushes new entries to configured
// webhook subscribers. Each subscriber keeps its own cursor, so a slow or
// failing endpoint never loses entries, only delays them.
type auditRelay struct {
	eng      *engine.Engine
	reportID string
	hooks    []config.WebhookConfig
	client   *http.Client

	mu      sync.Mutex
	cursors map[int]int64 // subscriber index -> last delivered audit ID
}

// StartWebhookDispatcher begins background delivery of audit entries to the
// webhooks in the report config. No-op when none are configured.
func StartWebhookDispatcher(e *engine.Engine) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	if strings.TrimSpace(e.Config.Report.ID) == "" {
		return
	}
	r := &auditRelay{
		eng:      e,
		reportID: e.Config.Report.ID,
		hooks:    e.Config.Webhooks,
		client:   &http.Client{Timeout: relayTimeout},
		cursors:  make(map[int]int64),
	}
	go r.loop()
}

func (r *auditRelay) loop() {
	tick := time.NewTicker(relayTick)
	defer tick.Stop()
	for {
		for i, hook := range r.hooks {
			if hook.Enabled != nil && !*hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.URL) == "" {
				continue
			}
			r.drain(i, hook)
		}
		<-tick.C
	}
}

// drain delivers entries past the subscriber's cursor, stopping at the first
// failed delivery so the cursor never skips an entry.
func (r *auditRelay) drain(idx int, hook config.WebhookConfig) {
	ctx := context.Background()
	entries, err := r.eng.Repo.AuditEntriesAfter(ctx, relayBatchSize, r.cursor(idx))
	if err != nil {
		log.Printf("webhook: read audit trail: %v", err)
		return
	}
	filter := newActionFilter(hook.Actions)
	for _, entry := range entries {
		if filter.match(entry.Action) {
			if err := r.post(ctx, hook, entry); err != nil {
				log.Printf("webhook: deliver %d to %s: %v", entry.ID, hook.URL, err)
				return
			}
		}
		r.advance(idx, entry.ID)
	}
}

// cursor returns the subscriber's position, initializing new subscribers at
// the current tail. History replays belong to the audit query API, not the
// push feed.
func (r *auditRelay) cursor(idx int) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.cursors[idx]; ok {
		return cur
	}
	cur, err := r.eng.Repo.LatestAuditID(context.Background())
	if err != nil {
		log.Printf("webhook: init cursor: %v", err)
		cur = 0
	}
	r.cursors[idx] = cur
	return cur
}

func (r *auditRelay) advance(idx int, id int64) {
	r.mu.Lock()
	r.cursors[idx] = id
	r.mu.Unlock()
}

type webhookDelivery struct {
	ID         int64           `json:"id"`
	Action     string          `json:"action"`
	ReportID   string          `json:"report_id"`
	CycleID    string          `json:"cycle_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	ActorKind  string          `json:"actor_kind"`
	TS         string          `json:"ts"`
	NewState   json.RawMessage `json:"new_state"`
	Rationale  string          `json:"rationale,omitempty"`
}

func (r *auditRelay) post(ctx context.Context, hook config.WebhookConfig, entry domain.AuditEntry) error {
	state := json.RawMessage(`{}`)
	if json.Valid([]byte(entry.NewState)) {
		state = json.RawMessage(entry.NewState)
	}
	payload := webhookDelivery{
		ID:         entry.ID,
		Action:     entry.Action,
		ReportID:   r.reportID,
		CycleID:    entry.CycleID,
		EntityKind: entry.EntityKind,
		EntityID:   entry.EntityID,
		ActorID:    entry.ActorID,
		ActorKind:  entry.ActorKind,
		TS:         entry.TS,
		NewState:   state,
	}
	if entry.Rationale != nil {
		payload.Rationale = *entry.Rationale
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Regcycle-Action", entry.Action)
	req.Header.Set("X-Regcycle-Delivery", strconv.FormatInt(entry.ID, 10))
	req.Header.Set("X-Regcycle-Report", r.reportID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Regcycle-Secret", hook.Secret)
	}
	res, err := r.clientFor(hook).Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &deliveryError{status: res.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	return nil
}

func (r *auditRelay) clientFor(hook config.WebhookConfig) *http.Client {
	if hook.TimeoutSeconds <= 0 {
		return r.client
	}
	t := time.Duration(hook.TimeoutSeconds) * time.Second
	if t == r.client.Timeout {
		return r.client
	}
	return &http.Client{Timeout: t}
}

type deliveryError struct {
	status int
	body   string
}

func (e *deliveryError) Error() string {
	if e.body == "" {
		return "status " + strconv.Itoa(e.status)
	}
	return "status " + strconv.Itoa(e.status) + ": " + e.body
}

type actionFilter struct {
	all bool
	set map[string]struct{}
}

func newActionFilter(actions []string) actionFilter {
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		if key := strings.TrimSpace(a); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return actionFilter{all: true}
	}
	return actionFilter{set: set}
}

func (f actionFilter) match(action string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[action]
	return ok
}
