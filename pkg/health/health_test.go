package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func statusCheck(s Status) CheckFunc {
	return func() Check { return Check{Status: s} }
}

// TestCheckSetsAreSeparate tests that each endpoint runs only its own checks
func TestCheckSetsAreSeparate(t *testing.T) {
	hc := NewHealthChecker()

	var calls []string
	record := func(name string) CheckFunc {
		return func() Check {
			calls = append(calls, name)
			return Check{Status: StatusHealthy}
		}
	}
	hc.RegisterCheck("quorum", record("quorum"))
	hc.RegisterReadinessCheck("leader_agreement", record("leader_agreement"))
	hc.RegisterLivenessCheck("routing", record("routing"))

	for _, run := range []struct {
		fn   func() Response
		want string
	}{
		{hc.Check, "quorum"},
		{hc.CheckReadiness, "leader_agreement"},
		{hc.CheckLiveness, "routing"},
	} {
		calls = nil
		resp := run.fn()
		if len(calls) != 1 || calls[0] != run.want {
			t.Errorf("expected only %s to run, got %v", run.want, calls)
		}
		if _, ok := resp.Checks[run.want]; !ok {
			t.Errorf("%s result not in response", run.want)
		}
	}
}

func TestCheckStatusAggregation(t *testing.T) {
	tests := []struct {
		name           string
		checkStatuses  []Status
		expectedStatus Status
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			for i, status := range tt.checkStatuses {
				hc.RegisterCheck(string(rune('a'+i)), statusCheck(status))
			}

			if resp := hc.Check(); resp.Status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, resp.Status)
			}
		})
	}
}

func TestCheckTiming(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck("slow", func() Check {
		time.Sleep(10 * time.Millisecond)
		return Check{Status: StatusHealthy}
	})

	before := time.Now()
	resp := hc.Check()
	after := time.Now()

	if resp.Timestamp.Before(before) || resp.Timestamp.After(after) {
		t.Errorf("timestamp %v not between %v and %v", resp.Timestamp, before, after)
	}
	if d := resp.Checks["slow"].Duration; d < 10*time.Millisecond {
		t.Errorf("duration %v shorter than the check", d)
	}
}

func TestServingCheck(t *testing.T) {
	draining := false
	check := ServingCheck(func() bool { return draining })

	if got := check(); got.Status != StatusHealthy {
		t.Errorf("serving check = %v, want healthy", got.Status)
	}
	draining = true
	if got := check(); got.Status != StatusUnhealthy || got.Name != "serving" {
		t.Errorf("serving check while draining = %+v", got)
	}
}

// TestHandlers tests status codes: /health tolerates degraded, probes do not
func TestHandlers(t *testing.T) {
	type handlerCase struct {
		name     string
		register func(*HealthChecker, string, CheckFunc)
		handler  func(*HealthChecker) http.HandlerFunc
		degraded int
	}
	handlers := []handlerCase{
		{"health", (*HealthChecker).RegisterCheck, (*HealthChecker).HTTPHandler, http.StatusOK},
		{"ready", (*HealthChecker).RegisterReadinessCheck, (*HealthChecker).ReadinessHandler, http.StatusServiceUnavailable},
		{"live", (*HealthChecker).RegisterLivenessCheck, (*HealthChecker).LivenessHandler, http.StatusServiceUnavailable},
	}

	for _, h := range handlers {
		expected := map[Status]int{
			StatusHealthy:   http.StatusOK,
			StatusDegraded:  h.degraded,
			StatusUnhealthy: http.StatusServiceUnavailable,
		}
		for status, code := range expected {
			t.Run(h.name+"/"+string(status), func(t *testing.T) {
				hc := NewHealthChecker()
				h.register(hc, "check", statusCheck(status))

				rec := httptest.NewRecorder()
				h.handler(hc)(rec, httptest.NewRequest(http.MethodGet, "/"+h.name, nil))

				if rec.Code != code {
					t.Errorf("expected status code %d, got %d", code, rec.Code)
				}
				if rec.Header().Get("Content-Type") != "application/json" {
					t.Error("expected Content-Type application/json")
				}

				var resp Response
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if resp.Status != status {
					t.Errorf("expected response status %s, got %s", status, resp.Status)
				}
			})
		}
	}
}

func TestConcurrentCheckRegistration(t *testing.T) {
	hc := NewHealthChecker()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			hc.RegisterCheck(string(rune('a'+id)), statusCheck(StatusHealthy))
		}(i)
		go func() {
			defer wg.Done()
			hc.Check()
		}()
	}
	wg.Wait()

	if resp := hc.Check(); len(resp.Checks) != 10 {
		t.Errorf("expected 10 checks, got %d", len(resp.Checks))
	}
}

func TestCheckNameDefaultsToRegistration(t *testing.T) {
	hc := NewHealthChecker()
	hc.RegisterCheck("anonymous", func() Check {
		return Check{Status: StatusHealthy}
	})

	resp := hc.Check()
	if resp.Checks["anonymous"].Name != "anonymous" {
		t.Errorf("expected name to default to registration key, got %q", resp.Checks["anonymous"].Name)
	}
	if resp.Uptime < 0 {
		t.Errorf("expected non-negative uptime, got %f", resp.Uptime)
	}
}

func TestQuorumCheck(t *testing.T) {
	tests := []struct {
		name           string
		alive, total   int
		expectedStatus Status
	}{
		{"all alive", 5, 5, StatusHealthy},
		{"minority down", 4, 5, StatusDegraded},
		{"majority down", 2, 5, StatusDegraded},
		{"all dead", 0, 5, StatusUnhealthy},
		{"empty cluster", 0, 0, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := QuorumCheck(func() (int, int) { return tt.alive, tt.total })()

			if check.Status != tt.expectedStatus {
				t.Errorf("expected %s, got %s (%s)", tt.expectedStatus, check.Status, check.Message)
			}
			if check.Details["alive_instances"] != tt.alive {
				t.Errorf("expected alive_instances %d, got %v", tt.alive, check.Details["alive_instances"])
			}
		})
	}
}

func TestLeaderAgreementCheck(t *testing.T) {
	tests := []struct {
		name           string
		leaders        map[int]int
		expected       int
		expectedStatus Status
	}{
		{"agreed on highest", map[int]int{1: 4, 2: 4, 4: 4}, 4, StatusHealthy},
		{"disagreement", map[int]int{1: 4, 2: 5, 4: 4}, 4, StatusDegraded},
		{"nobody knows", map[int]int{1: NoLeader, 2: NoLeader}, 2, StatusDegraded},
		{"agreed on stale leader", map[int]int{1: 1, 2: 1, 3: 1}, 3, StatusDegraded},
		{"no alive instance", map[int]int{}, NoLeader, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := LeaderAgreementCheck(
				func() map[int]int { return tt.leaders },
				func() int { return tt.expected },
			)()

			if check.Status != tt.expectedStatus {
				t.Errorf("expected %s, got %s (%s)", tt.expectedStatus, check.Status, check.Message)
			}
		})
	}
}

func TestMailboxBacklogCheck(t *testing.T) {
	depths := map[int]int{1: 3, 2: 2000, 3: 0}

	check := MailboxBacklogCheck(func() map[int]int { return depths }, 1024)()
	if check.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", check.Status)
	}
	if check.Details["max_depth"] != 2000 {
		t.Errorf("expected max_depth 2000, got %v", check.Details["max_depth"])
	}

	depths[2] = 10
	check = MailboxBacklogCheck(func() map[int]int { return depths }, 1024)()
	if check.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", check.Status)
	}

	// zero disables the warning
	depths[2] = 1 << 20
	check = MailboxBacklogCheck(func() map[int]int { return depths }, 0)()
	if check.Status != StatusHealthy {
		t.Errorf("expected healthy with warning disabled, got %s", check.Status)
	}
}

func TestElectionChecksThroughHandler(t *testing.T) {
	hc := NewHealthChecker()
	leaders := map[int]int{1: 3, 2: 3, 3: 3}
	hc.RegisterReadinessCheck("leader", LeaderAgreementCheck(
		func() map[int]int { return leaders },
		func() int { return 3 },
	))

	rec := httptest.NewRecorder()
	hc.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 when leader agreed, got %d", rec.Code)
	}

	leaders[2] = NoLeader
	rec = httptest.NewRecorder()
	hc.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 during an election, got %d", rec.Code)
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Checks["leader"].Status != StatusDegraded {
		t.Errorf("expected degraded leader check, got %s", resp.Checks["leader"].Status)
	}
}
