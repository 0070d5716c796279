package solver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "pland/pkg/logx"
)

func TestSolveRoundtrip(t *testing.T) {
	t.Parallel()

	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/solve" {
			t.Errorf("request = %s %s, want POST /solve", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "OPTIMAL",
			"objective_value": 4200,
			"wall_time": 0.5,
			"variables": [{"id": "task_a_start", "value": 540}],
			"bool_variables": [{"id": "task_a_presence", "value": true}],
			"intervals": [{"id": "task_a", "start": 540, "end": 600, "presence": true}]
		}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logx.Nop())

	req := &Request{}
	req.AddInt("task_a_start", 0, 10080)
	req.AddBool("task_a_presence")
	req.AddInterval(Interval{ID: "task_a", StartVar: "task_a_start", Duration: 60, Optional: true, PresenceVar: "task_a_presence"})
	req.AddFixedInterval("busy_0", 600, 30)
	req.AddConstraint(NoOverlap("task_a", "busy_0"))
	req.Objective = &Objective{Type: Maximize, Terms: []Term{{Var: "task_a_presence", Coefficient: 100}}}

	resp, err := c.Solve(context.Background(), req)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	if len(got.Variables) != 2 || got.Variables[1].Min != 600 || got.Variables[1].Max != 600 {
		t.Fatalf("sent variables = %+v, want fixed busy_0_start at 600", got.Variables)
	}
	if resp.Status != StatusOptimal || !resp.Solved() {
		t.Fatalf("status = %q, want OPTIMAL", resp.Status)
	}
	if resp.ObjectiveValue == nil || *resp.ObjectiveValue != 4200 {
		t.Fatalf("objective = %v, want 4200", resp.ObjectiveValue)
	}
	if resp.WallDuration() != 500*time.Millisecond {
		t.Fatalf("wall duration = %s, want 500ms", resp.WallDuration())
	}
	iv, ok := resp.IntervalByID("task_a")
	if !ok || iv.Start != 540 || iv.End != 600 || !iv.Presence {
		t.Fatalf("interval task_a = %+v, want placed at [540, 600)", iv)
	}
}

func TestSolveRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		wantInMsg string
	}{
		{
			name:      "validation envelope",
			status:    http.StatusBadRequest,
			body:      `{"detail": {"error": "invalid_model", "details": "Duplicate integer variable id 'x'"}}`,
			wantInMsg: "invalid_model: Duplicate integer variable id 'x'",
		},
		{
			name:      "plain body",
			status:    http.StatusInternalServerError,
			body:      "upstream worker crashed",
			wantInMsg: "upstream worker crashed",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL}, logx.Nop())
			_, err := c.Solve(context.Background(), &Request{})

			var rej *RejectedError
			if !errors.As(err, &rej) {
				t.Fatalf("Solve error = %v, want *RejectedError", err)
			}
			if rej.StatusCode != tt.status {
				t.Fatalf("StatusCode = %d, want %d", rej.StatusCode, tt.status)
			}
			if !strings.Contains(rej.Message, tt.wantInMsg) {
				t.Fatalf("Message = %q, want it to contain %q", rej.Message, tt.wantInMsg)
			}
		})
	}
}

func TestSolveTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server watches the connection and cancels
		// r.Context() when the timed-out client disconnects; otherwise this
		// handler never returns and srv.Close deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, logx.Nop())
	_, err := c.Solve(context.Background(), &Request{})

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Solve error = %v, want *TimeoutError", err)
	}
	if te.Timeout != 50*time.Millisecond {
		t.Fatalf("Timeout = %s, want 50ms", te.Timeout)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/health" {
			t.Errorf("request = %s %s, want GET /health", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "ok", "ortools_version": "9.11.4210", "timeout_seconds": 5.0, "num_workers": 4}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logx.Nop())
	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !h.OK() || h.OrToolsVersion != "9.11.4210" || h.NumWorkers != 4 {
		t.Fatalf("health = %+v", h)
	}
}

func TestRequestWireFormat(t *testing.T) {
	t.Parallel()

	req := &Request{}
	req.AddInt("task_a_end", 0, 10080)
	req.AddBool("grp_0")
	req.AddConstraint(
		LessEqual("task_a_end", 120),
		Equal("task_a_day", "task_b_day").When("grp_0"),
		SumEqual([]Term{{Var: "task_a_start", Coefficient: 1}}, 0),
		BoolOr(Not("grp_0"), "task_a_presence"),
	)

	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)

	for _, want := range []string{
		`"right":120`,
		`"right":"task_b_day"`,
		`"condition":"grp_0"`,
		`"equals":0`,
		`"literals":["!grp_0","task_a_presence"]`,
		`"bool_variables":[{"id":"grp_0"}]`,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("marshaled request missing %s:\n%s", want, s)
		}
	}
}
