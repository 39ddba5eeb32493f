package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type mockPinger struct {
	fail bool
}

func (m *mockPinger) Ping(ctx context.Context) error {
	if m.fail {
		return errors.New("mock ping failed")
	}
	return nil
}

// **Feature: deployment-portal, Property 15: Health Aggregation**
// *For any* combination of store and deployment API reachability, the overall
// status SHALL be unhealthy iff the store is down, degraded iff only the
// deployment API is down, and every component SHALL appear in the response.
func TestPropertyHealthAggregation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	genVersion := gen.RegexMatch("v?[0-9]+\\.[0-9]+\\.[0-9]+")

	properties.Property("overall status follows the worst component", prop.ForAll(
		func(version string, dbUp, upstreamUp bool) bool {
			checker := NewChecker(version).
				Critical("database", &mockPinger{fail: !dbUp}).
				Optional("upstream", &mockPinger{fail: !upstreamUp})

			resp := checker.Check(context.Background())
			if len(resp.Components) != 2 || resp.Version != version {
				return false
			}

			want := StatusHealthy
			switch {
			case !dbUp:
				want = StatusUnhealthy
			case !upstreamUp:
				want = StatusDegraded
			}
			return resp.Status == want
		},
		genVersion, gen.Bool(), gen.Bool(),
	))

	properties.Property("only unhealthy answers 503", prop.ForAll(
		func(dbUp, upstreamUp bool) bool {
			checker := NewChecker("v1.0.0").
				Critical("database", &mockPinger{fail: !dbUp}).
				Optional("upstream", &mockPinger{fail: !upstreamUp})

			rr := httptest.NewRecorder()
			checker.Handler()(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			var body Response
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				return false
			}
			if dbUp {
				return rr.Code == http.StatusOK
			}
			return rr.Code == http.StatusServiceUnavailable && body.Status == StatusUnhealthy
		},
		gen.Bool(), gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestUnconfiguredComponent(t *testing.T) {
	resp := NewChecker("dev").Critical("database", nil).Check(context.Background())
	if resp.Components["database"].Status != StatusUnhealthy {
		t.Errorf("got %+v", resp.Components["database"])
	}
}

func TestCheckHonorsTimeout(t *testing.T) {
	slow := PingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	checker := NewChecker("dev").Optional("upstream", slow)
	checker.SetTimeout(20 * time.Millisecond)

	start := time.Now()
	resp := checker.Check(context.Background())
	if time.Since(start) > time.Second {
		t.Fatal("check did not respect timeout")
	}
	if resp.Status != StatusDegraded {
		t.Errorf("status = %s", resp.Status)
	}
	if names := checker.Names(); len(names) != 1 || names[0] != "upstream" {
		t.Errorf("names = %v", names)
	}
}
