package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/presence/pkg/session"
)

type fakeController struct {
	mu      sync.Mutex
	calls   []string
	roles   []bool
	status  session.Status
	stopped bool
}

func (f *fakeController) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeController) CreateSession() { f.record("create") }
func (f *fakeController) Resume()        { f.record("resume") }
func (f *fakeController) Pause()         { f.record("pause") }
func (f *fakeController) Terminate()     { f.record("terminate") }

func (f *fakeController) SetOperatorRole(operator bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles = append(f.roles, operator)
}

func (f *fakeController) Status() (session.Status, error) {
	if f.stopped {
		return session.Status{}, errors.New("stopped")
	}
	return f.status, nil
}

func newSessionApp(controller *fakeController) *fiber.App {
	app := fiber.New()
	RegisterSessionRoutes(app, controller, nil)
	return app
}

func TestSessionActions(t *testing.T) {
	controller := &fakeController{}
	app := newSessionApp(controller)

	for _, action := range []string{"create", "pause", "resume", "terminate"} {
		resp, err := app.Test(httptest.NewRequest("POST", "/api/v1/session/"+action, nil))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusAccepted {
			t.Errorf("Expected 202 for %s, got %d", action, resp.StatusCode)
		}
	}

	want := "create,pause,resume,terminate"
	if got := strings.Join(controller.calls, ","); got != want {
		t.Errorf("Expected calls %s, got %s", want, got)
	}
}

func TestSessionStatusAndTelemetry(t *testing.T) {
	telemetry := session.DefaultTelemetry()
	telemetry.Temperature = 21.5
	controller := &fakeController{status: session.Status{
		State:       session.Connected,
		Description: session.Connected.Description(),
		InstallID:   "install-1",
		Telemetry:   telemetry,
	}}
	app := newSessionApp(controller)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/session", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	var status map[string]interface{}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("Failed to decode %s: %v", body, err)
	}
	if status["state"] != "connected" || status["install_id"] != "install-1" {
		t.Errorf("Unexpected status %s", body)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/telemetry", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	var got session.Telemetry
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("Failed to decode %s: %v", body, err)
	}
	if got.Temperature != 21.5 {
		t.Errorf("Expected temperature 21.5, got %v", got.Temperature)
	}

	controller.stopped = true
	resp, _ = app.Test(httptest.NewRequest("GET", "/api/v1/session", nil))
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Errorf("Expected 503 after stop, got %d", resp.StatusCode)
	}
}

func TestSessionSetRole(t *testing.T) {
	controller := &fakeController{}
	app := newSessionApp(controller)

	put := func(body string) int {
		req := httptest.NewRequest("PUT", "/api/v1/session/role", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		return resp.StatusCode
	}

	if code := put(`{"operator":true}`); code != fiber.StatusAccepted {
		t.Errorf("Expected 202, got %d", code)
	}
	if code := put(`{}`); code != fiber.StatusBadRequest {
		t.Errorf("Expected 400 without operator, got %d", code)
	}
	if len(controller.roles) != 1 || !controller.roles[0] {
		t.Errorf("Expected one operator role change, got %v", controller.roles)
	}
}
