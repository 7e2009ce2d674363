//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

// RegisterSteps binds the step vocabulary. current returns the scenario's
// context, which is replaced before every scenario.
func RegisterSteps(sc *godog.ScenarioContext, current func() *TestContext) {
	s := &steps{current: current}

	sc.Step(`^qcgate is running$`, s.qcgateIsRunning)
	sc.Step(`^I am "([^"]*)"$`, s.iAm)
	sc.Step(`^I am anonymous$`, s.iAmAnonymous)

	sc.Step(`^I request "([^"]*)" approval for subject "([^"]*)"$`, s.requestApproval)
	sc.Step(`^I save the approval id$`, s.saveApprovalID)
	sc.Step(`^I approve the saved approval$`, s.approveSaved)
	sc.Step(`^I reject the saved approval because "([^"]*)"$`, s.rejectSaved)
	sc.Step(`^I update the saved approval notes to "([^"]*)"$`, s.updateSavedNotes)
	sc.Step(`^I cancel the saved approval$`, s.cancelSaved)
	sc.Step(`^I withdraw the saved approval$`, s.withdrawSaved)
	sc.Step(`^I fetch the saved approval$`, s.fetchSaved)
	sc.Step(`^I activate subject "([^"]*)"$`, s.activate)
	sc.Step(`^I evaluate "([^"]*)"$`, s.evaluate)
	sc.Step(`^I GET "([^"]*)"$`, s.get)

	sc.Step(`^the response status should be (\d+)$`, s.statusShouldBe)
	sc.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, s.fieldShouldEqual)
}

type steps struct {
	current func() *TestContext
}

func (s *steps) qcgateIsRunning(context.Context) error {
	tc := s.current()
	if err := tc.Do(http.MethodGet, "/health/live", nil); err != nil {
		return err
	}
	if tc.Status() != http.StatusOK {
		return fmt.Errorf("server not live: status %d", tc.Status())
	}
	return nil
}

func (s *steps) iAm(_ context.Context, actor string) error {
	if _, ok := actors[actor]; !ok {
		return fmt.Errorf("unknown actor %q", actor)
	}
	s.current().Actor = actor
	return nil
}

func (s *steps) iAmAnonymous(context.Context) error {
	s.current().Actor = ""
	return nil
}

func (s *steps) requestApproval(_ context.Context, action, name string) error {
	subjectID, ok := subjects[name]
	if !ok {
		return fmt.Errorf("unknown subject %q", name)
	}
	return s.current().Do(http.MethodPost, "/approvals", map[string]any{
		"subject_id":       subjectID,
		"action":           action,
		"proposed_changes": map[string]any{"schema_version": 1, "data": map[string]any{"line": 4}},
		"notes":            "scenario " + name,
		"notify_approvers": true,
	})
}

func (s *steps) saveApprovalID(context.Context) error {
	tc := s.current()
	v, err := tc.ResponseField("id")
	if err != nil {
		return err
	}
	approvalID, ok := v.(string)
	if !ok || approvalID == "" {
		return fmt.Errorf("response id is not a string: %v", v)
	}
	tc.ApprovalID = approvalID
	return nil
}

func (s *steps) approveSaved(context.Context) error {
	tc := s.current()
	return tc.Do(http.MethodPost, "/approvals/"+tc.ApprovalID+"/decision", map[string]any{
		"approved": true,
		"notes":    "looks good",
	})
}

func (s *steps) rejectSaved(_ context.Context, reason string) error {
	tc := s.current()
	return tc.Do(http.MethodPost, "/approvals/"+tc.ApprovalID+"/decision", map[string]any{
		"approved":         false,
		"rejection_reason": reason,
	})
}

func (s *steps) updateSavedNotes(_ context.Context, notes string) error {
	tc := s.current()
	return tc.Do(http.MethodPatch, "/approvals/"+tc.ApprovalID, map[string]any{"notes": notes})
}

func (s *steps) cancelSaved(context.Context) error {
	tc := s.current()
	return tc.Do(http.MethodPost, "/approvals/"+tc.ApprovalID+"/cancel", nil)
}

func (s *steps) withdrawSaved(context.Context) error {
	tc := s.current()
	return tc.Do(http.MethodDelete, "/approvals/"+tc.ApprovalID, nil)
}

func (s *steps) fetchSaved(context.Context) error {
	tc := s.current()
	return tc.Do(http.MethodGet, "/approvals/"+tc.ApprovalID, nil)
}

func (s *steps) activate(_ context.Context, name string) error {
	subjectID, ok := subjects[name]
	if !ok {
		return fmt.Errorf("unknown subject %q", name)
	}
	return s.current().Do(http.MethodPost, "/subjects/"+subjectID+"/activate", nil)
}

func (s *steps) evaluate(_ context.Context, action string) error {
	return s.current().Do(http.MethodPost, "/policy/evaluate", map[string]any{"action": action})
}

func (s *steps) get(_ context.Context, path string) error {
	return s.current().Do(http.MethodGet, path, nil)
}

func (s *steps) statusShouldBe(_ context.Context, expected int) error {
	tc := s.current()
	if tc.Status() != expected {
		return fmt.Errorf("expected status %d but got %d: %s", expected, tc.Status(), tc.LastResponseBody)
	}
	return nil
}

func (s *steps) fieldShouldEqual(_ context.Context, field, expected string) error {
	v, err := s.current().ResponseField(field)
	if err != nil {
		return err
	}
	if actual := fmt.Sprint(v); actual != expected {
		return fmt.Errorf("expected %s to be %q but got %q", field, expected, actual)
	}
	return nil
}
