package server

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"

	"github.com/mj1618/support-roster/internal/model"
	"github.com/mj1618/support-roster/internal/output"
	"github.com/mj1618/support-roster/internal/platform"
)

// toText serializes a tool result to YAML for the MCP response.
func toText(v interface{}) string {
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return string(b)
}

func actionError(action string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(toText(output.ActionResult{Action: action, Error: err.Error()}))
}

func endpointResult(action string, ep model.Endpoint) *mcp.CallToolResult {
	return mcp.NewToolResultText(toText(output.ActionResult{OK: true, Action: action, Endpoint: &ep}))
}

func (s *Server) handleListEndpoints(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	status := stringParam(params, "status", "")
	groupRef := stringParam(params, "group", "")
	category, err := model.ParseCategory(stringParam(params, "category", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	groupID := ""
	if groupRef != "" {
		g, err := s.router.LookupGroup(groupRef)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		groupID = g.ID
	}

	var eps []model.Endpoint
	for _, ep := range s.router.Endpoints() {
		switch {
		case status == "live" && !ep.Status.IsLive():
			continue
		case status != "" && status != "live" && string(ep.Status) != status:
			continue
		case groupID != "" && ep.GroupID != groupID:
			continue
		case category != "" && ep.Category != category:
			continue
		}
		eps = append(eps, ep)
	}
	return mcp.NewToolResultText(toText(output.NewRosterResult(eps, s.router.Groups(), s.router.Pending()))), nil
}

func (s *Server) handleListWindows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.cache == nil {
		return mcp.NewToolResultError("window source not available on this platform"), nil
	}
	params := request.GetArguments()
	windows, err := s.cache.Detect(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	windows = platform.FilterWindows(windows, platform.ListOptions{
		PID:     intParam(params, "pid", 0),
		Process: stringParam(params, "process", ""),
		Title:   stringParam(params, "title", ""),
		Visible: boolParam(params, "visible", false),
	})
	if windows == nil {
		windows = []model.RawWindow{}
	}
	return mcp.NewToolResultText(toText(output.WindowsResult{TS: time.Now().Unix(), Windows: windows})), nil
}

func (s *Server) handleFocus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref := stringParam(request.GetArguments(), "endpoint", "")
	ok, err := s.router.Focus(ctx, ref)
	if err != nil {
		return actionError("focus", err), nil
	}
	if s.cache != nil {
		s.cache.Invalidate()
	}
	res := output.ActionResult{OK: ok, Action: "focus"}
	if !ok {
		res.Error = "window did not take focus"
	}
	if ep, err := s.router.Lookup(ref); err == nil {
		res.Endpoint = &ep
	}
	return mcp.NewToolResultText(toText(res)), nil
}

func (s *Server) handleSetLabel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	ep, err := s.router.SetLabel(ctx, stringParam(params, "endpoint", ""), stringParam(params, "label", ""))
	if err != nil {
		return actionError("set_label", err), nil
	}
	return endpointResult("set_label", ep), nil
}

func (s *Server) handleSetCategory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	cat, err := model.ParseCategory(stringParam(params, "category", ""))
	if err != nil {
		return actionError("set_category", err), nil
	}
	ep, err := s.router.SetCategory(ctx, stringParam(params, "endpoint", ""), cat)
	if err != nil {
		return actionError("set_category", err), nil
	}
	return endpointResult("set_category", ep), nil
}

func (s *Server) handleAssignGroup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	ep, err := s.router.AssignGroup(ctx, stringParam(params, "endpoint", ""), stringParam(params, "group", ""))
	if err != nil {
		return actionError("assign_group", err), nil
	}
	return endpointResult("assign_group", ep), nil
}

func (s *Server) handleRemove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref := stringParam(request.GetArguments(), "endpoint", "")
	ep, err := s.router.Lookup(ref)
	if err != nil {
		return actionError("remove", err), nil
	}
	if err := s.router.Remove(ctx, ep.ID); err != nil {
		return actionError("remove", err), nil
	}
	return endpointResult("remove", ep), nil
}

func (s *Server) handleListGroups(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groups := s.router.Groups()
	if groups == nil {
		groups = []model.Group{}
	}
	return mcp.NewToolResultText(toText(map[string]interface{}{"groups": groups})), nil
}

func (s *Server) handleCreateGroup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	g, err := s.router.CreateGroup(ctx, stringParam(params, "name", ""), stringParam(params, "color", ""))
	if err != nil {
		return actionError("create_group", err), nil
	}
	return mcp.NewToolResultText(toText(output.ActionResult{OK: true, Action: "create_group", Group: &g})), nil
}

func (s *Server) handleRenameGroup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	ref := stringParam(params, "group", "")
	if err := s.router.RenameGroup(ctx, ref, stringParam(params, "name", "")); err != nil {
		return actionError("rename_group", err), nil
	}
	res := output.ActionResult{OK: true, Action: "rename_group"}
	if g, err := s.router.LookupGroup(stringParam(params, "name", "")); err == nil {
		res.Group = &g
	}
	return mcp.NewToolResultText(toText(res)), nil
}

func (s *Server) handleDeleteGroup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	g, err := s.router.LookupGroup(stringParam(params, "group", ""))
	if err != nil {
		return actionError("delete_group", err), nil
	}
	if err := s.router.DeleteGroup(ctx, g.ID, boolParam(params, "force", false)); err != nil {
		return actionError("delete_group", err), nil
	}
	return mcp.NewToolResultText(toText(output.ActionResult{OK: true, Action: "delete_group", Group: &g})), nil
}

func (s *Server) handleListConflicts(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pending := s.router.Pending()
	return mcp.NewToolResultText(toText(map[string]interface{}{"pending": pending, "count": len(pending)})), nil
}

func (s *Server) handleAnswerConflict(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	ticketID := stringParam(params, "ticket", "")
	if ticketID == "" {
		pending := s.router.Pending()
		if len(pending) == 0 {
			return actionError("answer_conflict", fmt.Errorf("no conflict is pending")), nil
		}
		ticketID = pending[0].ID
	}
	c, err := s.router.Answer(ticketID, stringParam(params, "choice", ""))
	if err != nil {
		return actionError("answer_conflict", err), nil
	}
	return mcp.NewToolResultText(toText(output.ActionResult{OK: true, Action: "answer_conflict", Choice: c.String()})), nil
}
