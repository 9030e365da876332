package calendar_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/snowpost/icloudmcp/internal/caldav"
	"github.com/snowpost/icloudmcp/internal/instrumentation"
	"github.com/snowpost/icloudmcp/internal/server"
	"github.com/snowpost/icloudmcp/internal/tools/common"
)

// RegisterCalendarTools registers all calendar-related tools with the MCP server
func RegisterCalendarTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if err := RegisterEventTools(s, sc); err != nil {
		return fmt.Errorf("failed to register event tools: %w", err)
	}

	// List calendars tool
	listCalendarsTool := mcp.NewTool("list_calendars",
		mcp.WithDescription("List all calendars in the iCloud account"),
	)

	s.AddTool(listCalendarsTool, common.InstrumentedToolHandlerWithService(
		"list_calendars", instrumentation.ServiceCalDAV, instrumentation.OperationList, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListCalendars(ctx, request, sc)
		}))

	return nil
}

// getCalendarClient returns the shared calendar client with a setup
// hint when credentials are missing.
func getCalendarClient(sc *server.ServerContext) (*caldav.Client, error) {
	client, err := sc.CalendarClient()
	if err != nil {
		return nil, fmt.Errorf("iCloud calendar is not configured: %v. Set APPLE_ID and ICLOUD_APP_PASSWORD (an app-specific password from appleid.apple.com)", err)
	}
	return client, nil
}

func handleListCalendars(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	client, err := getCalendarClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	calendars, err := client.ListCalendars(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list calendars: %v", err)), nil
	}

	result := fmt.Sprintf("Found %d calendars:\n", len(calendars))
	for _, cal := range calendars {
		result += fmt.Sprintf("- %s", cal.Name)
		if cal.Description != "" {
			result += fmt.Sprintf(": %s", cal.Description)
		}
		result += fmt.Sprintf(" (%s)\n", cal.Path)
	}

	return mcp.NewToolResultText(result), nil
}
