package mail_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/snowpost/icloudmcp/internal/instrumentation"
	"github.com/snowpost/icloudmcp/internal/server"
	"github.com/snowpost/icloudmcp/internal/tools/batch"
	"github.com/snowpost/icloudmcp/internal/tools/common"
)

// RegisterManageTools registers the mailbox management tools with the MCP server
func RegisterManageTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// Move message tool
	moveMessageTool := mcp.NewTool("move_message",
		mcp.WithDescription("Move a message to another mailbox"),
		mcp.WithNumber("uid",
			mcp.Required(),
			mcp.Description("Message UID to move"),
		),
		mcp.WithString("destination",
			mcp.Required(),
			mcp.Description("Destination mailbox (e.g. 'Archive', 'Receipts')"),
		),
		mcp.WithString("mailbox",
			mcp.Description("Mailbox holding the message (default: INBOX)"),
		),
	)

	s.AddTool(moveMessageTool, common.InstrumentedToolHandlerWithService(
		"move_message", instrumentation.ServiceIMAP, instrumentation.OperationMove, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleMoveMessage(ctx, request, sc)
		}))

	// Archive message tool (supports single or multiple UIDs)
	archiveMessageTool := mcp.NewTool("archive_message",
		mcp.WithDescription("Move one or more messages to the Archive mailbox"),
		mcp.WithNumber("uid",
			mcp.Required(),
			mcp.Description("Message UID (number) or array of UIDs to archive"),
		),
		mcp.WithString("mailbox",
			mcp.Description("Mailbox holding the messages (default: INBOX)"),
		),
	)

	s.AddTool(archiveMessageTool, common.InstrumentedToolHandlerWithService(
		"archive_message", instrumentation.ServiceIMAP, instrumentation.OperationMove, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleArchiveMessage(ctx, request, sc)
		}))

	// Delete message tool (supports single or multiple UIDs)
	deleteMessageTool := mcp.NewTool("delete_message",
		mcp.WithDescription("Move one or more messages to the trash mailbox (Deleted Messages)"),
		mcp.WithNumber("uid",
			mcp.Required(),
			mcp.Description("Message UID (number) or array of UIDs to delete"),
		),
		mcp.WithString("mailbox",
			mcp.Description("Mailbox holding the messages (default: INBOX)"),
		),
	)

	s.AddTool(deleteMessageTool, common.InstrumentedToolHandlerWithService(
		"delete_message", instrumentation.ServiceIMAP, instrumentation.OperationDelete, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleDeleteMessage(ctx, request, sc)
		}))

	// Flag message tool
	flagMessageTool := mcp.NewTool("flag_message",
		mcp.WithDescription("Set or clear a flag on a message"),
		mcp.WithNumber("uid",
			mcp.Required(),
			mcp.Description("Message UID to flag"),
		),
		mcp.WithString("flag",
			mcp.Required(),
			mcp.Description("Flag name: 'seen' (read marker) or 'flagged' (star)"),
		),
		mcp.WithBoolean("set",
			mcp.Description("true to set the flag, false to clear it (default: true)"),
		),
		mcp.WithString("mailbox",
			mcp.Description("Mailbox holding the message (default: INBOX)"),
		),
	)

	s.AddTool(flagMessageTool, common.InstrumentedToolHandlerWithService(
		"flag_message", instrumentation.ServiceIMAP, instrumentation.OperationFlag, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleFlagMessage(ctx, request, sc)
		}))

	return nil
}

func handleMoveMessage(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	uid, err := common.UIDArg(args, "uid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	destination, err := common.RequiredString(args, "destination")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mailbox := common.StringArg(args, "mailbox", defaultMailbox)

	client, err := getMailClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := client.MoveMessage(ctx, mailbox, uid, destination); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to move message: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Message %d moved from %s to %s", uid, mailbox, destination)), nil
}

func handleArchiveMessage(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	uids, err := batch.ParseUIDs(args["uid"], "uid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mailbox := common.StringArg(args, "mailbox", defaultMailbox)

	client, err := getMailClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results := batch.ProcessBatch(uids, func(uid uint32) (string, error) {
		if err := client.ArchiveMessage(ctx, mailbox, uid); err != nil {
			return "", err
		}
		return fmt.Sprintf("Message %d archived", uid), nil
	})

	return mcp.NewToolResultText(batch.FormatResults(results)), nil
}

func handleDeleteMessage(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	uids, err := batch.ParseUIDs(args["uid"], "uid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mailbox := common.StringArg(args, "mailbox", defaultMailbox)

	client, err := getMailClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results := batch.ProcessBatch(uids, func(uid uint32) (string, error) {
		if err := client.DeleteMessage(ctx, mailbox, uid); err != nil {
			return "", err
		}
		return fmt.Sprintf("Message %d moved to trash", uid), nil
	})

	return mcp.NewToolResultText(batch.FormatResults(results)), nil
}

func handleFlagMessage(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	uid, err := common.UIDArg(args, "uid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	flag, err := common.RequiredString(args, "flag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	set := common.BoolArg(args, "set", true)
	mailbox := common.StringArg(args, "mailbox", defaultMailbox)

	client, err := getMailClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := client.FlagMessage(ctx, mailbox, uid, flag, set); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to flag message: %v", err)), nil
	}

	action := "set on"
	if !set {
		action = "cleared from"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Flag %q %s message %d", flag, action, uid)), nil
}
