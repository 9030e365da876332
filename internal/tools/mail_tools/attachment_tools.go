package mail_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/snowpost/icloudmcp/internal/instrumentation"
	"github.com/snowpost/icloudmcp/internal/server"
	"github.com/snowpost/icloudmcp/internal/tools/common"
)

// RegisterAttachmentTools registers attachment-related tools with the MCP server
func RegisterAttachmentTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	downloadAttachmentTool := mcp.NewTool("download_attachment",
		mcp.WithDescription("Download a named attachment from a message to a local directory"),
		mcp.WithNumber("uid",
			mcp.Required(),
			mcp.Description("Message UID holding the attachment"),
		),
		mcp.WithString("attachment_name",
			mcp.Required(),
			mcp.Description("Attachment filename as listed by get_message"),
		),
		mcp.WithString("save_dir",
			mcp.Required(),
			mcp.Description("Local directory to save the attachment into"),
		),
		mcp.WithString("mailbox",
			mcp.Description("Mailbox holding the message (default: INBOX)"),
		),
	)

	s.AddTool(downloadAttachmentTool, common.InstrumentedToolHandlerWithService(
		"download_attachment", instrumentation.ServiceIMAP, instrumentation.OperationGet, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleDownloadAttachment(ctx, request, sc)
		}))

	return nil
}

func handleDownloadAttachment(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	uid, err := common.UIDArg(args, "uid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := common.RequiredString(args, "attachment_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	saveDir, err := common.RequiredString(args, "save_dir")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mailbox := common.StringArg(args, "mailbox", defaultMailbox)

	client, err := getMailClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	path, err := client.DownloadAttachment(ctx, mailbox, uid, name, saveDir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to download attachment: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Attachment saved to %s", path)), nil
}
