package mail_tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/snowpost/icloudmcp/internal/instrumentation"
	"github.com/snowpost/icloudmcp/internal/mail"
	"github.com/snowpost/icloudmcp/internal/server"
	"github.com/snowpost/icloudmcp/internal/tools/common"
)

// RegisterMessageTools registers the read-only message tools with the MCP server
func RegisterMessageTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// List mailboxes tool
	listMailboxesTool := mcp.NewTool("list_mailboxes",
		mcp.WithDescription("List all mailboxes (folders) in the iCloud mail account"),
	)

	s.AddTool(listMailboxesTool, common.InstrumentedToolHandlerWithService(
		"list_mailboxes", instrumentation.ServiceIMAP, instrumentation.OperationList, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListMailboxes(ctx, request, sc)
		}))

	// List messages tool
	listMessagesTool := mcp.NewTool("list_messages",
		mcp.WithDescription("List recent messages in a mailbox, newest first"),
		mcp.WithString("mailbox",
			mcp.Description("Mailbox to list (default: INBOX)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of messages to return (default: 20)"),
		),
		mcp.WithBoolean("unseen_only",
			mcp.Description("Only list unread messages"),
		),
	)

	s.AddTool(listMessagesTool, common.InstrumentedToolHandlerWithService(
		"list_messages", instrumentation.ServiceIMAP, instrumentation.OperationList, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListMessages(ctx, request, sc)
		}))

	// Search messages tool
	searchMessagesTool := mcp.NewTool("search_messages",
		mcp.WithDescription("Search messages with server-side IMAP SEARCH"),
		mcp.WithString("query",
			mcp.Description("Text to match in the subject or body"),
		),
		mcp.WithString("mailbox",
			mcp.Description("Mailbox to search (default: INBOX)"),
		),
		mcp.WithString("from",
			mcp.Description("Match the From header (e.g. 'alice@example.com')"),
		),
		mcp.WithNumber("since_days",
			mcp.Description("Only messages received within the last N days"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return (default: 20)"),
		),
	)

	s.AddTool(searchMessagesTool, common.InstrumentedToolHandlerWithService(
		"search_messages", instrumentation.ServiceIMAP, instrumentation.OperationSearch, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSearchMessages(ctx, request, sc)
		}))

	// Get message tool
	getMessageTool := mcp.NewTool("get_message",
		mcp.WithDescription("Fetch a full message body by UID. HTML-only messages are converted to plain text."),
		mcp.WithNumber("uid",
			mcp.Required(),
			mcp.Description("Message UID as returned by list_messages or search_messages"),
		),
		mcp.WithString("mailbox",
			mcp.Description("Mailbox holding the message (default: INBOX)"),
		),
		mcp.WithBoolean("include_attachments_list",
			mcp.Description("Include attachment names, types and sizes (default: true)"),
		),
	)

	s.AddTool(getMessageTool, common.InstrumentedToolHandlerWithService(
		"get_message", instrumentation.ServiceIMAP, instrumentation.OperationGet, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetMessage(ctx, request, sc)
		}))

	return nil
}

func handleListMailboxes(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	client, err := getMailClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	mailboxes, err := client.ListMailboxes(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list mailboxes: %v", err)), nil
	}

	result := fmt.Sprintf("Found %d mailboxes:\n", len(mailboxes))
	for _, mb := range mailboxes {
		result += fmt.Sprintf("- %s", mb.Name)
		if len(mb.Attributes) > 0 {
			result += fmt.Sprintf(" (%s)", strings.Join(mb.Attributes, ", "))
		}
		result += "\n"
	}

	return mcp.NewToolResultText(result), nil
}

func handleListMessages(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	mailbox := common.StringArg(args, "mailbox", defaultMailbox)
	limit := common.IntArg(args, "limit", 0)
	unseenOnly := common.BoolArg(args, "unseen_only", false)

	client, err := getMailClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	summaries, err := client.ListMessages(ctx, mailbox, limit, unseenOnly)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list messages: %v", err)), nil
	}

	return mcp.NewToolResultText(formatSummaries(summaries, mailbox)), nil
}

func handleSearchMessages(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	mailbox := common.StringArg(args, "mailbox", defaultMailbox)

	opts := mail.SearchOptions{
		Query:     common.StringArg(args, "query", ""),
		From:      common.StringArg(args, "from", ""),
		SinceDays: common.IntArg(args, "since_days", 0),
		Limit:     common.IntArg(args, "limit", 0),
	}
	if opts.Query == "" && opts.From == "" && opts.SinceDays == 0 {
		return mcp.NewToolResultError("at least one of query, from or since_days is required"), nil
	}

	client, err := getMailClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	summaries, err := client.SearchMessages(ctx, mailbox, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to search messages: %v", err)), nil
	}

	return mcp.NewToolResultText(formatSummaries(summaries, mailbox)), nil
}

func handleGetMessage(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	uid, err := common.UIDArg(args, "uid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mailbox := common.StringArg(args, "mailbox", defaultMailbox)
	listAttachments := common.BoolArg(args, "include_attachments_list", true)

	client, err := getMailClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	msg, err := client.GetMessage(ctx, mailbox, uid)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get message: %v", err)), nil
	}

	return mcp.NewToolResultText(formatMessage(msg, listAttachments)), nil
}

func formatSummaries(summaries []mail.MessageSummary, mailbox string) string {
	if len(summaries) == 0 {
		return fmt.Sprintf("No messages found in %s", mailbox)
	}

	result := fmt.Sprintf("Found %d messages in %s:\n\n", len(summaries), mailbox)
	for i, s := range summaries {
		result += fmt.Sprintf("%d. [UID %d] %s\n", i+1, s.UID, s.Subject)
		result += fmt.Sprintf("   From: %s\n", s.From)
		if !s.Date.IsZero() {
			result += fmt.Sprintf("   Date: %s\n", s.Date.Format(time.RFC1123Z))
		}
		if flags := summaryFlags(s); flags != "" {
			result += fmt.Sprintf("   Flags: %s\n", flags)
		}
		result += "\n"
	}
	return result
}

func summaryFlags(s mail.MessageSummary) string {
	var flags []string
	if !s.Seen {
		flags = append(flags, "unread")
	}
	if s.Answered {
		flags = append(flags, "answered")
	}
	if s.Flagged {
		flags = append(flags, "flagged")
	}
	return strings.Join(flags, ", ")
}

func formatMessage(msg *mail.Message, listAttachments bool) string {
	result := fmt.Sprintf("Subject: %s\n", msg.Subject)
	result += fmt.Sprintf("From: %s\n", msg.From)
	if msg.To != "" {
		result += fmt.Sprintf("To: %s\n", msg.To)
	}
	if msg.Cc != "" {
		result += fmt.Sprintf("Cc: %s\n", msg.Cc)
	}
	if !msg.Date.IsZero() {
		result += fmt.Sprintf("Date: %s\n", msg.Date.Format(time.RFC1123Z))
	}
	result += fmt.Sprintf("UID: %d (%s)\n", msg.UID, msg.Mailbox)

	if listAttachments && len(msg.Attachments) > 0 {
		result += fmt.Sprintf("\nAttachments (%d):\n", len(msg.Attachments))
		for _, att := range msg.Attachments {
			result += fmt.Sprintf("  - %s (%s, %d bytes)\n", att.Filename, att.ContentType, att.Size)
		}
	}

	result += "\n" + msg.Body + "\n"
	return result
}
