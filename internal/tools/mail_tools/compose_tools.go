package mail_tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/snowpost/icloudmcp/internal/instrumentation"
	"github.com/snowpost/icloudmcp/internal/mail"
	"github.com/snowpost/icloudmcp/internal/server"
	"github.com/snowpost/icloudmcp/internal/tools/common"
)

// RegisterComposeTools registers sending and drafting tools with the MCP server
func RegisterComposeTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// Send message tool
	sendMessageTool := mcp.NewTool("send_message",
		mcp.WithDescription("Send an email over SMTP and append a copy to the Sent mailbox"),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Comma-separated list of recipient addresses"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Message subject"),
		),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("Plain-text message body"),
		),
		mcp.WithString("cc",
			mcp.Description("Comma-separated list of Cc addresses"),
		),
		mcp.WithString("bcc",
			mcp.Description("Comma-separated list of Bcc addresses"),
		),
		mcp.WithNumber("reply_to_uid",
			mcp.Description("UID of a message to reply to. Threads In-Reply-To/References and prefixes the subject with 'Re: '."),
		),
		mcp.WithString("reply_mailbox",
			mcp.Description("Mailbox holding the message being replied to (default: INBOX)"),
		),
	)

	s.AddTool(sendMessageTool, common.InstrumentedToolHandlerWithService(
		"send_message", instrumentation.ServiceSMTP, instrumentation.OperationSend, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSendMessage(ctx, request, sc)
		}))

	// Create draft tool
	createDraftTool := mcp.NewTool("create_draft",
		mcp.WithDescription("Save a draft message to the Drafts mailbox without sending it"),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Comma-separated list of recipient addresses"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Message subject"),
		),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("Plain-text message body"),
		),
		mcp.WithString("cc",
			mcp.Description("Comma-separated list of Cc addresses"),
		),
	)

	s.AddTool(createDraftTool, common.InstrumentedToolHandlerWithService(
		"create_draft", instrumentation.ServiceIMAP, instrumentation.OperationCreate, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCreateDraft(ctx, request, sc)
		}))

	return nil
}

func handleSendMessage(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	out, errResult := outgoingFromArgs(args)
	if errResult != nil {
		return errResult, nil
	}

	if bcc := common.StringArg(args, "bcc", ""); bcc != "" {
		out.Bcc = splitAddresses(bcc)
	}
	if uid := common.IntArg(args, "reply_to_uid", 0); uid > 0 {
		out.ReplyToUID = uint32(uid)
		out.ReplyMailbox = common.StringArg(args, "reply_mailbox", defaultMailbox)
	}

	client, err := getMailClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	subject, err := client.SendMessage(ctx, out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to send message: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Message %q sent to %s", subject, strings.Join(out.To, ", "))), nil
}

func handleCreateDraft(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	out, errResult := outgoingFromArgs(args)
	if errResult != nil {
		return errResult, nil
	}

	client, err := getMailClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := client.CreateDraft(ctx, out); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create draft: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Draft %q saved to %s", out.Subject, client.DraftsMailbox())), nil
}

// outgoingFromArgs extracts the fields shared by send_message and
// create_draft. The second return value is a non-nil error result when
// a required argument is missing.
func outgoingFromArgs(args map[string]interface{}) (mail.OutgoingMessage, *mcp.CallToolResult) {
	to, err := common.RequiredString(args, "to")
	if err != nil {
		return mail.OutgoingMessage{}, mcp.NewToolResultError(err.Error())
	}
	subject, err := common.RequiredString(args, "subject")
	if err != nil {
		return mail.OutgoingMessage{}, mcp.NewToolResultError(err.Error())
	}
	body, err := common.RequiredString(args, "body")
	if err != nil {
		return mail.OutgoingMessage{}, mcp.NewToolResultError(err.Error())
	}

	out := mail.OutgoingMessage{
		To:      splitAddresses(to),
		Subject: subject,
		Body:    body,
	}
	if cc := common.StringArg(args, "cc", ""); cc != "" {
		out.Cc = splitAddresses(cc)
	}
	return out, nil
}

func splitAddresses(list string) []string {
	parts := strings.Split(list, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		if addr := strings.TrimSpace(p); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}
