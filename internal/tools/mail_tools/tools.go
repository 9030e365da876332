package mail_tools

import (
	"fmt"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/snowpost/icloudmcp/internal/mail"
	"github.com/snowpost/icloudmcp/internal/server"
)

// defaultMailbox is used when a tool is called without a mailbox argument.
const defaultMailbox = "INBOX"

// RegisterMailTools registers all mail-related tools with the MCP server
func RegisterMailTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if err := RegisterMessageTools(s, sc); err != nil {
		return fmt.Errorf("failed to register message tools: %w", err)
	}
	if err := RegisterAttachmentTools(s, sc); err != nil {
		return fmt.Errorf("failed to register attachment tools: %w", err)
	}
	if err := RegisterComposeTools(s, sc); err != nil {
		return fmt.Errorf("failed to register compose tools: %w", err)
	}
	if err := RegisterManageTools(s, sc); err != nil {
		return fmt.Errorf("failed to register manage tools: %w", err)
	}
	return nil
}

// getMailClient returns the shared mail client with a setup hint when
// credentials are missing.
func getMailClient(sc *server.ServerContext) (*mail.Client, error) {
	client, err := sc.MailClient()
	if err != nil {
		return nil, fmt.Errorf("iCloud mail is not configured: %v. Set APPLE_ID and ICLOUD_APP_PASSWORD (an app-specific password from appleid.apple.com)", err)
	}
	return client, nil
}
