// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the mailroom operations as tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/starford/mailroom/internal/models"
	"github.com/starford/mailroom/internal/mutation"
	"github.com/starford/mailroom/internal/reconcile"
	"github.com/starford/mailroom/internal/recipients"
	"github.com/starford/mailroom/internal/remote"
)

// Gate fails with apperr.ErrUnauthenticated while signed out.
type Gate interface {
	Require() error
}

// Server wraps the MCP server with mailroom tools.
type Server struct {
	mcp      *server.MCPServer
	svc      *mutation.Service
	rec      *reconcile.Reconciler
	composer *recipients.Composer
	gate     Gate
	log      *zap.Logger

	handlers map[string]server.ToolHandlerFunc
}

// New creates a new MCP server with all tools registered.
func New(svc *mutation.Service, rec *reconcile.Reconciler, composer *recipients.Composer, gate Gate, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{svc: svc, rec: rec, composer: composer, gate: gate, log: log.Named("mcp"), handlers: map[string]server.ToolHandlerFunc{}}

	s.mcp = server.NewMCPServer(
		"Mailroom",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.add(mcp.NewTool("get_dashboard",
		mcp.WithDescription("Profile, contacts, groups (with members) and templates in one call."),
	), s.guarded(s.getDashboard))

	s.add(mcp.NewTool("list_contacts",
		mcp.WithDescription("List all contacts."),
	), s.guarded(s.listContacts))

	s.add(mcp.NewTool("create_contact",
		mcp.WithDescription("Create a contact."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Display name")),
		mcp.WithString("email", mcp.Required(), mcp.Description("Email address")),
	), s.guarded(s.createContact))

	s.add(mcp.NewTool("delete_contact",
		mcp.WithDescription("Delete a contact by ID."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Contact ID")),
	), s.guarded(s.deleteContact))

	s.add(mcp.NewTool("list_groups",
		mcp.WithDescription("List all groups with their members."),
	), s.guarded(s.listGroups))

	s.add(mcp.NewTool("save_group",
		mcp.WithDescription("Create a group, or update one when id is given, and make its "+
			"membership exactly contact_ids. Only the difference is sent: members no longer "+
			"listed are removed, then new ones are added."),
		mcp.WithString("id", mcp.Description("Group ID; omit to create a new group")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Group name")),
		mcp.WithString("description", mcp.Description("Group description")),
		mcp.WithArray("contact_ids", mcp.Description("Desired member contact IDs"), mcp.WithStringItems()),
	), s.guarded(s.saveGroup))

	s.add(mcp.NewTool("delete_group",
		mcp.WithDescription("Delete a group. Contacts are kept. Requires confirm=true."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Group ID")),
		mcp.WithBoolean("confirm", mcp.Description("Must be true to delete")),
	), s.guarded(s.deleteGroup))

	s.add(mcp.NewTool("list_templates",
		mcp.WithDescription("List all email templates."),
	), s.guarded(s.listTemplates))

	s.add(mcp.NewTool("create_template",
		mcp.WithDescription("Create an email template. The name becomes the subject when composing."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Template name")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Template body")),
	), s.guarded(s.createTemplate))

	s.add(mcp.NewTool("import_template",
		mcp.WithDescription("Create a template from a text file at an http(s) URL or a base64 "+
			"data: URI. The file may start with YAML front matter naming the template; "+
			"see get_template_contract."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data: URI of a text file")),
		mcp.WithString("name", mcp.Description("Template name; overrides the front matter and file name")),
	), s.guarded(s.importTemplate))

	s.add(mcp.NewTool("delete_template",
		mcp.WithDescription("Delete a template by ID."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Template ID")),
	), s.guarded(s.deleteTemplate))

	s.add(mcp.NewTool("get_template_contract",
		mcp.WithDescription("Returns the template file format used by the drop folder and import_template."),
	), s.getTemplateContract)

	s.add(mcp.NewTool("compose",
		mcp.WithDescription("Open the composer for a template. The current recipient selection is kept."),
		mcp.WithString("template_id", mcp.Required(), mcp.Description("Template ID")),
		mcp.WithString("subject", mcp.Description("Subject override")),
		mcp.WithString("body", mcp.Description("Body override")),
	), s.guarded(s.compose))

	s.add(mcp.NewTool("toggle_recipient",
		mcp.WithDescription("Toggle a contact, or a whole group, in the recipient selection. "+
			"For a group: if any member is selected all members are removed, otherwise all are added."),
		mcp.WithString("contact_id", mcp.Description("Contact ID")),
		mcp.WithString("group_id", mcp.Description("Group ID")),
	), s.guarded(s.toggleRecipient))

	s.add(mcp.NewTool("get_draft",
		mcp.WithDescription("Show the current draft and selected recipients."),
	), s.guarded(s.getDraft))

	s.add(mcp.NewTool("send_email",
		mcp.WithDescription("Send the current draft to every selected recipient."),
	), s.guarded(s.sendEmail))

	s.mcp.AddResource(
		mcp.NewResource("mailroom://template-format", "Template File Format",
			mcp.WithResourceDescription("Text file format accepted by the drop folder and import_template."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTemplateFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) add(tool mcp.Tool, h server.ToolHandlerFunc) {
	s.handlers[tool.Name] = h
	s.mcp.AddTool(tool, h)
}

// guarded rejects tool calls while signed out.
func (s *Server) guarded(h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := s.gate.Require(); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return h(ctx, req)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) toolError(tool string, err error) (*mcp.CallToolResult, error) {
	s.log.Warn("tool failed", zap.String("tool", tool), zap.Error(err))
	return mcp.NewToolResultError(err.Error()), nil
}

func (s *Server) getDashboard(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d, err := s.svc.Dashboard(ctx)
	if err != nil {
		return s.toolError("get_dashboard", err)
	}
	return jsonResult(d)
}

func (s *Server) listContacts(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contacts, err := s.svc.Contacts(ctx)
	if err != nil {
		return s.toolError("list_contacts", err)
	}
	return jsonResult(contacts)
}

func (s *Server) createContact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	email, err := req.RequireString("email")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.svc.CreateContact(ctx, remote.ContactInput{Name: name, Email: email})
	if err != nil {
		return s.toolError("create_contact", err)
	}
	return jsonResult(c)
}

func (s *Server) deleteContact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteContact(ctx, models.ID(id)); err != nil {
		return s.toolError("delete_contact", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted contact %s", id)), nil
}

func (s *Server) listGroups(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groups, err := s.svc.Groups(ctx)
	if err != nil {
		return s.toolError("list_groups", err)
	}
	return jsonResult(groups)
}

func (s *Server) saveGroup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	form := reconcile.GroupForm{
		ID:          models.ID(req.GetString("id", "")),
		Name:        name,
		Description: req.GetString("description", ""),
	}
	for _, id := range req.GetStringSlice("contact_ids", nil) {
		form.ContactIDs = append(form.ContactIDs, models.ID(id))
	}

	res, err := s.rec.Save(ctx, form)
	if err != nil {
		var se *reconcile.StepError
		if errors.As(err, &se) && res != nil {
			s.log.Warn("group save incomplete", zap.String("step", string(se.Step)), zap.Error(err))
			out, _ := json.Marshal(res)
			return mcp.NewToolResultError(fmt.Sprintf("%v; completed so far: %s", err, out)), nil
		}
		return s.toolError("save_group", err)
	}
	return jsonResult(res)
}

func (s *Server) deleteGroup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteGroup(ctx, models.ID(id), req.GetBool("confirm", false)); err != nil {
		return s.toolError("delete_group", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted group %s", id)), nil
}

func (s *Server) listTemplates(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	templates, err := s.svc.Templates(ctx)
	if err != nil {
		return s.toolError("list_templates", err)
	}
	return jsonResult(templates)
}

func (s *Server) createTemplate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, err := s.svc.CreateTemplate(ctx, remote.TemplateUpload{Name: name, Content: content})
	if err != nil {
		return s.toolError("create_template", err)
	}
	return jsonResult(t)
}

func (s *Server) deleteTemplate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteTemplate(ctx, models.ID(id)); err != nil {
		return s.toolError("delete_template", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted template %s", id)), nil
}

func (s *Server) getTemplateContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TemplateFormatContract), nil
}

func (s *Server) readTemplateFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "mailroom://template-format",
			MIMEType: "text/markdown",
			Text:     TemplateFormatContract,
		},
	}, nil
}

func (s *Server) compose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("template_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.composer.OpenTemplate(ctx, models.ID(id)); err != nil {
		return s.toolError("compose", err)
	}
	args := req.GetArguments()
	var subject, body *string
	if v, ok := args["subject"].(string); ok {
		subject = &v
	}
	if v, ok := args["body"].(string); ok {
		body = &v
	}
	if err := s.composer.Edit(subject, body); err != nil {
		return s.toolError("compose", err)
	}
	return jsonResult(s.composer.State())
}

func (s *Server) toggleRecipient(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contactID := req.GetString("contact_id", "")
	groupID := req.GetString("group_id", "")
	switch {
	case contactID != "" && groupID != "":
		return mcp.NewToolResultError("give either contact_id or group_id, not both"), nil
	case contactID != "":
		selected, err := s.composer.ToggleContact(ctx, models.ID(contactID))
		if err != nil {
			return s.toolError("toggle_recipient", err)
		}
		verb := "deselected"
		if selected {
			verb = "selected"
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s contact %s; %d recipients", verb, contactID, s.composer.Selection().Len())), nil
	case groupID != "":
		added, removed, err := s.composer.ToggleGroup(ctx, models.ID(groupID))
		if err != nil {
			return s.toolError("toggle_recipient", err)
		}
		return mcp.NewToolResultText(fmt.Sprintf("group %s: added %d, removed %d; %d recipients",
			groupID, added, removed, s.composer.Selection().Len())), nil
	default:
		return mcp.NewToolResultError("contact_id or group_id required"), nil
	}
}

func (s *Server) getDraft(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.composer.State())
}

func (s *Server) sendEmail(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := s.composer.Send(ctx)
	if err != nil {
		return s.toolError("send_email", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("sent to %d recipients", n)), nil
}
