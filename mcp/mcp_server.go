package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"builderbuddy-backend/core/marketplace"
	"builderbuddy-backend/middleware"
	"builderbuddy-backend/services"
	mpstore "builderbuddy-backend/storage/marketplace"
)

// MCPServer wraps the mcp-go server with the marketplace tools.
type MCPServer struct {
	mcpServer *server.MCPServer
	svc       *services.MarketplaceService
	// caller acts for sessions that carry no authenticated address (stdio).
	caller marketplace.Address
}

// NewMCPServer creates a new MCP server using the mcp-go library.
func NewMCPServer(svc *services.MarketplaceService, caller marketplace.Address) *MCPServer {
	mcpServer := server.NewMCPServer(
		"BuilderBuddy MCP Server",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s := &MCPServer{
		mcpServer: mcpServer,
		svc:       svc,
		caller:    caller,
	}
	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server for transport setup
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// HTTPHandler serves the tools over streamable HTTP. The caller address set
// by the API key middleware is carried into tool calls.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if c, ok := middleware.CallerFrom(r.Context()); ok {
				return middleware.WithCaller(ctx, c)
			}
			return ctx
		}),
	)
}

func (s *MCPServer) callerFrom(ctx context.Context) marketplace.Address {
	if c, ok := middleware.CallerFrom(ctx); ok && c != "" {
		return marketplace.Address(c)
	}
	return s.caller
}

func (s *MCPServer) registerTools() {
	// Levels
	s.mcpServer.AddTool(mcp.NewTool("get_level_table",
		mcp.WithDescription("List the service levels with their required collateral and minimum score"),
	), s.handleGetLevelTable)
	s.mcpServer.AddTool(mcp.NewTool("get_max_eligible_level",
		mcp.WithDescription("Highest level a contractor with this score may stake for"),
		mcp.WithNumber("score", mcp.Required(), mcp.Description("Reputation score")),
	), s.handleGetMaxEligibleLevel)

	// Orders
	s.mcpServer.AddTool(mcp.NewTool("get_order",
		mcp.WithDescription("Get an order by id"),
		mcp.WithNumber("order_id", mcp.Required(), mcp.Description("Order id")),
	), s.handleGetOrder)
	s.mcpServer.AddTool(mcp.NewTool("list_orders",
		mcp.WithDescription("List orders, optionally by status"),
		mcp.WithString("status", mcp.Description("Created, Confirmed, Cancelled or Finished")),
	), s.handleListOrders)
	s.mcpServer.AddTool(mcp.NewTool("list_customer_orders",
		mcp.WithDescription("List every order of a customer"),
		mcp.WithString("customer_id", mcp.Required(), mcp.Description("Customer user id")),
	), s.handleListCustomerOrders)
	s.mcpServer.AddTool(mcp.NewTool("create_order",
		mcp.WithDescription("Create an order as the calling customer"),
		mcp.WithString("customer_id", mcp.Required(), mcp.Description("Customer user id")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short title")),
		mcp.WithString("description", mcp.Description("Work description")),
		mcp.WithNumber("category", mcp.Required(), mcp.Description("0 Construction, 1 Renovation, 2 Interior, 3 Plumbing, 4 Electrical, 5 Landscaping")),
		mcp.WithString("locality", mcp.Description("Where the work happens")),
		mcp.WithNumber("level", mcp.Required(), mcp.Description("Required contractor level, 1-5")),
		mcp.WithNumber("budget", mcp.Required(), mcp.Description("Budget in token base units")),
		mcp.WithString("expected_start_date", mcp.Required(), mcp.Description("RFC3339 start date in the future")),
	), s.handleCreateOrder)

	// Identities and escrows
	s.mcpServer.AddTool(mcp.NewTool("get_customer",
		mcp.WithDescription("Get a registered customer"),
		mcp.WithString("customer_id", mcp.Required(), mcp.Description("Customer user id")),
	), s.handleGetCustomer)
	s.mcpServer.AddTool(mcp.NewTool("get_contractor",
		mcp.WithDescription("Get a registered contractor with score, level and collateral"),
		mcp.WithString("contractor_id", mcp.Required(), mcp.Description("Contractor user id")),
	), s.handleGetContractor)
	s.mcpServer.AddTool(mcp.NewTool("get_escrow",
		mcp.WithDescription("Get the escrow of a confirmed order with its tasks"),
		mcp.WithNumber("order_id", mcp.Required(), mcp.Description("Order id")),
	), s.handleGetEscrow)

	// Events
	s.mcpServer.AddTool(mcp.NewTool("list_events",
		mcp.WithDescription("List journaled marketplace events, newest last"),
		mcp.WithString("type", mcp.Description("Event type, e.g. OrderCreated")),
		mcp.WithString("user_id", mcp.Description("Customer or contractor id")),
		mcp.WithNumber("order_id", mcp.Description("Order id")),
		mcp.WithNumber("after", mcp.Description("Only events with a greater sequence")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of events (default 50)")),
	), s.handleListEvents)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

// stringArg returns a trimmed string argument.
func stringArg(args map[string]interface{}, tool, name string, required bool) (string, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		if required {
			return "", NewMissingFieldError(tool, name)
		}
		return "", nil
	}
	v, ok := raw.(string)
	if !ok {
		return "", NewTypeError(tool, name, "string")
	}
	v = strings.TrimSpace(v)
	if v == "" && required {
		return "", NewMissingFieldError(tool, name)
	}
	return v, nil
}

// uintArg reads a non-negative integer argument no larger than max.
func uintArg(args map[string]interface{}, tool, name string, required bool, max uint64) (uint64, bool, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		if required {
			return 0, false, NewMissingFieldError(tool, name)
		}
		return 0, false, nil
	}
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false, NewTypeError(tool, name, "number")
		}
		f = parsed
	default:
		return 0, false, NewTypeError(tool, name, "number")
	}
	if f < 0 || f != math.Trunc(f) || f > float64(max) {
		return 0, false, &ToolError{
			Code:       marketplace.CodeOf(marketplace.ErrInvalidInput),
			Message:    fmt.Sprintf("%s must be an integer between 0 and %d", name, max),
			Tool:       tool,
			Field:      name,
			HttpStatus: 400,
		}
	}
	return uint64(f), true, nil
}

func (s *MCPServer) handleGetLevelTable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tiers := s.svc.Engine.LevelTable().Tiers()
	levels := make([]map[string]interface{}, 0, len(tiers))
	for i, t := range tiers {
		levels = append(levels, map[string]interface{}{
			"level":               i + 1,
			"required_collateral": t.RequiredCollateral,
			"minimum_score":       t.MinimumScore,
		})
	}
	return jsonResult(map[string]interface{}{
		"levels":   levels,
		"token":    s.svc.Token.Symbol(),
		"decimals": s.svc.Token.Decimals(),
	})
}

func (s *MCPServer) handleGetMaxEligibleLevel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "get_max_eligible_level"
	score, _, err := uintArg(request.GetArguments(), tool, "score", true, math.MaxUint32)
	if err != nil {
		return errorResult(tool, err), nil
	}
	return jsonResult(map[string]interface{}{
		"score": score,
		"level": s.svc.Engine.GetMaxEligibleLevelByScore(score),
	})
}

func (s *MCPServer) handleGetOrder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "get_order"
	id, _, err := uintArg(request.GetArguments(), tool, "order_id", true, math.MaxUint32)
	if err != nil {
		return errorResult(tool, err), nil
	}
	order, err := s.svc.Engine.GetOrder(id)
	if err != nil {
		return errorResult(tool, err), nil
	}
	return jsonResult(order)
}

func (s *MCPServer) handleListOrders(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "list_orders"
	raw, err := stringArg(request.GetArguments(), tool, "status", false)
	if err != nil {
		return errorResult(tool, err), nil
	}
	var filter *marketplace.OrderStatus
	if raw != "" {
		found := false
		for st := marketplace.OrderCreated; st <= marketplace.OrderFinished; st++ {
			if strings.EqualFold(raw, st.String()) {
				filter, found = &st, true
				break
			}
		}
		if !found {
			return errorResult(tool, fmt.Errorf("%w: unknown status %q", marketplace.ErrInvalidInput, raw)), nil
		}
	}
	orders := s.svc.Engine.ListOrders(filter)
	return jsonResult(map[string]interface{}{"orders": orders, "total_count": len(orders)})
}

func (s *MCPServer) handleListCustomerOrders(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "list_customer_orders"
	id, err := stringArg(request.GetArguments(), tool, "customer_id", true)
	if err != nil {
		return errorResult(tool, err), nil
	}
	orders := s.svc.Engine.GetAllCustomerOrders(id)
	return jsonResult(map[string]interface{}{"orders": orders, "total_count": len(orders)})
}

func (s *MCPServer) handleCreateOrder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "create_order"
	args := request.GetArguments()

	customerID, err := stringArg(args, tool, "customer_id", true)
	if err != nil {
		return errorResult(tool, err), nil
	}
	title, err := stringArg(args, tool, "title", true)
	if err != nil {
		return errorResult(tool, err), nil
	}
	description, _ := stringArg(args, tool, "description", false)
	locality, _ := stringArg(args, tool, "locality", false)
	category, _, err := uintArg(args, tool, "category", true, math.MaxUint8)
	if err != nil {
		return errorResult(tool, err), nil
	}
	level, _, err := uintArg(args, tool, "level", true, math.MaxUint8)
	if err != nil {
		return errorResult(tool, err), nil
	}
	budget, _, err := uintArg(args, tool, "budget", true, 1<<53)
	if err != nil {
		return errorResult(tool, err), nil
	}
	rawStart, err := stringArg(args, tool, "expected_start_date", true)
	if err != nil {
		return errorResult(tool, err), nil
	}
	start, err := time.Parse(time.RFC3339, rawStart)
	if err != nil {
		return errorResult(tool, &ToolError{
			Code:       marketplace.CodeOf(marketplace.ErrInvalidInput),
			Message:    "expected_start_date must be RFC3339",
			Tool:       tool,
			Field:      "expected_start_date",
			HttpStatus: 400,
		}), nil
	}

	order, err := s.svc.CreateOrder(s.callerFrom(ctx), customerID, marketplace.OrderInput{
		Title:             title,
		Description:       description,
		Category:          marketplace.Category(category),
		Locality:          locality,
		Level:             uint8(level),
		Budget:            budget,
		ExpectedStartDate: start,
	})
	if err != nil {
		return errorResult(tool, err), nil
	}
	return jsonResult(order)
}

func (s *MCPServer) handleGetCustomer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "get_customer"
	id, err := stringArg(request.GetArguments(), tool, "customer_id", true)
	if err != nil {
		return errorResult(tool, err), nil
	}
	rec, err := s.svc.Registry.GetCustomerInfo(id)
	if err != nil {
		return errorResult(tool, err), nil
	}
	return jsonResult(map[string]interface{}{"user_id": id, "customer": rec})
}

func (s *MCPServer) handleGetContractor(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "get_contractor"
	id, err := stringArg(request.GetArguments(), tool, "contractor_id", true)
	if err != nil {
		return errorResult(tool, err), nil
	}
	rec, err := s.svc.Registry.GetContractorInfo(id)
	if err != nil {
		return errorResult(tool, err), nil
	}
	return jsonResult(map[string]interface{}{
		"user_id":            id,
		"contractor":         rec,
		"max_eligible_level": s.svc.Engine.GetMaxEligibleLevelByScore(rec.Score),
	})
}

func (s *MCPServer) handleGetEscrow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "get_escrow"
	id, _, err := uintArg(request.GetArguments(), tool, "order_id", true, math.MaxUint32)
	if err != nil {
		return errorResult(tool, err), nil
	}
	view, err := s.svc.Escrow(id)
	if err != nil {
		return errorResult(tool, err), nil
	}
	return jsonResult(view)
}

func (s *MCPServer) handleListEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "list_events"
	args := request.GetArguments()

	filter := mpstore.EventFilter{Limit: 50}
	var err error
	if filter.Type, err = stringArg(args, tool, "type", false); err != nil {
		return errorResult(tool, err), nil
	}
	if filter.UserID, err = stringArg(args, tool, "user_id", false); err != nil {
		return errorResult(tool, err), nil
	}
	orderID, ok, err := uintArg(args, tool, "order_id", false, math.MaxUint32)
	if err != nil {
		return errorResult(tool, err), nil
	}
	if ok {
		filter.OrderID = &orderID
	}
	if filter.AfterSeq, _, err = uintArg(args, tool, "after", false, 1<<53); err != nil {
		return errorResult(tool, err), nil
	}
	limit, ok, err := uintArg(args, tool, "limit", false, 1000)
	if err != nil {
		return errorResult(tool, err), nil
	}
	if ok && limit > 0 {
		filter.Limit = int(limit)
	}

	events, err := s.svc.Events(ctx, filter)
	if err != nil {
		return errorResult(tool, err), nil
	}
	if events == nil {
		events = []marketplace.Event{}
	}
	return jsonResult(map[string]interface{}{"events": events, "total_count": len(events)})
}
