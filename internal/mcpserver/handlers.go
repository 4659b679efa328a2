package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *HundiClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *HundiClient) *Handlers {
	return &Handlers{client: client}
}

// HandleBrowseOrders lists open orders on the book.
func (h *Handlers) HandleBrowseOrders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	side := req.GetString("side", "sell")
	currency := req.GetString("currency", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.BrowseOrders(ctx, side, currency, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to browse orders: %v", err)), nil
	}

	text, err := formatOrderList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse orders: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandlePlaceOrder submits a new order, reporting the trade if it matched.
func (h *Handlers) HandlePlaceOrder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	side := req.GetString("side", "")
	if side == "" {
		return mcp.NewToolResultError("side is required"), nil
	}
	amountCrypto := req.GetString("amount_crypto", "")
	if amountCrypto == "" {
		return mcp.NewToolResultError("amount_crypto is required"), nil
	}
	amountFiat := req.GetString("amount_fiat", "")
	if amountFiat == "" {
		return mcp.NewToolResultError("amount_fiat is required"), nil
	}
	fiatCurrency := req.GetString("fiat_currency", "")
	if fiatCurrency == "" {
		return mcp.NewToolResultError("fiat_currency is required"), nil
	}
	methodsRaw := req.GetString("payment_methods", "")
	if methodsRaw == "" {
		return mcp.NewToolResultError("payment_methods is required"), nil
	}
	var methods []string
	for _, m := range strings.Split(methodsRaw, ",") {
		if m = strings.TrimSpace(m); m != "" {
			methods = append(methods, m)
		}
	}
	minTrust := req.GetInt("min_trust_score", 0)

	raw, err := h.client.PlaceOrder(ctx, side, amountCrypto, amountFiat, fiatCurrency, methods, minTrust)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to place order: %v", err)), nil
	}

	var resp struct {
		Order   map[string]any `json:"order"`
		Trade   map[string]any `json:"trade"`
		Matched bool           `json:"matched"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Order placed: %s\n", getString(resp.Order, "id"))
	fmt.Fprintf(&sb, "  %s %s for %s %s\n",
		strings.ToUpper(getString(resp.Order, "side")),
		getString(resp.Order, "amountCrypto"),
		getString(resp.Order, "amountFiat"),
		getString(resp.Order, "fiatCurrency"))

	if resp.Matched && resp.Trade != nil {
		fmt.Fprintf(&sb, "\nMatched immediately. Trade %s opened (status: %s).\n",
			getString(resp.Trade, "id"), getString(resp.Trade, "status"))
		if v := getString(resp.Trade, "expiresAt"); v != "" {
			fmt.Fprintf(&sb, "Payment window closes at %s.\n", v)
		}
		sb.WriteString("Use send_message to coordinate the fiat payment, then confirm_payment.")
	} else {
		fmt.Fprintf(&sb, "\nNo match yet. The order rests on the book until %s.",
			getString(resp.Order, "expiresAt"))
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// HandleCancelOrder removes one of the caller's open orders.
func (h *Handlers) HandleCancelOrder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID := req.GetString("order_id", "")
	if orderID == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}

	raw, err := h.client.CancelOrder(ctx, orderID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to cancel order: %v", err)), nil
	}

	o, err := unwrapObject(raw, "order")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Order %s cancelled.", getString(o, "id"))), nil
}

// HandleListMyOrders lists the caller's own orders.
func (h *Handlers) HandleListMyOrders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListMyOrders(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list orders: %v", err)), nil
	}

	text, err := formatOrderList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse orders: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetTrade shows the current state of a trade.
func (h *Handlers) HandleGetTrade(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tradeID := req.GetString("trade_id", "")
	if tradeID == "" {
		return mcp.NewToolResultError("trade_id is required"), nil
	}

	raw, err := h.client.GetTrade(ctx, tradeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get trade: %v", err)), nil
	}

	t, err := unwrapObject(raw, "trade")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trade: %v", err)), nil
	}

	return mcp.NewToolResultText(formatTrade(t)), nil
}

// HandleListMyTrades lists trades the caller participates in.
func (h *Handlers) HandleListMyTrades(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListMyTrades(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list trades: %v", err)), nil
	}

	var resp struct {
		Trades []map[string]any `json:"trades"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trades: %v", err)), nil
	}
	if len(resp.Trades) == 0 {
		return mcp.NewToolResultText("No trades found."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d trade(s):\n\n", len(resp.Trades))
	for i, t := range resp.Trades {
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, getString(t, "id"), getString(t, "status"))
		fmt.Fprintf(&sb, "   %s crypto for %s %s via %s\n",
			getString(t, "amountCrypto"),
			getString(t, "amountFiat"),
			getString(t, "fiatCurrency"),
			getString(t, "paymentMethod"))
		fmt.Fprintf(&sb, "   Buyer: %s | Seller: %s\n",
			getString(t, "buyerId"), getString(t, "sellerId"))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleConfirmPayment confirms fiat payment sent or received.
func (h *Handlers) HandleConfirmPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tradeID := req.GetString("trade_id", "")
	if tradeID == "" {
		return mcp.NewToolResultError("trade_id is required"), nil
	}

	raw, err := h.client.ConfirmPayment(ctx, tradeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to confirm payment: %v", err)), nil
	}

	t, err := unwrapObject(raw, "trade")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trade: %v", err)), nil
	}

	status := getString(t, "status")
	switch status {
	case "completed":
		return mcp.NewToolResultText(fmt.Sprintf(
			"Trade %s completed. The escrowed crypto has been released to the buyer.", tradeID)), nil
	case "payment_confirmed":
		return mcp.NewToolResultText(fmt.Sprintf(
			"Payment marked as sent on trade %s. Waiting for the seller to confirm receipt.", tradeID)), nil
	default:
		return mcp.NewToolResultText(fmt.Sprintf("Trade %s is now %s.", tradeID, status)), nil
	}
}

// HandleCancelTrade cancels a trade and refunds the seller's escrow.
func (h *Handlers) HandleCancelTrade(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tradeID := req.GetString("trade_id", "")
	if tradeID == "" {
		return mcp.NewToolResultError("trade_id is required"), nil
	}
	reason := req.GetString("reason", "")

	raw, err := h.client.CancelTrade(ctx, tradeID, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to cancel trade: %v", err)), nil
	}

	if _, err := unwrapObject(raw, "trade"); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trade: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Trade %s cancelled. The escrowed crypto has been refunded to the seller.", tradeID)), nil
}

// HandleFileDispute opens a dispute, freezing the trade's escrow.
func (h *Handlers) HandleFileDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tradeID := req.GetString("trade_id", "")
	if tradeID == "" {
		return mcp.NewToolResultError("trade_id is required"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}

	raw, err := h.client.FileDispute(ctx, tradeID, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to file dispute: %v", err)), nil
	}

	d, err := unwrapObject(raw, "dispute")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse dispute: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Dispute %s filed on trade %s.\n"+
			"The escrow is frozen until a moderator rules. "+
			"Use get_trade to check the outcome.",
		getString(d, "id"), tradeID)), nil
}

// HandleSendMessage posts a chat message on a trade.
func (h *Handlers) HandleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tradeID := req.GetString("trade_id", "")
	if tradeID == "" {
		return mcp.NewToolResultError("trade_id is required"), nil
	}
	body := req.GetString("body", "")
	if body == "" {
		return mcp.NewToolResultError("body is required"), nil
	}

	raw, err := h.client.SendMessage(ctx, tradeID, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to send message: %v", err)), nil
	}

	m, err := unwrapObject(raw, "message")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse message: %v", err)), nil
	}

	seq, _ := getFloat(m, "seq")
	return mcp.NewToolResultText(fmt.Sprintf("Message sent (seq %.0f).", seq)), nil
}

// HandleReadMessages reads a trade's chat history.
func (h *Handlers) HandleReadMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tradeID := req.GetString("trade_id", "")
	if tradeID == "" {
		return mcp.NewToolResultError("trade_id is required"), nil
	}
	after := req.GetInt("after", 0)
	limit := req.GetInt("limit", 50)

	raw, err := h.client.ReadMessages(ctx, tradeID, int64(after), limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read messages: %v", err)), nil
	}

	var resp struct {
		Messages []map[string]any `json:"messages"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse messages: %v", err)), nil
	}
	if len(resp.Messages) == 0 {
		return mcp.NewToolResultText("No messages."), nil
	}

	var sb strings.Builder
	for _, m := range resp.Messages {
		seq, _ := getFloat(m, "seq")
		sender := getString(m, "sender")
		body := getString(m, "body")
		if getString(m, "type") == "system" {
			fmt.Fprintf(&sb, "[%.0f] (system) %s\n", seq, body)
			continue
		}
		fmt.Fprintf(&sb, "[%.0f] %s: %s\n", seq, sender, body)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetTrust returns a user's trust score and history.
func (h *Handlers) HandleGetTrust(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.GetTrust(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get trust score: %v", err)), nil
	}

	text, err := formatTrust(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse trust score: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

func formatOrderList(raw json.RawMessage) (string, error) {
	var resp struct {
		Orders []map[string]any `json:"orders"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected orders response format")
	}
	if len(resp.Orders) == 0 {
		return "No orders found matching your criteria.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d order(s):\n\n", len(resp.Orders))
	for i, o := range resp.Orders {
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, getString(o, "id"), getString(o, "status"))
		fmt.Fprintf(&sb, "   %s %s for %s %s\n",
			strings.ToUpper(getString(o, "side")),
			getString(o, "amountCrypto"),
			getString(o, "amountFiat"),
			getString(o, "fiatCurrency"))
		if methods := getStringSlice(o, "paymentMethods"); len(methods) > 0 {
			fmt.Fprintf(&sb, "   Payment: %s\n", strings.Join(methods, ", "))
		}
		fmt.Fprintf(&sb, "   Poster: %s", getString(o, "userId"))
		if v, ok := getFloat(o, "minTrustScore"); ok && v > 0 {
			fmt.Fprintf(&sb, " | Min trust: %.0f", v)
		}
		sb.WriteString("\n")
		if i < len(resp.Orders)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func formatTrade(t map[string]any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Trade %s\n", getString(t, "id"))
	fmt.Fprintf(&sb, "  Status: %s\n", getString(t, "status"))
	fmt.Fprintf(&sb, "  Amount: %s crypto for %s %s\n",
		getString(t, "amountCrypto"),
		getString(t, "amountFiat"),
		getString(t, "fiatCurrency"))
	fmt.Fprintf(&sb, "  Payment method: %s\n", getString(t, "paymentMethod"))
	fmt.Fprintf(&sb, "  Buyer: %s | Seller: %s\n", getString(t, "buyerId"), getString(t, "sellerId"))
	if v := getString(t, "expiresAt"); v != "" {
		fmt.Fprintf(&sb, "  Payment deadline: %s\n", v)
	}
	if v := getString(t, "completedAt"); v != "" {
		fmt.Fprintf(&sb, "  Completed: %s\n", v)
	}
	if v := getString(t, "cancelReason"); v != "" {
		fmt.Fprintf(&sb, "  Cancel reason: %s\n", v)
	}
	return sb.String()
}

func formatTrust(raw json.RawMessage) (string, error) {
	var resp struct {
		Trust      map[string]any `json:"trust"`
		TradeLimit string         `json:"tradeLimit"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Trust == nil {
		return "", fmt.Errorf("unexpected trust response format")
	}

	t := resp.Trust
	var sb strings.Builder
	sb.WriteString("Trust profile:\n")
	fmt.Fprintf(&sb, "  User: %s\n", getString(t, "userId"))
	if v, ok := getFloat(t, "score"); ok {
		fmt.Fprintf(&sb, "  Score: %.0f/100\n", v)
	}
	fmt.Fprintf(&sb, "  Tier: %s\n", getString(t, "tier"))
	if total, ok := getFloat(t, "totalTrades"); ok {
		completed, _ := getFloat(t, "completedTrades")
		fmt.Fprintf(&sb, "  Trades: %.0f completed of %.0f total\n", completed, total)
	}
	if v, ok := getFloat(t, "disputesLost"); ok && v > 0 {
		fmt.Fprintf(&sb, "  Disputes lost: %.0f\n", v)
	}
	if resp.TradeLimit != "" {
		fmt.Fprintf(&sb, "  Per-trade limit: %s\n", resp.TradeLimit)
	}
	return sb.String(), nil
}

// unwrapObject extracts a named object from a {"key": {...}} response envelope.
func unwrapObject(raw json.RawMessage, key string) (map[string]any, error) {
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	inner, ok := resp[key]
	if !ok {
		return nil, fmt.Errorf("no %q in response: %s", key, string(raw))
	}
	var m map[string]any
	if err := json.Unmarshal(inner, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// getString extracts a string value from a map.
func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		if f, ok := v.(float64); ok {
			return fmt.Sprintf("%g", f)
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map.
func getFloat(m map[string]any, key string) (float64, bool) {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return f, true
		}
	}
	return 0, false
}

// getStringSlice extracts a []string from a map.
func getStringSlice(m map[string]any, key string) []string {
	v, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(v))
	for _, item := range v {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
