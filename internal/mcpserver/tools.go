package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Hundi MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolBrowseOrders = mcp.NewTool("browse_orders",
	mcp.WithDescription(
		"Browse open orders on the Hundi peer-to-peer exchange. "+
			"Returns orders with crypto amount, fiat price, currency, payment methods, "+
			"and the minimum trust score the poster requires. "+
			"Use this to find a counterparty before placing your own order."),
	mcp.WithString("side",
		mcp.Description("Which side of the book to browse: 'sell' shows people selling crypto, 'buy' shows people buying"),
		mcp.Enum("buy", "sell")),
	mcp.WithString("currency",
		mcp.Description("Fiat currency code to filter by (e.g. 'INR', 'USD', 'EUR')")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of orders to return (default 20)")),
)

var ToolPlaceOrder = mcp.NewTool("place_order",
	mcp.WithDescription(
		"Place a buy or sell order on the Hundi order book. "+
			"If a compatible counter-order exists the order matches immediately and a trade opens "+
			"with the seller's crypto locked in escrow. Otherwise the order rests on the book until "+
			"matched, cancelled, or expired."),
	mcp.WithString("side",
		mcp.Required(),
		mcp.Description("'sell' to sell crypto for fiat, 'buy' to buy crypto with fiat"),
		mcp.Enum("buy", "sell")),
	mcp.WithString("amount_crypto",
		mcp.Required(),
		mcp.Description("Amount of crypto to trade (e.g. '0.500000')")),
	mcp.WithString("amount_fiat",
		mcp.Required(),
		mcp.Description("Fiat price for the full crypto amount (e.g. '42000.00')")),
	mcp.WithString("fiat_currency",
		mcp.Required(),
		mcp.Description("Three-letter fiat currency code (e.g. 'INR')")),
	mcp.WithString("payment_methods",
		mcp.Required(),
		mcp.Description("Comma-separated accepted payment methods (e.g. 'upi,bank_transfer')")),
	mcp.WithNumber("min_trust_score",
		mcp.Description("Minimum counterparty trust score (0-100). Omit to accept anyone.")),
)

var ToolCancelOrder = mcp.NewTool("cancel_order",
	mcp.WithDescription(
		"Cancel one of your open orders. Only works while the order is still on the book; "+
			"once matched into a trade use cancel_trade instead."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("The order ID from a previous place_order or list_my_orders result")),
)

var ToolListMyOrders = mcp.NewTool("list_my_orders",
	mcp.WithDescription(
		"List your own orders on the Hundi order book, including matched, cancelled, and expired ones."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of orders to return (default 20)")),
)

var ToolGetTrade = mcp.NewTool("get_trade",
	mcp.WithDescription(
		"Get the current state of a trade: status, amounts, escrow, payment window deadline. "+
			"Use this to check whether the counterparty has confirmed payment."),
	mcp.WithString("trade_id",
		mcp.Required(),
		mcp.Description("The trade ID")),
)

var ToolListMyTrades = mcp.NewTool("list_my_trades",
	mcp.WithDescription(
		"List trades you are part of, as buyer or seller, most recent first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of trades to return (default 20)")),
)

var ToolConfirmPayment = mcp.NewTool("confirm_payment",
	mcp.WithDescription(
		"Confirm the fiat payment on a trade. As the buyer this marks the payment as sent; "+
			"as the seller this acknowledges receipt and releases the escrowed crypto to the buyer. "+
			"Only confirm receipt after the money has actually arrived."),
	mcp.WithString("trade_id",
		mcp.Required(),
		mcp.Description("The trade to confirm payment on")),
)

var ToolCancelTrade = mcp.NewTool("cancel_trade",
	mcp.WithDescription(
		"Cancel a trade before the buyer confirms payment. The escrowed crypto is refunded "+
			"to the seller. Cancelling frequently lowers your trust score."),
	mcp.WithString("trade_id",
		mcp.Required(),
		mcp.Description("The trade to cancel")),
	mcp.WithString("reason",
		mcp.Description("Optional explanation shown to the counterparty")),
)

var ToolFileDispute = mcp.NewTool("file_dispute",
	mcp.WithDescription(
		"Open a dispute on a trade when the counterparty misbehaves (payment claimed but not "+
			"received, wrong amount, no response). The escrow is frozen until a moderator rules "+
			"on the dispute."),
	mcp.WithString("trade_id",
		mcp.Required(),
		mcp.Description("The trade to dispute")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("What went wrong, with enough detail for a moderator to rule")),
)

var ToolSendMessage = mcp.NewTool("send_message",
	mcp.WithDescription(
		"Send a chat message to the counterparty on a trade. "+
			"Use this to share payment details or coordinate the fiat transfer."),
	mcp.WithString("trade_id",
		mcp.Required(),
		mcp.Description("The trade whose chat to post to")),
	mcp.WithString("body",
		mcp.Required(),
		mcp.Description("The message text")),
)

var ToolReadMessages = mcp.NewTool("read_messages",
	mcp.WithDescription(
		"Read the chat history of a trade, in order. "+
			"Pass 'after' with the last sequence number you saw to fetch only new messages."),
	mcp.WithString("trade_id",
		mcp.Required(),
		mcp.Description("The trade whose chat to read")),
	mcp.WithNumber("after",
		mcp.Description("Only return messages with a sequence number greater than this (default 0)")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of messages to return (default 50)")),
)

var ToolGetTrust = mcp.NewTool("get_trust",
	mcp.WithDescription(
		"Get the trust score, tier, and trade history stats for any Hundi user. "+
			"Check a counterparty's trust before trading with them. "+
			"Tiers: new/bronze/silver/gold/platinum/diamond."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The user ID to look up")),
)
