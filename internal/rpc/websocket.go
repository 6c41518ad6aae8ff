package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/insoblok/inso-gateway/pkg/types"
)

// Subscription topics.
const (
	TopicLedgerInfo          = "ledgerInfo"
	TopicPendingTransactions = "pendingTransactions"
)

const wsWriteTimeout = 5 * time.Second

// WSManager serves the gateway methods over WebSocket and pushes
// notifications to subscribed connections.
type WSManager struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*wsSubscription
	conns         map[*wsConn]struct{}
	nextID        atomic.Uint64
	handler       *Handler
	timeout       time.Duration
	readLimit     int64
	logger        log.Logger
	upgrader      websocket.Upgrader
}

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type wsSubscription struct {
	id    uint64
	conn  *wsConn
	topic string
}

type wsNotification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  wsNotificationBody `json:"params"`
}

type wsNotificationBody struct {
	Subscription string      `json:"subscription"`
	Result       interface{} `json:"result"`
}

// NewWSManager creates a WebSocket manager. Each message is served with
// timeout as its deadline.
func NewWSManager(handler *Handler, timeout time.Duration, readLimit int64) *WSManager {
	return &WSManager{
		subscriptions: make(map[uint64]*wsSubscription),
		conns:         make(map[*wsConn]struct{}),
		handler:       handler,
		timeout:       timeout,
		readLimit:     readLimit,
		logger:        log.New("module", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades an HTTP connection to WebSocket and serves requests on it.
func (m *WSManager) HandleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Debug("WebSocket upgrade failed", "err", err)
		return
	}
	conn := &wsConn{conn: raw}
	if m.readLimit > 0 {
		raw.SetReadLimit(m.readLimit)
	}
	m.mu.Lock()
	m.conns[conn] = struct{}{}
	m.mu.Unlock()
	defer m.cleanupConn(conn)

	m.logger.Debug("WebSocket connection established", "remote", r.RemoteAddr)

	for {
		_, message, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debug("WebSocket read error", "err", err)
			}
			return
		}

		var req JSONRPCRequest
		if err := json.Unmarshal(message, &req); err != nil {
			conn.writeJSON(newError(nil, &JSONRPCError{Code: codeParseError, Message: "parse error"}))
			continue
		}

		var resp *JSONRPCResponse
		switch req.Method {
		case "gateway_subscribe":
			resp = m.subscribe(conn, &req)
		case "gateway_unsubscribe":
			resp = m.unsubscribe(conn, &req)
		default:
			ctx, cancel := context.WithTimeout(withRequestID(r.Context(), uuid.NewString()), m.timeout)
			resp = m.handler.Handle(ctx, &req)
			cancel()
		}
		if err := conn.writeJSON(resp); err != nil {
			m.logger.Debug("WebSocket write failed", "err", err)
			return
		}
	}
}

func (m *WSManager) subscribe(conn *wsConn, req *JSONRPCRequest) *JSONRPCResponse {
	var params []string
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) != 1 {
		return newError(req.ID, invalidParams("need [topic]"))
	}
	switch params[0] {
	case TopicLedgerInfo, TopicPendingTransactions:
	default:
		return newError(req.ID, invalidParams(fmt.Sprintf("unsupported subscription topic %q", params[0])))
	}

	sub := &wsSubscription{id: m.nextID.Add(1), conn: conn, topic: params[0]}
	m.mu.Lock()
	m.subscriptions[sub.id] = sub
	m.mu.Unlock()

	m.logger.Debug("New subscription", "id", sub.id, "topic", sub.topic)
	return newResult(req.ID, hexutil.EncodeUint64(sub.id))
}

func (m *WSManager) unsubscribe(conn *wsConn, req *JSONRPCRequest) *JSONRPCResponse {
	var params []hexutil.Uint64
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) != 1 {
		return newError(req.ID, invalidParams("need [subscriptionId]"))
	}
	id := uint64(params[0])

	m.mu.Lock()
	sub, exists := m.subscriptions[id]
	exists = exists && sub.conn == conn
	if exists {
		delete(m.subscriptions, id)
	}
	m.mu.Unlock()
	return newResult(req.ID, exists)
}

func (m *WSManager) broadcast(topic string, result interface{}) {
	m.mu.RLock()
	subs := make([]*wsSubscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		if sub.topic == topic {
			subs = append(subs, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		note := wsNotification{
			JSONRPC: "2.0",
			Method:  "gateway_subscription",
			Params:  wsNotificationBody{Subscription: hexutil.EncodeUint64(sub.id), Result: result},
		}
		if err := sub.conn.writeJSON(note); err != nil {
			m.logger.Debug("Failed to notify subscriber", "id", sub.id, "err", err)
		}
	}
}

// BroadcastLedgerInfo notifies ledgerInfo subscribers of a new version.
func (m *WSManager) BroadcastLedgerInfo(info types.LedgerInfo) {
	m.broadcast(TopicLedgerInfo, info)
}

// BroadcastPendingTx notifies pendingTransactions subscribers of an accepted transaction.
func (m *WSManager) BroadcastPendingTx(hash common.Hash) {
	m.broadcast(TopicPendingTransactions, hash)
}

// SubscriberCount returns the number of active subscriptions.
func (m *WSManager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// CloseAll closes every open connection.
func (m *WSManager) CloseAll() {
	m.mu.RLock()
	conns := make([]*wsConn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()
	for _, c := range conns {
		c.conn.Close()
	}
}

// cleanupConn removes all subscriptions for a disconnected connection.
func (m *WSManager) cleanupConn(conn *wsConn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.conns, conn)
	for id, sub := range m.subscriptions {
		if sub.conn == conn {
			delete(m.subscriptions, id)
		}
	}
	conn.conn.Close()
}
