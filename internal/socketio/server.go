// Package socketio is a minimal engine.io/socket.io endpoint serving the
// persistent mobile channel: single-item RPC, package synchronization,
// chunked upload and download.
package socketio

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fieldsync-server/internal/auth"
	"fieldsync-server/internal/model"
	"fieldsync-server/internal/registry"
	"fieldsync-server/internal/rpc"
	syncdrv "fieldsync-server/internal/sync"
)

const (
	maxPayload   int64         = 16000000
	writeTimeout time.Duration = 10 * time.Second
)

const (
	eventRPC        = "rpc"
	eventSync       = "synchronization"
	eventSyncStatus = "synchronization-status"
	eventUpload     = "upload"
	eventDownload   = "download"
	eventRegistry   = "registry"
	eventNotAuth    = "not_auth"
)

type Deps struct {
	Dispatcher  *rpc.Dispatcher
	Processor   *syncdrv.Processor
	Store       *syncdrv.Store
	Connections *registry.Registry
	TokenConfig auth.TokenConfig
	Host        string
	AppName     string
	Logger      *slog.Logger
}

type Server struct {
	dispatcher *rpc.Dispatcher
	processor  *syncdrv.Processor
	store      *syncdrv.Store
	conns      *registry.Registry
	tokens     auth.TokenConfig
	host       string
	appName    string
	log        *slog.Logger

	upgrader websocket.Upgrader
}

func NewServer(deps Deps) *Server {
	return &Server{
		dispatcher: deps.Dispatcher,
		processor:  deps.Processor,
		store:      deps.Store,
		conns:      deps.Connections,
		tokens:     deps.TokenConfig,
		host:       deps.Host,
		appName:    deps.AppName,
		log:        deps.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxPayload)

	c := newConn(ws)
	defer s.drop(c)

	open := map[string]any{
		"sid":          c.sid,
		"upgrades":     []string{},
		"pingInterval": 25000,
		"pingTimeout":  20000,
		"maxPayload":   maxPayload,
	}
	openBytes, _ := json.Marshal(open)
	_ = c.writeText(string(engineOpen) + string(openBytes))

	go c.pingLoop()
	c.readLoop(func(msg string) {
		s.handleMessage(c, msg)
	})
}

func (s *Server) drop(c *conn) {
	if c.registered.Swap(false) {
		s.conns.Remove(c.sid)
		s.logger().Debug("socket disconnected", "sid", c.sid, "login", c.principal.Login)
	}
	c.close()
}

func (s *Server) handleMessage(c *conn, msg string) {
	if msg == "" {
		return
	}

	switch enginePacketType(msg[0]) {
	case enginePong:
		c.markPong()
		return
	case engineMessage:
		s.handleSocketPayload(c, msg[1:])
		return
	case engineClose:
		c.close()
		return
	default:
		return
	}
}

type connectAuth struct {
	Token  string `json:"token"`
	Device string `json:"device"`
}

func (s *Server) handleConnect(c *conn, payload string) {
	if c.connected.Load() {
		return
	}

	_, rest := parseOptionalNamespace(payload[1:])

	var authObj connectAuth
	if rest != "" {
		_ = json.Unmarshal([]byte(rest), &authObj)
	}

	connectPkt, err := buildSocketConnectPacket("/", c.sid)
	if err != nil {
		c.close()
		return
	}
	_ = c.writeText(string(engineMessage) + connectPkt)
	c.connected.Store(true)

	if authObj.Token == "" {
		c.principal = model.Anonymous()
		s.logger().Debug("socket connected without token", "sid", c.sid)
		_ = c.emit(eventNotAuth, s.failLayout("user is not authorized", http.StatusUnauthorized, ""))
		return
	}

	claims, err := auth.VerifyToken(authObj.Token, s.tokens)
	if err != nil {
		c.principal = model.Anonymous()
		s.logger().Debug("socket token rejected", "sid", c.sid, "error", err)
		_ = c.emit(eventNotAuth, s.failLayout("user is not authorized", http.StatusUnauthorized, ""))
		return
	}

	c.principal = claims.Principal()
	c.principal.Device = authObj.Device

	s.conns.Add(&registry.Entry{
		ID:        c.sid,
		Principal: c.principal,
		Device:    authObj.Device,
		Writer:    c,
	})
	c.registered.Store(true)

	s.logger().Debug("socket connected", "sid", c.sid, "login", c.principal.Login, "device", authObj.Device)
	_ = c.emit(eventRegistry, s.okLayout("", ""))
}

func (s *Server) handleSocketPayload(c *conn, payload string) {
	if payload == "" {
		return
	}

	switch socketPacketType(payload[0]) {
	case socketConnect:
		s.handleConnect(c, payload)
		return
	case socketEvent:
		s.handleEvent(c, payload)
		return
	case socketAck:
		// clients never owe the server an ack
		return
	default:
		return
	}
}

func (s *Server) handleEvent(c *conn, payload string) {
	if !c.connected.Load() {
		return
	}

	pkt, err := parseSocketEventPacket(payload)
	if err != nil {
		return
	}

	switch pkt.Event {
	case "ping":
		if pkt.ID != nil {
			ackPayload, err := buildSocketAckPacket(pkt.Namespace, *pkt.ID)
			if err == nil {
				_ = c.writeText(string(engineMessage) + ackPayload)
			}
		}
		return

	case eventRPC:
		s.handleRPC(c, pkt)
		return

	case eventSync:
		s.handleSynchronization(c, pkt)
		return

	case eventUpload:
		s.handleUpload(c, pkt)
		return

	case eventDownload:
		s.handleDownload(c, pkt)
		return

	default:
		return
	}
}

// handleRPC runs one item through the same pipeline the HTTP batch
// endpoint uses and answers with the framed result envelope.
func (s *Server) handleRPC(c *conn, pkt socketEventPacket) {
	if len(pkt.Args) < 1 {
		return
	}
	var item model.Item
	if err := json.Unmarshal(pkt.Args[0], &item); err != nil {
		_ = c.emit(eventRPC, s.failLayout("Bad request. "+err.Error(), http.StatusBadRequest, ""))
		return
	}

	sess := s.session(c)
	results, _ := s.dispatcher.ProcessBatch(context.Background(), sess, []model.Item{item})
	if len(results) == 0 {
		return
	}
	res := results[0]

	env := gin.H{
		"meta":   gin.H{"processed": true},
		"data":   res.Meta,
		"result": res.Result,
		"code":   res.Code,
		"action": res.Action,
		"method": res.Method,
		"host":   s.host,
	}
	_ = c.emit(eventRPC, env)
}

// handleSynchronization processes a previously uploaded package. Args:
// tid, protocol version. Status events stream while the exchange runs;
// the final synchronization event carries no payload, the client pulls
// the result through download.
func (s *Server) handleSynchronization(c *conn, pkt socketEventPacket) {
	if len(pkt.Args) < 2 {
		return
	}
	var tid, version string
	if json.Unmarshal(pkt.Args[0], &tid) != nil || tid == "" {
		return
	}
	if json.Unmarshal(pkt.Args[1], &version) != nil {
		return
	}
	if version != "v1" {
		_ = c.emit(eventSync, s.syncFail(tid, "unsupported protocol version "+version))
		return
	}

	sess := s.session(c)
	go func() {
		notify := func(stage syncdrv.Stage, tid string, elapsed time.Duration) {
			_ = c.emit(eventSyncStatus, s.okLayout(string(stage), tid))
		}
		if err := s.processor.ProcessStored(context.Background(), sess, tid, notify); err != nil {
			s.logger().Error("synchronization failed", "tid", tid, "login", c.principal.Login, "error", err)
			_ = c.emit(eventSync, s.syncFail(tid, err.Error()))
			return
		}
		env := s.okLayout([]byte{}, tid)
		delete(env, "tid")
		_ = c.emit(eventSync, env)
	}()
}

type uploadChunk struct {
	TID  string `json:"tid"`
	Data []byte `json:"data"`
}

// handleUpload appends one base64 chunk to the inbound package file.
func (s *Server) handleUpload(c *conn, pkt socketEventPacket) {
	if len(pkt.Args) < 1 {
		return
	}
	var chunk uploadChunk
	if err := json.Unmarshal(pkt.Args[0], &chunk); err != nil || chunk.TID == "" {
		_ = c.emit(eventUpload, s.failLayout("Bad request", http.StatusBadRequest, chunk.TID))
		return
	}
	if err := s.store.AppendInbound(chunk.TID, chunk.Data); err != nil {
		s.logger().Error("upload append failed", "tid", chunk.TID, "error", err)
		_ = c.emit(eventUpload, s.failLayout(err.Error(), http.StatusInternalServerError, chunk.TID))
		return
	}
	_ = c.emit(eventUpload, s.okLayout("", chunk.TID))
}

// handleDownload serves one position-addressed slice of the outbound
// package. Args: protocol version, position, chunk size, tid.
func (s *Server) handleDownload(c *conn, pkt socketEventPacket) {
	if len(pkt.Args) < 4 {
		return
	}
	var (
		version  string
		position int64
		size     int64
		tid      string
	)
	if json.Unmarshal(pkt.Args[0], &version) != nil ||
		json.Unmarshal(pkt.Args[1], &position) != nil ||
		json.Unmarshal(pkt.Args[2], &size) != nil ||
		json.Unmarshal(pkt.Args[3], &tid) != nil || tid == "" {
		return
	}

	env := gin.H{
		"meta":   gin.H{"processed": false},
		"data":   gin.H{"success": true, "msg": ""},
		"result": []byte{},
		"code":   http.StatusOK,
		"host":   s.host,
	}

	chunk, err := s.store.ReadChunk(tid, position, size)
	meta := env["meta"].(gin.H)
	meta["start"] = chunk.Start
	meta["totalLength"] = chunk.TotalLength
	if err != nil {
		s.logger().Error("download chunk failed", "tid", tid, "position", position, "error", err)
		env["data"] = gin.H{"success": false, "msg": err.Error()}
		meta["start"] = position
		_ = c.emit(eventDownload, env)
		return
	}

	env["result"] = chunk.Data
	if chunk.Final {
		meta["processed"] = true
	}
	_ = c.emit(eventDownload, env)
}

func (s *Server) session(c *conn) *rpc.Session {
	return &rpc.Session{Principal: c.principal, App: s.appName}
}

func (s *Server) okLayout(result any, tid string) gin.H {
	data := gin.H{
		"meta":   gin.H{"processed": true},
		"data":   gin.H{"success": true, "msg": ""},
		"result": result,
		"code":   http.StatusOK,
		"host":   s.host,
	}
	if tid != "" {
		data["tid"] = tid
		data["meta"].(gin.H)["tid"] = tid
	}
	return data
}

func (s *Server) failLayout(msg string, code int, tid string) gin.H {
	data := gin.H{
		"meta": gin.H{"processed": true},
		"data": gin.H{"success": false, "msg": msg},
		"code": code,
		"host": s.host,
	}
	if tid != "" {
		data["tid"] = tid
		data["meta"].(gin.H)["tid"] = tid
	}
	return data
}

func (s *Server) syncFail(tid, msg string) gin.H {
	env := s.failLayout(msg, http.StatusInternalServerError, tid)
	env["result"] = []byte{}
	delete(env, "tid")
	return env
}

type conn struct {
	ws *websocket.Conn

	sid string

	connected  atomic.Bool
	registered atomic.Bool

	principal *model.Principal

	sendMu sync.Mutex

	pingMu       sync.Mutex
	awaitingPong bool
	pingSentAt   time.Time
	nextPingAt   time.Time

	closed atomic.Bool
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:         ws,
		sid:        uuid.NewString(),
		principal:  model.Anonymous(),
		nextPingAt: time.Now().Add(25 * time.Second),
	}
}

func (c *conn) close() {
	if c.closed.Swap(true) {
		return
	}
	_ = c.ws.Close()
}

func (c *conn) writeText(msg string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *conn) emit(event string, args ...any) error {
	payload, err := buildSocketEventPacket("/", nil, event, args...)
	if err != nil {
		return err
	}
	return c.writeText(string(engineMessage) + payload)
}

// Write lets the connection registry push an already framed socket
// payload to this connection.
func (c *conn) Write(message []byte) error {
	return c.writeText(string(engineMessage) + string(message))
}

func (c *conn) Close() error {
	c.close()
	return nil
}

func (c *conn) readLoop(onMessage func(string)) {
	defer c.close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		onMessage(string(data))
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if c.closed.Load() {
			return
		}
		now := time.Now()
		c.pingMu.Lock()
		awaiting := c.awaitingPong
		pingSentAt := c.pingSentAt
		nextPingAt := c.nextPingAt
		if awaiting && now.Sub(pingSentAt) > 20*time.Second {
			c.pingMu.Unlock()
			c.close()
			return
		}
		if !awaiting && !now.Before(nextPingAt) {
			c.awaitingPong = true
			c.pingSentAt = now
			c.nextPingAt = now.Add(25 * time.Second)
			c.pingMu.Unlock()
			_ = c.writeText(string(enginePing))
			continue
		}
		c.pingMu.Unlock()
	}
}

func (c *conn) markPong() {
	c.pingMu.Lock()
	c.awaitingPong = false
	c.pingMu.Unlock()
}

func (s *Server) logger() *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return slog.Default()
}
