package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/peerbridge/peerbridge/internal/util"
)

// Client is a connected signaling session. All sends are serialized by an
// internal mutex; inbound messages are dispatched from a single background
// read-loop goroutine to whichever callbacks the caller registered.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex

	onConnect            func()
	onPeerConnectionReq  func(from string)
	onPeerInfo           func(username, ip string, port int)
	onPeerConnectionInit func(username, ip string, port int)

	done chan struct{}
}

// Connect dials the signaling server at url and starts the background read
// loop. The caller should register callbacks before sending anything.
func Connect(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling: dial %s: %w", url, err)
	}

	c := &Client{conn: conn, done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

// OnConnect registers the callback invoked on a server "greet-back" or
// "register-ack" message.
func (c *Client) OnConnect(fn func()) { c.onConnect = fn }

// OnPeerConnectionRequest registers the callback invoked on a server
// "chat-request{from}" message.
func (c *Client) OnPeerConnectionRequest(fn func(from string)) { c.onPeerConnectionReq = fn }

// OnPeerInfo registers the callback invoked on a server
// "peer-info{username, ip, port}" message.
func (c *Client) OnPeerInfo(fn func(username, ip string, port int)) { c.onPeerInfo = fn }

// OnPeerConnectionInit registers the callback invoked on a server
// "chat-init{username, ip, port}" message.
func (c *Client) OnPeerConnectionInit(fn func(username, ip string, port int)) {
	c.onPeerConnectionInit = fn
}

func (c *Client) send(msg message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Greeting sends the initial handshake message.
func (c *Client) Greeting() error { return c.send(message{Type: MsgGreeting}) }

// Register announces this endpoint's username and reachable address.
func (c *Client) Register(username, ip string, port int) error {
	return c.send(message{Type: MsgRegister, Username: username, IP: ip, Port: port})
}

// GetName asks the server for this endpoint's assigned name.
func (c *Client) GetName() error { return c.send(message{Type: MsgGetName}) }

// GetPeer asks the server for a named peer's registered address.
func (c *Client) GetPeer(username string) error {
	return c.send(message{Type: MsgGetPeer, Username: username})
}

// StartChat requests a connection to the named target.
func (c *Client) StartChat(target string) error {
	return c.send(message{Type: MsgStartChat, Target: target})
}

// ChatAccept accepts a pending incoming connection request.
func (c *Client) ChatAccept() error { return c.send(message{Type: MsgChatAccept}) }

// ChatDecline rejects a pending incoming connection request.
func (c *Client) ChatDecline() error { return c.send(message{Type: MsgChatDecline}) }

// Close closes the underlying WebSocket connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Done returns a channel closed once the read loop exits (the connection
// was closed locally or by the server).
func (c *Client) Done() <-chan struct{} { return c.done }

// readLoop dispatches every inbound message to the matching registered
// callback. Unknown types are logged and dropped. Exits when the
// connection closes.
func (c *Client) readLoop() {
	defer close(c.done)

	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			util.LogWarning("signaling: connection closed: %v", err)
			return
		}

		switch msg.Type {
		case MsgGreetBack, MsgRegisterAck:
			if c.onConnect != nil {
				c.onConnect()
			}
		case MsgYourName:
			util.LogInfo("signaling: assigned name %q", msg.Username)
		case MsgPeerInfo:
			if c.onPeerInfo != nil {
				c.onPeerInfo(msg.Username, msg.IP, msg.Port)
			}
		case MsgChatRequest:
			if c.onPeerConnectionReq != nil {
				c.onPeerConnectionReq(msg.From)
			}
		case MsgChatInit:
			if c.onPeerConnectionInit != nil {
				c.onPeerConnectionInit(msg.Username, msg.IP, msg.Port)
			}
		case MsgError:
			util.LogWarning("signaling: server error: %s", msg.Message)
		default:
			util.LogWarning("signaling: dropping message of unknown type %q", msg.Type)
		}
	}
}
