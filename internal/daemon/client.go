package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrConnectionClosed is returned once the daemon hangs up.
var ErrConnectionClosed = errors.New("connection closed")

// maxLine caps one NDJSON message; a full catalog listing fits well inside.
const maxLine = 1 << 20

// Client speaks the NDJSON protocol over one daemon connection. A client is
// either a command connection or, after Subscribe, an event stream.
type Client struct {
	conn  net.Conn
	lines *bufio.Scanner
	mu    sync.Mutex
}

// Connect dials the daemon socket.
func Connect(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	lines := bufio.NewScanner(conn)
	lines.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Client{conn: conn, lines: lines}, nil
}

// Close hangs up. A ReadEvent blocked on the connection returns an error.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// SendCommand writes cmd and waits for its response line.
func (c *Client) SendCommand(cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("marshal command: %w", err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return Response{}, fmt.Errorf("write %s: %w", cmd.Cmd, err)
	}

	var resp Response
	if err := c.decodeLine(&resp); err != nil {
		return Response{}, fmt.Errorf("%s response: %w", cmd.Cmd, err)
	}
	return resp, nil
}

// Subscribe asks for the named events (all when none are given) and turns
// the connection into an event stream; from then on use ReadEvent only.
func (c *Client) Subscribe(events ...string) error {
	resp, err := c.SendCommand(Command{Cmd: CmdSubscribe, Events: events})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("subscribe: %s", resp.Error)
	}
	return nil
}

// ReadEvent waits for the next event on a subscribed connection.
func (c *Client) ReadEvent() (Event, error) {
	var ev Event
	if err := c.decodeLine(&ev); err != nil {
		return Event{}, fmt.Errorf("event: %w", err)
	}
	return ev, nil
}

func (c *Client) decodeLine(v any) error {
	if !c.lines.Scan() {
		if err := c.lines.Err(); err != nil {
			return err
		}
		return ErrConnectionClosed
	}
	return json.Unmarshal(c.lines.Bytes(), v)
}
