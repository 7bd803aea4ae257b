// Package subscriber implements the subscriber-side CLI's core loop: log
// in, then multiplex operator stdin commands against notification frames
// arriving on the same stream, mirroring the broker's own one-event-queue
// architecture on the client side.
package subscriber

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"

	"github.com/adred-codev/subscription-broker/internal/broker/codec"
)

// ErrLoginRejected is returned by Dial when the broker reports the client
// identifier already has an active stream.
var ErrLoginRejected = fmt.Errorf("subscriber: login rejected, identifier already active")

// Client is one logged-in subscriber stream.
type Client struct {
	conn   net.Conn
	id     string
	logger zerolog.Logger
}

// Dial connects to brokerAddr and performs the login handshake for id.
func Dial(brokerAddr, id string, logger zerolog.Logger) (*Client, error) {
	conn, err := net.Dial("tcp", brokerAddr)
	if err != nil {
		return nil, fmt.Errorf("subscriber: dial %s: %w", brokerAddr, err)
	}

	if err := codec.WriteControlFrame(conn, id); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscriber: send login: %w", err)
	}

	reply, err := codec.ReadControlFrame(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscriber: read login reply: %w", err)
	}
	if reply.Message != "Success" {
		conn.Close()
		return nil, ErrLoginRejected
	}

	return &Client{conn: conn, id: id, logger: logger}, nil
}

// Close releases the underlying stream.
func (c *Client) Close() error { return c.conn.Close() }

// Run drives the command loop: lines read from stdin become
// subscribe/unsubscribe/exit requests; frames arriving on the stream
// unprompted are printed as notifications. It returns when the stream ends
// or the broker sends Quit, ctx is canceled, or the operator issues "exit";
// the end of stdin alone does not end it.
//
// Exactly one reader goroutine owns the stream (readFrames) and one owns
// stdin (readLines); this loop is the only place either channel's values
// are consumed, so command replies and unprompted notifications are never
// read off the socket concurrently — they are the same channel, read in
// arrival order. Frames carry no request correlation, so a notification
// that arrives between a subscribe/unsubscribe request and its reply is
// taken as the reply.
func (c *Client) Run(ctx context.Context, stdin io.Reader, out io.Writer) error {
	lines := readLines(stdin)
	frames := readFrames(c.conn)

	for {
		select {
		case <-ctx.Done():
			codec.WriteControlFrame(c.conn, "Quit")
			return nil

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if done, err := c.handleCommand(line, frames, out); done || err != nil {
				return err
			}

		case frame, ok := <-frames:
			if !ok {
				fmt.Fprintln(out, "connection closed by broker")
				return nil
			}
			if frame.Message == "Quit" {
				fmt.Fprintln(out, "disconnected by broker")
				return nil
			}
			fmt.Fprintln(out, frame.Message)
		}
	}
}

// handleCommand processes one operator-typed line. For subscribe/unsubscribe
// it writes the request then waits for the very next frame as the reply, the
// same assumption the protocol's synchronous request/reply pair relies on.
func (c *Client) handleCommand(line string, frames <-chan codec.ControlFrame, out io.Writer) (done bool, err error) {
	verb, _ := splitVerb(line)
	switch verb {
	case "subscribe", "unsubscribe":
		if err := codec.WriteControlFrame(c.conn, line); err != nil {
			return true, fmt.Errorf("subscriber: send %s: %w", verb, err)
		}
		reply, ok := <-frames
		if !ok {
			fmt.Fprintln(out, "connection closed by broker")
			return true, nil
		}
		if reply.Message == "Quit" {
			fmt.Fprintln(out, "disconnected by broker")
			return true, nil
		}
		fmt.Fprintf(out, "%s: %s\n", verb, reply.Message)
		return false, nil

	case "exit":
		codec.WriteControlFrame(c.conn, "Quit")
		return true, nil

	default:
		fmt.Fprintf(out, "unlisted command %q\n", line)
		return false, nil
	}
}

func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			out <- scanner.Text()
		}
	}()
	return out
}

func readFrames(conn net.Conn) <-chan codec.ControlFrame {
	out := make(chan codec.ControlFrame)
	go func() {
		defer close(out)
		for {
			frame, err := codec.ReadControlFrame(conn)
			if err != nil {
				return
			}
			out <- frame
		}
	}()
	return out
}

func splitVerb(message string) (verb, arg string) {
	for i := 0; i < len(message); i++ {
		if message[i] == ' ' {
			return message[:i], message[i+1:]
		}
	}
	return message, ""
}
