package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to a daemon over its unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon socket. The connection is established lazily
// on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, method string, req, reply any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return err
	}
	return fromStruct(out, reply)
}

func (c *Client) GetStatus(ctx context.Context) (*StatusReply, error) {
	reply := new(StatusReply)
	return reply, c.invoke(ctx, "GetStatus", &StatusRequest{}, reply)
}

func (c *Client) ListChats(ctx context.Context, query string) (*ListChatsReply, error) {
	reply := new(ListChatsReply)
	return reply, c.invoke(ctx, "ListChats", &ListChatsRequest{Query: query}, reply)
}

func (c *Client) GetChat(ctx context.Context, key string) (*Chat, error) {
	reply := new(Chat)
	return reply, c.invoke(ctx, "GetChat", &ChatRequest{Key: key}, reply)
}

func (c *Client) SetActive(ctx context.Context, key string) (*SetActiveReply, error) {
	reply := new(SetActiveReply)
	return reply, c.invoke(ctx, "SetActive", &ChatRequest{Key: key}, reply)
}

func (c *Client) SendText(ctx context.Context, key, text string) (*SendReply, error) {
	reply := new(SendReply)
	return reply, c.invoke(ctx, "SendText", &SendTextRequest{Key: key, Text: text}, reply)
}

func (c *Client) SendMedia(ctx context.Context, key, kind, path string) (*SendReply, error) {
	reply := new(SendReply)
	return reply, c.invoke(ctx, "SendMedia", &SendMediaRequest{Key: key, Kind: kind, Path: path}, reply)
}

func (c *Client) ListOutbound(ctx context.Context, limit int) (*ListOutboundReply, error) {
	reply := new(ListOutboundReply)
	return reply, c.invoke(ctx, "ListOutbound", &ListOutboundRequest{Limit: limit}, reply)
}

// Reset discards the daemon's conversations, aliases and stored snapshot.
func (c *Client) Reset(ctx context.Context) (*ResetReply, error) {
	reply := new(ResetReply)
	return reply, c.invoke(ctx, "Reset", &ResetRequest{}, reply)
}

// WatchEvents streams events under prefix to fn until ctx is cancelled, the
// daemon goes away or fn returns an error.
func (c *Client) WatchEvents(ctx context.Context, prefix string, fn func(*Envelope) error) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("WatchEvents"))
	if err != nil {
		return err
	}
	in, err := toStruct(&WatchRequest{Prefix: prefix})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		env := new(Envelope)
		if err := fromStruct(out, env); err != nil {
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}
